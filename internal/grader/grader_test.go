package grader

import (
	"testing"

	"github.com/google/uuid"

	"github.com/openexam/openexam-backend/internal/model"
)

func objective(correct string) model.Question {
	return model.Question{
		ID:            uuid.New(),
		QuestionType:  model.QuestionTypeObjective,
		CorrectOption: correct,
	}
}

func essay(maxMarks float64) model.Question {
	return model.Question{
		ID:           uuid.New(),
		QuestionType: model.QuestionTypeEssay,
		MaxMarks:     maxMarks,
	}
}

func TestGrade(t *testing.T) {
	qA := objective("A")
	qB := objective("B")
	qEssay := essay(10)

	tests := []struct {
		name       string
		questions  []model.Question
		answers    map[string]string
		score      int
		total      int
		percentage float64
	}{
		{
			name:       "one of two correct",
			questions:  []model.Question{qA, qB},
			answers:    map[string]string{qA.ID.String(): "A", qB.ID.String(): "C"},
			score:      1,
			total:      2,
			percentage: 50,
		},
		{
			name:       "all correct",
			questions:  []model.Question{qA, qB},
			answers:    map[string]string{qA.ID.String(): "A", qB.ID.String(): "B"},
			score:      2,
			total:      2,
			percentage: 100,
		},
		{
			name:       "case-insensitive match",
			questions:  []model.Question{qA, qB},
			answers:    map[string]string{qA.ID.String(): "a", qB.ID.String(): "b"},
			score:      2,
			total:      2,
			percentage: 100,
		},
		{
			name:       "unanswered counts as incorrect",
			questions:  []model.Question{qA, qB},
			answers:    map[string]string{qA.ID.String(): "A"},
			score:      1,
			total:      2,
			percentage: 50,
		},
		{
			name:       "no answers at all",
			questions:  []model.Question{qA, qB},
			answers:    nil,
			score:      0,
			total:      2,
			percentage: 0,
		},
		{
			name:       "whitespace answer counts as unanswered",
			questions:  []model.Question{qA},
			answers:    map[string]string{qA.ID.String(): "   "},
			score:      0,
			total:      1,
			percentage: 0,
		},
		{
			name:       "essay questions excluded from total",
			questions:  []model.Question{qA, qEssay},
			answers:    map[string]string{qA.ID.String(): "A", qEssay.ID.String(): "long essay text"},
			score:      1,
			total:      1,
			percentage: 100,
		},
		{
			name:       "zero objective questions yields zero percent not an error",
			questions:  []model.Question{qEssay},
			answers:    map[string]string{qEssay.ID.String(): "long essay text"},
			score:      0,
			total:      0,
			percentage: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Grade(tc.questions, tc.answers)
			if got.Score != tc.score {
				t.Fatalf("expected score=%d, got=%d", tc.score, got.Score)
			}
			if got.Total != tc.total {
				t.Fatalf("expected total=%d, got=%d", tc.total, got.Total)
			}
			if got.Percentage != tc.percentage {
				t.Fatalf("expected percentage=%v, got=%v", tc.percentage, got.Percentage)
			}
		})
	}
}

func TestGradeIsDeterministic(t *testing.T) {
	qA := objective("A")
	qB := objective("B")
	answers := map[string]string{qA.ID.String(): "A", qB.ID.String(): "D"}
	questions := []model.Question{qA, qB}

	first := Grade(questions, answers)
	for i := 0; i < 10; i++ {
		if got := Grade(questions, answers); got != first {
			t.Fatalf("grade changed between calls: %+v vs %+v", first, got)
		}
	}
}
