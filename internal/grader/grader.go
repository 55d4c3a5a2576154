// Package grader scores the objective portion of a finalized attempt.
// Scoring is pure: given the same questions and answers it always produces
// the same outcome, so results can be re-derived for display without side
// effects. Persistence happens elsewhere, once, during finalization.
package grader

import (
	"strings"

	"github.com/openexam/openexam-backend/internal/model"
)

// Outcome is the aggregate score over an exam's objective questions.
type Outcome struct {
	Score      int     `json:"score"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// Grade compares each objective question's designated correct option against
// the student's answer, keyed by question ID. The comparison is a
// case-insensitive single-letter match. Unanswered questions count as
// incorrect. Essay questions are skipped entirely; they are graded by a
// human after finalization.
//
// When the exam has no objective questions the percentage is 0, not an error.
func Grade(questions []model.Question, answers map[string]string) Outcome {
	var out Outcome

	for _, q := range questions {
		if q.QuestionType != model.QuestionTypeObjective {
			continue
		}
		out.Total++

		selected := strings.TrimSpace(answers[q.ID.String()])
		if selected == "" {
			continue
		}
		if strings.EqualFold(selected, q.CorrectOption) {
			out.Score++
		}
	}

	if out.Total > 0 {
		out.Percentage = float64(out.Score) / float64(out.Total) * 100
	}

	return out
}
