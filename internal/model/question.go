package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// QuestionType distinguishes auto-gradable objective questions from
// essay questions that require a human grader.
type QuestionType string

const (
	QuestionTypeObjective QuestionType = "OBJECTIVE"
	QuestionTypeEssay     QuestionType = "ESSAY"
)

// Question represents a single exam question. Objective questions carry a
// designated correct option (a single letter); essay questions carry the
// maximum marks a grader may award.
type Question struct {
	ID            uuid.UUID       `json:"id"`
	ExamID        uuid.UUID       `json:"exam_id"`
	QuestionType  QuestionType    `json:"question_type"`
	QuestionText  string          `json:"question_text"`
	Options       json.RawMessage `json:"options,omitempty"`
	CorrectOption string          `json:"correct_option,omitempty"`
	MaxMarks      float64         `json:"max_marks,omitempty"`
	OrderNum      int             `json:"order_num"`
}

// QuestionForStudent is a question stripped of its answer key, safe to send
// to a student during an attempt.
type QuestionForStudent struct {
	ID           uuid.UUID       `json:"id"`
	QuestionType QuestionType    `json:"question_type"`
	QuestionText string          `json:"question_text"`
	Options      json.RawMessage `json:"options,omitempty"`
	MaxMarks     float64         `json:"max_marks,omitempty"`
	OrderNum     int             `json:"order_num"`
}

// ForStudent returns the student-safe projection of the question.
func (q *Question) ForStudent() QuestionForStudent {
	return QuestionForStudent{
		ID:           q.ID,
		QuestionType: q.QuestionType,
		QuestionText: q.QuestionText,
		Options:      q.Options,
		MaxMarks:     q.MaxMarks,
		OrderNum:     q.OrderNum,
	}
}
