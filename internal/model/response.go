package model

import (
	"time"

	"github.com/google/uuid"
)

// Response is one student-provided answer to one question within an attempt.
// For objective questions Answer holds the selected option letter; for essay
// questions it holds the free-text answer. Grading fields stay NULL until a
// grader acts, and may be written exactly once.
type Response struct {
	ID             uuid.UUID  `json:"id"`
	AttemptID      uuid.UUID  `json:"attempt_id"`
	QuestionID     uuid.UUID  `json:"question_id"`
	Answer         string     `json:"answer"`
	AwardedMarks   *float64   `json:"awarded_marks,omitempty"`
	GraderFeedback *string    `json:"grader_feedback,omitempty"`
	GradedAt       *time.Time `json:"graded_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// GradeRequest is the payload for awarding essay marks.
type GradeRequest struct {
	AwardedMarks float64 `json:"awarded_marks" binding:"min=0"`
	Feedback     string  `json:"feedback" binding:"omitempty,max=5000"`
}

// GradingProgress summarizes how far essay grading has advanced for one
// finalized attempt.
type GradingProgress struct {
	AttemptID      uuid.UUID `json:"attempt_id"`
	EssayQuestions int       `json:"essay_questions"`
	Graded         int       `json:"graded"`
	MarksAwarded   float64   `json:"marks_awarded"`
	MarksPossible  float64   `json:"marks_possible"`
}
