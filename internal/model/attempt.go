package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates the attempt lifecycle states. IN_PROGRESS is the
// only non-terminal state; SUBMITTED and TIMED_OUT are both final.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusSubmitted  AttemptStatus = "SUBMITTED"
	AttemptStatusTimedOut   AttemptStatus = "TIMED_OUT"
)

// Attempt is a student's single permitted try at one exam. At most one row
// exists per (exam_id, student_id); once IsFinal is set the row is immutable
// and no further attempt may be created for the pair.
type Attempt struct {
	ID          uuid.UUID     `json:"id"`
	ExamID      uuid.UUID     `json:"exam_id"`
	StudentID   int64         `json:"student_id"`
	Status      AttemptStatus `json:"status"`
	IsFinal     bool          `json:"is_final"`
	StartedAt   time.Time     `json:"started_at"`
	FinalizedAt *time.Time    `json:"finalized_at,omitempty"`
}

// AttemptState is returned on attempt start/resume and on page reload. The
// client anchors its countdown to ServerNow, never to its own wall clock.
type AttemptState struct {
	Attempt          *Attempt          `json:"attempt"`
	ServerNow        time.Time         `json:"server_now"`
	EndsAt           time.Time         `json:"ends_at"`
	RemainingSeconds float64           `json:"remaining_seconds"`
	SavedAnswers     map[string]string `json:"saved_answers"`
}

// AutosaveRequest is the payload for saving a single answer mid-attempt.
type AutosaveRequest struct {
	QuestionID string `json:"question_id" binding:"required,uuid"`
	Answer     string `json:"answer" binding:"required,max=20000"`
}

// SubmitRequest is the payload for a manual finalize. Answers not previously
// autosaved may be supplied inline, keyed by question ID.
type SubmitRequest struct {
	Answers map[string]string `json:"answers" binding:"omitempty"`
}
