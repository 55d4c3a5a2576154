package model

import (
	"time"

	"github.com/google/uuid"
)

// Result is the auto-graded aggregate over the objective questions of a
// finalized attempt. It is computed once during finalization and never
// mutated afterwards.
type Result struct {
	AttemptID  uuid.UUID `json:"attempt_id"`
	Score      int       `json:"score"`
	Total      int       `json:"total"`
	Percentage float64   `json:"percentage"`
	GradedAt   time.Time `json:"graded_at"`
}
