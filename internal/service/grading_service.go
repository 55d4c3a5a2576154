package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/openexam/openexam-backend/internal/model"
)

// GradingStore is the persistence surface essay grading depends on.
type GradingStore interface {
	GetByID(ctx context.Context, responseID uuid.UUID) (*model.Response, *model.Question, error)
	Grade(ctx context.Context, responseID uuid.UUID, marks float64, feedback *string) (bool, error)
	Progress(ctx context.Context, attemptID uuid.UUID) (*model.GradingProgress, error)
}

// GradingService handles lecturer essay grading.
type GradingService struct {
	responseRepo GradingStore
	attemptRepo  AttemptStore
	log          zerolog.Logger
}

// NewGradingService creates a new GradingService.
func NewGradingService(responseRepo GradingStore, attemptRepo AttemptStore, log zerolog.Logger) *GradingService {
	return &GradingService{
		responseRepo: responseRepo,
		attemptRepo:  attemptRepo,
		log:          log.With().Str("component", "grading_service").Logger(),
	}
}

// Grade awards marks for one essay response. Marks must fall within
// [0, max_marks] of the question; out-of-range values are rejected, never
// clamped. A response may be graded exactly once, and only after its attempt
// is final.
func (s *GradingService) Grade(ctx context.Context, responseID uuid.UUID, marks float64, feedback string) (*model.Response, error) {
	resp, question, err := s.responseRepo.GetByID(ctx, responseID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrResponseNotFound
		}
		return nil, fmt.Errorf("get response: %w", err)
	}

	if question.QuestionType != model.QuestionTypeEssay {
		return nil, ErrNotEssay
	}
	if marks < 0 || marks > question.MaxMarks {
		return nil, ErrOutOfRangeMarks
	}
	if resp.AwardedMarks != nil {
		return nil, ErrAlreadyGraded
	}

	attempt, err := s.attemptRepo.GetByID(ctx, resp.AttemptID)
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if !attempt.IsFinal {
		return nil, ErrAttemptNotFinal
	}

	var fb *string
	if feedback != "" {
		fb = &feedback
	}
	applied, err := s.responseRepo.Grade(ctx, responseID, marks, fb)
	if err != nil {
		return nil, fmt.Errorf("grade response: %w", err)
	}
	if !applied {
		// Lost a race with another grader, or the guard saw stale state.
		return nil, ErrAlreadyGraded
	}

	s.log.Info().
		Str("response_id", responseID.String()).
		Float64("marks", marks).
		Msg("essay response graded")

	graded, _, err := s.responseRepo.GetByID(ctx, responseID)
	if err != nil {
		return nil, fmt.Errorf("reload response: %w", err)
	}
	return graded, nil
}

// Progress reports how far essay grading has advanced for one attempt.
func (s *GradingService) Progress(ctx context.Context, attemptID uuid.UUID) (*model.GradingProgress, error) {
	attempt, err := s.attemptRepo.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if !attempt.IsFinal {
		return nil, ErrAttemptNotFinal
	}
	progress, err := s.responseRepo.Progress(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("grading progress: %w", err)
	}
	return progress, nil
}
