package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/openexam/openexam-backend/internal/config"
	"github.com/openexam/openexam-backend/internal/countdown"
	"github.com/openexam/openexam-backend/internal/grader"
	"github.com/openexam/openexam-backend/internal/model"
	"github.com/openexam/openexam-backend/internal/repository"
)

// AttemptStore is the attempt persistence surface the service depends on.
type AttemptStore interface {
	GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int64) (*model.Attempt, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	Create(ctx context.Context, a *model.Attempt) error
	Finalize(ctx context.Context, p repository.FinalizeParams) (*model.Attempt, bool, error)
	GetResult(ctx context.Context, attemptID uuid.UUID) (*model.Result, error)
	ListResponses(ctx context.Context, attemptID uuid.UUID) ([]model.Response, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]repository.OverdueAttempt, error)
	ListFinalizedByExam(ctx context.Context, examID uuid.UUID) ([]repository.FinalizedAttempt, error)
}

// ExamStore is the exam persistence surface the service depends on.
type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// ResponseStore is the per-answer persistence surface the service depends on.
type ResponseStore interface {
	UpsertAnswer(ctx context.Context, attemptID, questionID uuid.UUID, answer string) (bool, error)
}

// persistAnswerPayload is the queue item the autosave worker consumes.
type persistAnswerPayload struct {
	AttemptID  string `json:"attempt_id"`
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

// AttemptService handles the attempt lifecycle: admission, countdown state,
// autosave, and the single idempotent finalization.
type AttemptService struct {
	attemptRepo  AttemptStore
	examRepo     ExamStore
	responseRepo ResponseStore
	rdb          *redis.Client
	log          zerolog.Logger
	now          func() time.Time
}

// NewAttemptService creates a new AttemptService. rdb may be nil, in which
// case autosaves go straight to the database and countdown state is served
// from the database on every call.
func NewAttemptService(
	attemptRepo AttemptStore,
	examRepo ExamStore,
	responseRepo ResponseStore,
	rdb *redis.Client,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		attemptRepo:  attemptRepo,
		examRepo:     examRepo,
		responseRepo: responseRepo,
		rdb:          rdb,
		log:          log.With().Str("component", "attempt_service").Logger(),
		now:          time.Now,
	}
}

// Start admits a student into an exam or resumes their existing in-progress
// attempt. Exactly one attempt ever exists per (exam, student): the unique
// index decides races, and a lost insert resolves to the winner's row. A
// final attempt, or an in-progress one whose deadline already passed, is
// rejected with ErrAlreadyAttempted.
func (s *AttemptService) Start(ctx context.Context, examID uuid.UUID, studentID int64) (*model.AttemptState, error) {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if exam.Status != model.ExamStatusPublished {
		return nil, ErrExamNotAvailable
	}

	existing, err := s.attemptRepo.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check existing attempt: %w", err)
	}

	if existing != nil {
		return s.resume(ctx, exam, existing)
	}

	attempt := &model.Attempt{
		ExamID:    examID,
		StudentID: studentID,
		Status:    model.AttemptStatusInProgress,
	}
	if err := s.attemptRepo.Create(ctx, attempt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Concurrent start. The winning row is the attempt.
			winner, fetchErr := s.attemptRepo.GetByExamAndStudent(ctx, examID, studentID)
			if fetchErr != nil {
				return nil, fmt.Errorf("concurrent start detected, but fetch failed: %w", fetchErr)
			}
			return s.resume(ctx, exam, winner)
		}
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	s.cacheStart(ctx, exam, attempt)
	return s.state(ctx, exam, attempt)
}

// resume returns the state of an existing attempt, lazily timing it out first
// when its deadline has already passed.
func (s *AttemptService) resume(ctx context.Context, exam *model.Exam, attempt *model.Attempt) (*model.AttemptState, error) {
	if attempt.IsFinal {
		return nil, ErrAlreadyAttempted
	}
	if s.deadlinePassed(exam, attempt) {
		if _, err := s.finalize(ctx, exam, attempt, model.AttemptStatusTimedOut, nil); err != nil {
			return nil, err
		}
		return nil, ErrAlreadyAttempted
	}
	s.cacheStart(ctx, exam, attempt)
	return s.state(ctx, exam, attempt)
}

// State reports the authoritative countdown anchor plus the autosaved answer
// buffer so a reloading client can reconstruct the exact same countdown. The
// start epoch is served from Redis with a database fallback that self-heals
// the cache.
func (s *AttemptService) State(ctx context.Context, examID uuid.UUID, studentID int64) (*model.AttemptState, error) {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}

	attempt, err := s.getAttempt(ctx, examID, studentID)
	if err != nil {
		return nil, err
	}

	if !attempt.IsFinal && s.deadlinePassed(exam, attempt) {
		// Reload after the deadline. Collapse to TIMED_OUT before reporting.
		attempt, err = s.finalize(ctx, exam, attempt, model.AttemptStatusTimedOut, nil)
		if err != nil {
			return nil, err
		}
	}

	return s.state(ctx, exam, attempt)
}

// state assembles the AttemptState payload for one attempt.
func (s *AttemptService) state(ctx context.Context, exam *model.Exam, attempt *model.Attempt) (*model.AttemptState, error) {
	startedAt, err := s.startEpoch(ctx, exam, attempt)
	if err != nil {
		return nil, err
	}

	now := s.now()
	anchor := countdown.Anchor{ServerNow: now, StartedAt: startedAt, Duration: exam.Duration()}
	remaining := countdown.NewClock(anchor, now).Remaining(now)

	answers, err := s.bufferedAnswers(ctx, attempt)
	if err != nil {
		return nil, err
	}

	return &model.AttemptState{
		Attempt:          attempt,
		ServerNow:        now,
		EndsAt:           anchor.EndsAt(),
		RemainingSeconds: remaining.Seconds(),
		SavedAnswers:     answers,
	}, nil
}

// deadlinePassed reports whether the attempt's countdown has reached zero on
// the server clock.
func (s *AttemptService) deadlinePassed(exam *model.Exam, attempt *model.Attempt) bool {
	anchor := countdown.Anchor{ServerNow: s.now(), StartedAt: attempt.StartedAt, Duration: exam.Duration()}
	return !s.now().Before(anchor.EndsAt())
}

// startEpoch resolves the attempt's start time. Redis is just an
// acceleration layer; a miss falls back to the attempt row and self-heals
// the cache.
func (s *AttemptService) startEpoch(ctx context.Context, exam *model.Exam, attempt *model.Attempt) (time.Time, error) {
	if s.rdb == nil {
		return attempt.StartedAt, nil
	}

	startKey := config.CacheKey.AttemptStartKey(exam.ID.String(), attempt.StudentID)
	val, err := s.rdb.Get(ctx, startKey).Result()
	if errors.Is(err, redis.Nil) {
		_ = s.rdb.Set(ctx, startKey, attempt.StartedAt.Unix(), 0)
		return attempt.StartedAt, nil
	}
	if err != nil {
		// Degrade to the database rather than failing the reload.
		s.log.Warn().Err(err).Msg("redis start epoch lookup failed, using database")
		return attempt.StartedAt, nil
	}

	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start epoch in cache: %w", err)
	}
	return time.Unix(unix, 0), nil
}

// Autosave records one answer mid-attempt. The write lands in the Redis
// buffer immediately and is pushed onto the persistence queue for the
// background worker; without Redis it goes straight to the database. A final
// attempt rejects the save, and a save after the deadline first collapses
// the attempt to TIMED_OUT.
func (s *AttemptService) Autosave(ctx context.Context, examID uuid.UUID, studentID int64, questionID uuid.UUID, answer string) error {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrExamNotFound
		}
		return fmt.Errorf("get exam: %w", err)
	}

	attempt, err := s.getAttempt(ctx, examID, studentID)
	if err != nil {
		return err
	}
	if attempt.IsFinal {
		return ErrAlreadyFinal
	}
	if s.deadlinePassed(exam, attempt) {
		if _, err := s.finalize(ctx, exam, attempt, model.AttemptStatusTimedOut, nil); err != nil {
			return err
		}
		return ErrAlreadyFinal
	}

	if ok, err := s.questionBelongs(ctx, examID, questionID); err != nil {
		return err
	} else if !ok {
		return ErrQuestionNotInExam
	}

	if s.rdb == nil {
		if _, err := s.responseRepo.UpsertAnswer(ctx, attempt.ID, questionID, answer); err != nil {
			return fmt.Errorf("persist answer: %w", err)
		}
		return nil
	}

	answersKey := config.CacheKey.AttemptAnswersKey(examID.String(), studentID)
	if err := s.rdb.HSet(ctx, answersKey, questionID.String(), answer).Err(); err != nil {
		return fmt.Errorf("buffer answer: %w", err)
	}

	payload, err := json.Marshal(persistAnswerPayload{
		AttemptID:  attempt.ID.String(),
		QuestionID: questionID.String(),
		Answer:     answer,
	})
	if err != nil {
		return fmt.Errorf("marshal persist payload: %w", err)
	}
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistResponsesQueue, payload).Err(); err != nil {
		// The buffer already holds the answer; finalization merges it in.
		s.log.Warn().Err(err).Msg("failed to enqueue answer persistence")
	}
	return nil
}

// FinalizeManual submits an attempt on the student's request. Inline answers
// are merged over the autosave buffer before grading. A submit that arrives
// after the deadline is honored but recorded as TIMED_OUT. Repeated calls
// return the already-persisted terminal attempt.
func (s *AttemptService) FinalizeManual(ctx context.Context, examID uuid.UUID, studentID int64, inline map[string]string) (*model.Attempt, error) {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}

	attempt, err := s.getAttempt(ctx, examID, studentID)
	if err != nil {
		return nil, err
	}
	if attempt.IsFinal {
		return attempt, nil
	}

	status := model.AttemptStatusSubmitted
	if s.deadlinePassed(exam, attempt) {
		status = model.AttemptStatusTimedOut
	}
	return s.finalize(ctx, exam, attempt, status, inline)
}

// FinalizeTimeout collapses an attempt to TIMED_OUT once its deadline has
// passed. Safe to call from the client countdown, a page reload, and the
// background sweeper at once: only one caller applies the transition and
// everyone observes the same terminal state.
func (s *AttemptService) FinalizeTimeout(ctx context.Context, examID uuid.UUID, studentID int64) (*model.Attempt, error) {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}

	attempt, err := s.getAttempt(ctx, examID, studentID)
	if err != nil {
		return nil, err
	}
	if attempt.IsFinal {
		return attempt, nil
	}
	if !s.deadlinePassed(exam, attempt) {
		return nil, ErrDeadlineNotReached
	}
	return s.finalize(ctx, exam, attempt, model.AttemptStatusTimedOut, nil)
}

// finalize merges persisted responses, the Redis buffer and any inline
// answers, auto-grades the objective questions, and applies the terminal
// transition. The repository's compare-and-set decides the race; losers get
// the winner's persisted attempt.
func (s *AttemptService) finalize(ctx context.Context, exam *model.Exam, attempt *model.Attempt, status model.AttemptStatus, inline map[string]string) (*model.Attempt, error) {
	questions, err := s.examRepo.ListQuestions(ctx, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	known := make(map[uuid.UUID]struct{}, len(questions))
	for _, q := range questions {
		known[q.ID] = struct{}{}
	}

	merged := make(map[uuid.UUID]string)

	persisted, err := s.attemptRepo.ListResponses(ctx, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	for _, resp := range persisted {
		merged[resp.QuestionID] = resp.Answer
	}

	if s.rdb != nil {
		answersKey := config.CacheKey.AttemptAnswersKey(exam.ID.String(), attempt.StudentID)
		buffered, err := s.rdb.HGetAll(ctx, answersKey).Result()
		if err != nil {
			s.log.Warn().Err(err).Msg("failed to read autosave buffer, grading persisted answers only")
		}
		mergeAnswers(merged, buffered, known)
	}
	mergeAnswers(merged, inline, known)

	byQuestion := make(map[string]string, len(merged))
	for qid, answer := range merged {
		byQuestion[qid.String()] = answer
	}
	outcome := grader.Grade(questions, byQuestion)

	final, applied, err := s.attemptRepo.Finalize(ctx, repository.FinalizeParams{
		AttemptID: attempt.ID,
		Status:    status,
		Answers:   merged,
		Result: &model.Result{
			AttemptID:  attempt.ID,
			Score:      outcome.Score,
			Total:      outcome.Total,
			Percentage: outcome.Percentage,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("finalize attempt: %w", err)
	}

	if applied {
		s.log.Info().
			Str("attempt_id", attempt.ID.String()).
			Str("status", string(status)).
			Int("score", outcome.Score).
			Int("total", outcome.Total).
			Msg("attempt finalized")
		s.dropAttemptCache(ctx, exam.ID, attempt.StudentID)
	}
	return final, nil
}

// Result returns the auto-graded objective score of a finalized attempt.
func (s *AttemptService) Result(ctx context.Context, examID uuid.UUID, studentID int64) (*model.Result, error) {
	attempt, err := s.getAttempt(ctx, examID, studentID)
	if err != nil {
		return nil, err
	}
	if !attempt.IsFinal {
		return nil, ErrAttemptNotFinal
	}
	result, err := s.attemptRepo.GetResult(ctx, attempt.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get result: %w", err)
	}
	return result, nil
}

// SweepOverdue finds in-progress attempts past their deadline and collapses
// each to TIMED_OUT. Returns how many attempts this sweep finalized.
func (s *AttemptService) SweepOverdue(ctx context.Context, limit int) (int, error) {
	overdue, err := s.attemptRepo.ListOverdue(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list overdue: %w", err)
	}

	finalized := 0
	for _, o := range overdue {
		if _, err := s.FinalizeTimeout(ctx, o.ExamID, o.StudentID); err != nil {
			s.log.Error().Err(err).
				Str("attempt_id", o.AttemptID.String()).
				Msg("sweep failed to finalize attempt")
			continue
		}
		finalized++
	}
	return finalized, nil
}

// ListFinalized returns the terminal attempts of an exam for lecturer review.
func (s *AttemptService) ListFinalized(ctx context.Context, examID uuid.UUID) ([]repository.FinalizedAttempt, error) {
	if _, err := s.examRepo.GetByID(ctx, examID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	attempts, err := s.attemptRepo.ListFinalizedByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list finalized: %w", err)
	}
	if attempts == nil {
		attempts = []repository.FinalizedAttempt{}
	}
	return attempts, nil
}

// Responses returns the persisted answers of an attempt for review.
func (s *AttemptService) Responses(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, []model.Response, error) {
	attempt, err := s.attemptRepo.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrAttemptNotFound
		}
		return nil, nil, fmt.Errorf("get attempt: %w", err)
	}
	responses, err := s.attemptRepo.ListResponses(ctx, attemptID)
	if err != nil {
		return nil, nil, fmt.Errorf("list responses: %w", err)
	}
	if responses == nil {
		responses = []model.Response{}
	}
	return attempt, responses, nil
}

func (s *AttemptService) getAttempt(ctx context.Context, examID uuid.UUID, studentID int64) (*model.Attempt, error) {
	attempt, err := s.attemptRepo.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return attempt, nil
}

func (s *AttemptService) questionBelongs(ctx context.Context, examID, questionID uuid.UUID) (bool, error) {
	questions, err := s.examRepo.ListQuestions(ctx, examID)
	if err != nil {
		return false, fmt.Errorf("list questions: %w", err)
	}
	for _, q := range questions {
		if q.ID == questionID {
			return true, nil
		}
	}
	return false, nil
}

// cacheStart mirrors the attempt start epoch into Redis so countdown reloads
// skip the database. Failures only cost the fast path.
func (s *AttemptService) cacheStart(ctx context.Context, exam *model.Exam, attempt *model.Attempt) {
	if s.rdb == nil {
		return
	}
	startKey := config.CacheKey.AttemptStartKey(exam.ID.String(), attempt.StudentID)
	if err := s.rdb.Set(ctx, startKey, attempt.StartedAt.Unix(), 0).Err(); err != nil {
		s.log.Warn().Err(err).Msg("failed to cache attempt start epoch")
	}
}

// bufferedAnswers reads the autosave buffer for an attempt, falling back to
// the persisted responses when Redis is absent or empty.
func (s *AttemptService) bufferedAnswers(ctx context.Context, attempt *model.Attempt) (map[string]string, error) {
	if s.rdb != nil {
		answersKey := config.CacheKey.AttemptAnswersKey(attempt.ExamID.String(), attempt.StudentID)
		buffered, err := s.rdb.HGetAll(ctx, answersKey).Result()
		if err == nil && len(buffered) > 0 {
			return buffered, nil
		}
		if err != nil {
			s.log.Warn().Err(err).Msg("failed to read autosave buffer, using database")
		}
	}

	persisted, err := s.attemptRepo.ListResponses(ctx, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	answers := make(map[string]string, len(persisted))
	for _, resp := range persisted {
		answers[resp.QuestionID.String()] = resp.Answer
	}
	return answers, nil
}

// dropAttemptCache removes the per-attempt Redis keys after finalization.
func (s *AttemptService) dropAttemptCache(ctx context.Context, examID uuid.UUID, studentID int64) {
	if s.rdb == nil {
		return
	}
	s.rdb.Del(ctx,
		config.CacheKey.AttemptStartKey(examID.String(), studentID),
		config.CacheKey.AttemptAnswersKey(examID.String(), studentID),
	)
}

// mergeAnswers copies src answers into dst, keeping only keys that parse as
// UUIDs of known questions.
func mergeAnswers(dst map[uuid.UUID]string, src map[string]string, known map[uuid.UUID]struct{}) {
	for key, answer := range src {
		qid, err := uuid.Parse(key)
		if err != nil {
			continue
		}
		if _, ok := known[qid]; !ok {
			continue
		}
		dst[qid] = answer
	}
}
