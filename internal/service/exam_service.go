package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/openexam/openexam-backend/internal/config"
	"github.com/openexam/openexam-backend/internal/model"
)

// PaperStore is the persistence surface exam delivery depends on.
type PaperStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	ListPublished(ctx context.Context) ([]model.Exam, error)
	ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// ExamService serves published exams and their student-facing papers.
type ExamService struct {
	examRepo PaperStore
	rdb      *redis.Client
	log      zerolog.Logger
}

// NewExamService creates a new ExamService. rdb may be nil, which disables
// the paper cache.
func NewExamService(examRepo PaperStore, rdb *redis.Client, log zerolog.Logger) *ExamService {
	return &ExamService{
		examRepo: examRepo,
		rdb:      rdb,
		log:      log.With().Str("component", "exam_service").Logger(),
	}
}

// ListAvailable returns all exams open for attempts.
func (s *ExamService) ListAvailable(ctx context.Context) ([]model.Exam, error) {
	exams, err := s.examRepo.ListPublished(ctx)
	if err != nil {
		return nil, fmt.Errorf("list published: %w", err)
	}
	if exams == nil {
		exams = []model.Exam{}
	}
	return exams, nil
}

// GetPaper returns the student-facing paper of a published exam: questions
// in display order with answer keys stripped. Served from Redis when warm,
// rebuilt from the database and re-cached on a miss.
func (s *ExamService) GetPaper(ctx context.Context, examID uuid.UUID) (*model.ExamPaper, error) {
	if s.rdb != nil {
		raw, err := s.rdb.Get(ctx, config.CacheKey.ExamPaperKey(examID.String())).Result()
		if err == nil {
			paper := &model.ExamPaper{}
			if err := json.Unmarshal([]byte(raw), paper); err == nil {
				return paper, nil
			}
			// Corrupt cache entry, rebuild below.
			s.rdb.Del(ctx, config.CacheKey.ExamPaperKey(examID.String()))
		} else if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Msg("paper cache read failed, using database")
		}
	}

	paper, err := s.buildPaper(ctx, examID)
	if err != nil {
		return nil, err
	}
	s.cachePaper(ctx, paper)
	return paper, nil
}

// PrewarmPapers caches the papers and durations of every published exam.
// Called at startup so the first wave of students never stampedes the
// database.
func (s *ExamService) PrewarmPapers(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	exams, err := s.examRepo.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published: %w", err)
	}
	for _, exam := range exams {
		paper, err := s.buildPaper(ctx, exam.ID)
		if err != nil {
			s.log.Error().Err(err).Str("exam_id", exam.ID.String()).Msg("prewarm failed for exam")
			continue
		}
		s.cachePaper(ctx, paper)
	}
	s.log.Info().Int("exams", len(exams)).Msg("exam papers prewarmed")
	return nil
}

func (s *ExamService) buildPaper(ctx context.Context, examID uuid.UUID) (*model.ExamPaper, error) {
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

	questions, err := s.examRepo.ListQuestions(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	paper := &model.ExamPaper{
		ExamID:          exam.ID,
		Title:           exam.Title,
		DurationMinutes: exam.DurationMinutes,
		Questions:       make([]model.QuestionForStudent, 0, len(questions)),
	}
	for i := range questions {
		paper.Questions = append(paper.Questions, questions[i].ForStudent())
	}
	return paper, nil
}

func (s *ExamService) cachePaper(ctx context.Context, paper *model.ExamPaper) {
	if s.rdb == nil {
		return
	}
	raw, err := json.Marshal(paper)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal paper for cache")
		return
	}
	examID := paper.ExamID.String()
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.ExamPaperKey(examID), raw, 0)
	pipe.Set(ctx, config.CacheKey.ExamDurationKey(examID), paper.DurationMinutes, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID).Msg("failed to cache exam paper")
	}
}
