package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openexam/openexam-backend/internal/model"
)

// AttemptRepository handles exam attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// GetByExamAndStudent retrieves the attempt for a specific exam-student pair.
func (r *AttemptRepository) GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int64) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, student_id, status, is_final, started_at, finalized_at
		 FROM exam_attempts
		 WHERE exam_id = $1 AND student_id = $2`, examID, studentID,
	).Scan(&a.ID, &a.ExamID, &a.StudentID, &a.Status, &a.IsFinal, &a.StartedAt, &a.FinalizedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetByID retrieves an attempt by its primary key.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, student_id, status, is_final, started_at, finalized_at
		 FROM exam_attempts
		 WHERE id = $1`, id,
	).Scan(&a.ID, &a.ExamID, &a.StudentID, &a.Status, &a.IsFinal, &a.StartedAt, &a.FinalizedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Create inserts a new attempt for the pair. The unique index on
// (exam_id, student_id) makes this the single admission point: a concurrent
// or repeated insert hits ON CONFLICT DO NOTHING and surfaces pgx.ErrNoRows,
// which callers resolve by refetching the winning row.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exam_attempts (exam_id, student_id, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (exam_id, student_id) DO NOTHING
		 RETURNING id, started_at`,
		a.ExamID, a.StudentID, model.AttemptStatusInProgress,
	).Scan(&a.ID, &a.StartedAt)
}

// FinalizeParams carries everything one finalization writes atomically.
type FinalizeParams struct {
	AttemptID uuid.UUID
	Status    model.AttemptStatus
	// Answers is the merged final answer set, keyed by question ID. Rows
	// are upserted before the result so the persisted responses always
	// match what was graded.
	Answers map[uuid.UUID]string
	Result  *model.Result
}

// Finalize flips the attempt to a terminal state, persists the final answer
// set and the auto-graded result, all in one transaction. The UPDATE is
// guarded on is_final = FALSE, so exactly one caller wins; every other caller
// gets applied=false together with the already-persisted terminal attempt.
func (r *AttemptRepository) Finalize(ctx context.Context, p FinalizeParams) (*model.Attempt, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	a := &model.Attempt{}
	err = tx.QueryRow(ctx,
		`UPDATE exam_attempts
		 SET status = $1, is_final = TRUE, finalized_at = NOW()
		 WHERE id = $2 AND is_final = FALSE
		 RETURNING id, exam_id, student_id, status, is_final, started_at, finalized_at`,
		p.Status, p.AttemptID,
	).Scan(&a.ID, &a.ExamID, &a.StudentID, &a.Status, &a.IsFinal, &a.StartedAt, &a.FinalizedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the race or already final. Return the persisted state.
		existing, getErr := r.GetByID(ctx, p.AttemptID)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	for questionID, answer := range p.Answers {
		if _, err := tx.Exec(ctx,
			`INSERT INTO responses (attempt_id, question_id, answer)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (attempt_id, question_id)
			 DO UPDATE SET answer = EXCLUDED.answer, updated_at = NOW()`,
			p.AttemptID, questionID, answer,
		); err != nil {
			return nil, false, err
		}
	}

	if p.Result != nil {
		if _, err := tx.Exec(ctx,
			`INSERT INTO results (attempt_id, score, total, percentage, graded_at)
			 VALUES ($1, $2, $3, $4, NOW())`,
			p.AttemptID, p.Result.Score, p.Result.Total, p.Result.Percentage,
		); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return a, true, nil
}

// GetResult retrieves the auto-graded result of a finalized attempt.
func (r *AttemptRepository) GetResult(ctx context.Context, attemptID uuid.UUID) (*model.Result, error) {
	res := &model.Result{}
	err := r.pool.QueryRow(ctx,
		`SELECT attempt_id, score, total, percentage, graded_at
		 FROM results
		 WHERE attempt_id = $1`, attemptID,
	).Scan(&res.AttemptID, &res.Score, &res.Total, &res.Percentage, &res.GradedAt)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ListResponses retrieves all persisted responses of an attempt, in the
// exam's question order.
func (r *AttemptRepository) ListResponses(ctx context.Context, attemptID uuid.UUID) ([]model.Response, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT r.id, r.attempt_id, r.question_id, r.answer,
		        r.awarded_marks, r.grader_feedback, r.graded_at, r.updated_at
		 FROM responses r
		 JOIN questions q ON r.question_id = q.id
		 WHERE r.attempt_id = $1
		 ORDER BY q.order_num`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var responses []model.Response
	for rows.Next() {
		var resp model.Response
		if err := rows.Scan(&resp.ID, &resp.AttemptID, &resp.QuestionID, &resp.Answer,
			&resp.AwardedMarks, &resp.GraderFeedback, &resp.GradedAt, &resp.UpdatedAt); err != nil {
			return nil, err
		}
		responses = append(responses, resp)
	}
	return responses, rows.Err()
}

// OverdueAttempt is an in-progress attempt whose deadline has passed.
type OverdueAttempt struct {
	AttemptID uuid.UUID
	ExamID    uuid.UUID
	StudentID int64
	StartedAt time.Time
	EndsAt    time.Time
}

// ListOverdue finds in-progress attempts whose exam duration has elapsed.
// Used by the background sweeper so abandoned attempts still collapse into
// TIMED_OUT without any client driving them.
func (r *AttemptRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]OverdueAttempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.exam_id, a.student_id, a.started_at,
		        a.started_at + make_interval(mins => e.duration_minutes) AS ends_at
		 FROM exam_attempts a
		 JOIN exams e ON a.exam_id = e.id
		 WHERE a.is_final = FALSE
		   AND a.started_at + make_interval(mins => e.duration_minutes) <= $1
		 ORDER BY ends_at
		 LIMIT $2`, now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var overdue []OverdueAttempt
	for rows.Next() {
		var o OverdueAttempt
		if err := rows.Scan(&o.AttemptID, &o.ExamID, &o.StudentID, &o.StartedAt, &o.EndsAt); err != nil {
			return nil, err
		}
		overdue = append(overdue, o)
	}
	return overdue, rows.Err()
}

// FinalizedAttempt pairs a terminal attempt with the student who took it and
// the auto-graded score, for lecturer review listings.
type FinalizedAttempt struct {
	AttemptID   uuid.UUID           `json:"attempt_id"`
	StudentID   int64               `json:"student_id"`
	StudentName string              `json:"student_name"`
	Status      model.AttemptStatus `json:"status"`
	FinalizedAt time.Time           `json:"finalized_at"`
	Score       *int                `json:"score"`
	Total       *int                `json:"total"`
	Percentage  *float64            `json:"percentage"`
}

// ListFinalizedByExam retrieves all terminal attempts for an exam, newest
// first, with each attempt's objective score when present.
func (r *AttemptRepository) ListFinalizedByExam(ctx context.Context, examID uuid.UUID) ([]FinalizedAttempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.student_id, u.name, a.status, a.finalized_at,
		        res.score, res.total, res.percentage
		 FROM exam_attempts a
		 JOIN users u ON a.student_id = u.id
		 LEFT JOIN results res ON res.attempt_id = a.id
		 WHERE a.exam_id = $1 AND a.is_final = TRUE
		 ORDER BY a.finalized_at DESC`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []FinalizedAttempt
	for rows.Next() {
		var fa FinalizedAttempt
		if err := rows.Scan(&fa.AttemptID, &fa.StudentID, &fa.StudentName, &fa.Status,
			&fa.FinalizedAt, &fa.Score, &fa.Total, &fa.Percentage); err != nil {
			return nil, err
		}
		attempts = append(attempts, fa)
	}
	return attempts, rows.Err()
}
