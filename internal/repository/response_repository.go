package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openexam/openexam-backend/internal/model"
)

// ResponseRepository handles per-question response data access.
type ResponseRepository struct {
	pool *pgxpool.Pool
}

// NewResponseRepository creates a new ResponseRepository.
func NewResponseRepository(pool *pgxpool.Pool) *ResponseRepository {
	return &ResponseRepository{pool: pool}
}

// UpsertAnswer writes a student's answer for one question, but only while the
// owning attempt is still in progress. The INSERT ... SELECT gate keeps a
// late autosave from mutating a finalized attempt: once is_final is set the
// statement matches zero rows and the write silently becomes a no-op.
func (r *ResponseRepository) UpsertAnswer(ctx context.Context, attemptID, questionID uuid.UUID, answer string) (bool, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`INSERT INTO responses (attempt_id, question_id, answer)
		 SELECT a.id, $2, $3
		 FROM exam_attempts a
		 WHERE a.id = $1 AND a.is_final = FALSE
		 ON CONFLICT (attempt_id, question_id)
		 DO UPDATE SET answer = EXCLUDED.answer, updated_at = NOW()`,
		attemptID, questionID, answer,
	)
	if err != nil {
		return false, err
	}
	return cmdTag.RowsAffected() > 0, nil
}

// GetByID retrieves one response together with its question type and the
// question's maximum marks, which grading needs for validation.
func (r *ResponseRepository) GetByID(ctx context.Context, responseID uuid.UUID) (*model.Response, *model.Question, error) {
	resp := &model.Response{}
	q := &model.Question{}
	err := r.pool.QueryRow(ctx,
		`SELECT r.id, r.attempt_id, r.question_id, r.answer,
		        r.awarded_marks, r.grader_feedback, r.graded_at, r.updated_at,
		        q.id, q.exam_id, q.question_type, q.question_text, q.max_marks, q.order_num
		 FROM responses r
		 JOIN questions q ON r.question_id = q.id
		 WHERE r.id = $1`, responseID,
	).Scan(&resp.ID, &resp.AttemptID, &resp.QuestionID, &resp.Answer,
		&resp.AwardedMarks, &resp.GraderFeedback, &resp.GradedAt, &resp.UpdatedAt,
		&q.ID, &q.ExamID, &q.QuestionType, &q.QuestionText, &q.MaxMarks, &q.OrderNum)
	if err != nil {
		return nil, nil, err
	}
	return resp, q, nil
}

// Grade awards essay marks exactly once. The UPDATE is guarded on
// awarded_marks IS NULL and on the attempt being final, so a repeated grade
// or a grade against an in-progress attempt both report applied=false.
func (r *ResponseRepository) Grade(ctx context.Context, responseID uuid.UUID, marks float64, feedback *string) (bool, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE responses r
		 SET awarded_marks = $2, grader_feedback = $3, graded_at = NOW(), updated_at = NOW()
		 FROM exam_attempts a
		 WHERE r.id = $1
		   AND r.attempt_id = a.id
		   AND a.is_final = TRUE
		   AND r.awarded_marks IS NULL`,
		responseID, marks, feedback,
	)
	if err != nil {
		return false, err
	}
	return cmdTag.RowsAffected() > 0, nil
}

// Progress summarizes essay grading for one attempt. Unanswered essay
// questions still count toward the totals, so progress reflects the whole
// exam rather than just the questions the student touched.
func (r *ResponseRepository) Progress(ctx context.Context, attemptID uuid.UUID) (*model.GradingProgress, error) {
	p := &model.GradingProgress{AttemptID: attemptID}
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(q.id),
		        COUNT(r.graded_at),
		        COALESCE(SUM(r.awarded_marks), 0),
		        COALESCE(SUM(q.max_marks), 0)
		 FROM questions q
		 JOIN exam_attempts a ON a.exam_id = q.exam_id
		 LEFT JOIN responses r ON r.attempt_id = a.id AND r.question_id = q.id
		 WHERE a.id = $1 AND q.question_type = $2`,
		attemptID, model.QuestionTypeEssay,
	).Scan(&p.EssayQuestions, &p.Graded, &p.MarksAwarded, &p.MarksPossible)
	if err != nil {
		return nil, err
	}
	return p, nil
}
