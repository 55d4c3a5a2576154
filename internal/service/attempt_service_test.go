package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/openexam/openexam-backend/internal/model"
	"github.com/openexam/openexam-backend/internal/repository"
)

type pairKey struct {
	examID    uuid.UUID
	studentID int64
}

// memoryStore is an in-memory stand-in for the pgx repositories. It mirrors
// the database guards: the unique (exam, student) pair on create and the
// compare-and-set on finalize.
type memoryStore struct {
	mu        sync.Mutex
	now       func() time.Time
	exams     map[uuid.UUID]*model.Exam
	questions map[uuid.UUID][]model.Question
	attempts  map[uuid.UUID]*model.Attempt
	byPair    map[pairKey]uuid.UUID
	responses map[uuid.UUID]map[uuid.UUID]string
	results   map[uuid.UUID]*model.Result
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		now:       time.Now,
		exams:     make(map[uuid.UUID]*model.Exam),
		questions: make(map[uuid.UUID][]model.Question),
		attempts:  make(map[uuid.UUID]*model.Attempt),
		byPair:    make(map[pairKey]uuid.UUID),
		responses: make(map[uuid.UUID]map[uuid.UUID]string),
		results:   make(map[uuid.UUID]*model.Result),
	}
}

func (m *memoryStore) GetByExamAndStudent(_ context.Context, examID uuid.UUID, studentID int64) (*model.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byPair[pairKey{examID, studentID}]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *m.attempts[id]
	return &cp, nil
}

func (m *memoryStore) GetByID(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *a
	return &cp, nil
}

func (m *memoryStore) Create(_ context.Context, a *model.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey{a.ExamID, a.StudentID}
	if _, exists := m.byPair[key]; exists {
		return pgx.ErrNoRows
	}
	a.ID = uuid.New()
	a.Status = model.AttemptStatusInProgress
	a.StartedAt = m.now()
	cp := *a
	m.attempts[a.ID] = &cp
	m.byPair[key] = a.ID
	return nil
}

func (m *memoryStore) Finalize(_ context.Context, p repository.FinalizeParams) (*model.Attempt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[p.AttemptID]
	if !ok {
		return nil, false, pgx.ErrNoRows
	}
	if a.IsFinal {
		cp := *a
		return &cp, false, nil
	}
	now := m.now()
	a.Status = p.Status
	a.IsFinal = true
	a.FinalizedAt = &now
	if m.responses[a.ID] == nil {
		m.responses[a.ID] = make(map[uuid.UUID]string)
	}
	for qid, answer := range p.Answers {
		m.responses[a.ID][qid] = answer
	}
	if p.Result != nil {
		res := *p.Result
		res.GradedAt = now
		m.results[a.ID] = &res
	}
	cp := *a
	return &cp, true, nil
}

func (m *memoryStore) GetResult(_ context.Context, attemptID uuid.UUID) (*model.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.results[attemptID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *res
	return &cp, nil
}

func (m *memoryStore) ListResponses(_ context.Context, attemptID uuid.UUID) ([]model.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Response
	for qid, answer := range m.responses[attemptID] {
		out = append(out, model.Response{
			ID:         uuid.New(),
			AttemptID:  attemptID,
			QuestionID: qid,
			Answer:     answer,
		})
	}
	return out, nil
}

func (m *memoryStore) ListOverdue(_ context.Context, now time.Time, limit int) ([]repository.OverdueAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.OverdueAttempt
	for _, a := range m.attempts {
		if a.IsFinal {
			continue
		}
		exam := m.exams[a.ExamID]
		endsAt := a.StartedAt.Add(exam.Duration())
		if endsAt.After(now) {
			continue
		}
		out = append(out, repository.OverdueAttempt{
			AttemptID: a.ID,
			ExamID:    a.ExamID,
			StudentID: a.StudentID,
			StartedAt: a.StartedAt,
			EndsAt:    endsAt,
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memoryStore) ListFinalizedByExam(_ context.Context, examID uuid.UUID) ([]repository.FinalizedAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.FinalizedAttempt
	for _, a := range m.attempts {
		if a.ExamID != examID || !a.IsFinal {
			continue
		}
		fa := repository.FinalizedAttempt{
			AttemptID:   a.ID,
			StudentID:   a.StudentID,
			Status:      a.Status,
			FinalizedAt: *a.FinalizedAt,
		}
		if res, ok := m.results[a.ID]; ok {
			fa.Score = &res.Score
			fa.Total = &res.Total
			fa.Percentage = &res.Percentage
		}
		out = append(out, fa)
	}
	return out, nil
}

func (m *memoryStore) GetExamByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exams[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *e
	return &cp, nil
}

func (m *memoryStore) ListQuestions(_ context.Context, examID uuid.UUID) ([]model.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Question(nil), m.questions[examID]...), nil
}

func (m *memoryStore) ListPublished(_ context.Context) ([]model.Exam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Exam
	for _, e := range m.exams {
		if e.Status == model.ExamStatusPublished {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *memoryStore) UpsertAnswer(_ context.Context, attemptID, questionID uuid.UUID, answer string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[attemptID]
	if !ok || a.IsFinal {
		return false, nil
	}
	if m.responses[attemptID] == nil {
		m.responses[attemptID] = make(map[uuid.UUID]string)
	}
	m.responses[attemptID][questionID] = answer
	return true, nil
}

// examView adapts memoryStore to the ExamStore interface, since the store's
// exam getter is named differently to avoid clashing with the attempt getter.
type examView struct{ *memoryStore }

func (v examView) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return v.GetExamByID(ctx, id)
}

func newTestService(store *memoryStore) *AttemptService {
	return NewAttemptService(store, examView{store}, store, nil, zerolog.Nop())
}

// seedExam installs a published 30 minute exam with two objective questions
// (correct answers A and C) and one essay question worth 10 marks.
func seedExam(store *memoryStore) (*model.Exam, []model.Question) {
	exam := &model.Exam{
		ID:              uuid.New(),
		Title:           "Algorithms Midterm",
		Subject:         "CS201",
		DurationMinutes: 30,
		Status:          model.ExamStatusPublished,
	}
	questions := []model.Question{
		{ID: uuid.New(), ExamID: exam.ID, QuestionType: model.QuestionTypeObjective, CorrectOption: "A", OrderNum: 1},
		{ID: uuid.New(), ExamID: exam.ID, QuestionType: model.QuestionTypeObjective, CorrectOption: "C", OrderNum: 2},
		{ID: uuid.New(), ExamID: exam.ID, QuestionType: model.QuestionTypeEssay, MaxMarks: 10, OrderNum: 3},
	}
	store.exams[exam.ID] = exam
	store.questions[exam.ID] = questions
	return exam, questions
}

func TestStartCreatesSingleAttempt(t *testing.T) {
	store := newMemoryStore()
	exam, _ := seedExam(store)
	svc := newTestService(store)
	ctx := context.Background()

	first, err := svc.Start(ctx, exam.ID, 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if first.Attempt.Status != model.AttemptStatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", first.Attempt.Status)
	}
	if first.RemainingSeconds <= 0 {
		t.Fatalf("expected positive remaining time, got %f", first.RemainingSeconds)
	}

	// A second start resumes the same attempt, it never creates another.
	second, err := svc.Start(ctx, exam.ID, 1)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if second.Attempt.ID != first.Attempt.ID {
		t.Fatalf("expected resume of attempt %s, got %s", first.Attempt.ID, second.Attempt.ID)
	}
	if len(store.attempts) != 1 {
		t.Fatalf("expected 1 attempt row, got %d", len(store.attempts))
	}
}

func TestStartRejectedOnUnpublishedExam(t *testing.T) {
	store := newMemoryStore()
	exam, _ := seedExam(store)
	exam.Status = model.ExamStatusDraft
	svc := newTestService(store)

	if _, err := svc.Start(context.Background(), exam.ID, 1); !errors.Is(err, ErrExamNotAvailable) {
		t.Fatalf("expected ErrExamNotAvailable, got %v", err)
	}
}

func TestStartAfterFinalizeRejected(t *testing.T) {
	store := newMemoryStore()
	exam, _ := seedExam(store)
	svc := newTestService(store)
	ctx := context.Background()

	if _, err := svc.Start(ctx, exam.ID, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.FinalizeManual(ctx, exam.ID, 1, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := svc.Start(ctx, exam.ID, 1); !errors.Is(err, ErrAlreadyAttempted) {
		t.Fatalf("expected ErrAlreadyAttempted, got %v", err)
	}
}

func TestManualSubmitGradesObjectiveQuestions(t *testing.T) {
	store := newMemoryStore()
	exam, questions := seedExam(store)
	svc := newTestService(store)
	ctx := context.Background()

	state, err := svc.Start(ctx, exam.ID, 7)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	answers := map[string]string{
		questions[0].ID.String(): "a", // correct, case-insensitive
		questions[1].ID.String(): "B", // wrong
		questions[2].ID.String(): "an essay answer",
	}
	attempt, err := svc.FinalizeManual(ctx, exam.ID, 7, answers)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if attempt.Status != model.AttemptStatusSubmitted || !attempt.IsFinal {
		t.Fatalf("expected final SUBMITTED, got %s final=%v", attempt.Status, attempt.IsFinal)
	}

	result, err := svc.Result(ctx, exam.ID, 7)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if result.Score != 1 || result.Total != 2 {
		t.Fatalf("expected score 1/2, got %d/%d", result.Score, result.Total)
	}
	if result.Percentage != 50 {
		t.Fatalf("expected 50%%, got %f", result.Percentage)
	}

	// The essay answer is persisted untouched for the grader.
	if got := store.responses[state.Attempt.ID][questions[2].ID]; got != "an essay answer" {
		t.Fatalf("essay answer not persisted, got %q", got)
	}
}

func TestRepeatedSubmitIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	exam, questions := seedExam(store)
	svc := newTestService(store)
	ctx := context.Background()

	if _, err := svc.Start(ctx, exam.ID, 3); err != nil {
		t.Fatalf("start: %v", err)
	}

	first, err := svc.FinalizeManual(ctx, exam.ID, 3, map[string]string{questions[0].ID.String(): "A"})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	// The second submit carries different answers, but the attempt is
	// already final so nothing changes.
	second, err := svc.FinalizeManual(ctx, exam.ID, 3, map[string]string{
		questions[0].ID.String(): "B",
		questions[1].ID.String(): "C",
	})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if second.Status != first.Status || !second.FinalizedAt.Equal(*first.FinalizedAt) {
		t.Fatalf("second submit changed terminal state: %+v vs %+v", second, first)
	}

	result, err := svc.Result(ctx, exam.ID, 3)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if result.Score != 1 {
		t.Fatalf("result changed after repeated submit: score=%d", result.Score)
	}
}

func TestTimeoutBeforeDeadlineRejected(t *testing.T) {
	store := newMemoryStore()
	exam, _ := seedExam(store)
	svc := newTestService(store)
	ctx := context.Background()

	if _, err := svc.Start(ctx, exam.ID, 5); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.FinalizeTimeout(ctx, exam.ID, 5); !errors.Is(err, ErrDeadlineNotReached) {
		t.Fatalf("expected ErrDeadlineNotReached, got %v", err)
	}
}

func TestTimeoutAfterDeadline(t *testing.T) {
	store := newMemoryStore()
	exam, questions := seedExam(store)
	svc := newTestService(store)
	ctx := context.Background()

	base := time.Now()
	store.now = func() time.Time { return base }
	svc.now = func() time.Time { return base }

	if _, err := svc.Start(ctx, exam.ID, 9); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.Autosave(ctx, exam.ID, 9, questions[0].ID, "A"); err != nil {
		t.Fatalf("autosave: %v", err)
	}

	// Clock jumps past the deadline.
	late := base.Add(exam.Duration() + time.Second)
	store.now = func() time.Time { return late }
	svc.now = func() time.Time { return late }

	attempt, err := svc.FinalizeTimeout(ctx, exam.ID, 9)
	if err != nil {
		t.Fatalf("timeout: %v", err)
	}
	if attempt.Status != model.AttemptStatusTimedOut || !attempt.IsFinal {
		t.Fatalf("expected final TIMED_OUT, got %s final=%v", attempt.Status, attempt.IsFinal)
	}

	// The autosaved answer was graded.
	result, err := svc.Result(ctx, exam.ID, 9)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if result.Score != 1 || result.Total != 2 {
		t.Fatalf("expected score 1/2 from autosaved answer, got %d/%d", result.Score, result.Total)
	}

	// Timeout again: same terminal state, no error.
	again, err := svc.FinalizeTimeout(ctx, exam.ID, 9)
	if err != nil {
		t.Fatalf("repeated timeout: %v", err)
	}
	if again.Status != model.AttemptStatusTimedOut {
		t.Fatalf("repeated timeout changed status to %s", again.Status)
	}
}

func TestSubmitAfterDeadlineRecordsTimedOut(t *testing.T) {
	store := newMemoryStore()
	exam, _ := seedExam(store)
	svc := newTestService(store)
	ctx := context.Background()

	base := time.Now()
	store.now = func() time.Time { return base }
	svc.now = func() time.Time { return base }

	if _, err := svc.Start(ctx, exam.ID, 2); err != nil {
		t.Fatalf("start: %v", err)
	}

	late := base.Add(exam.Duration() + time.Minute)
	svc.now = func() time.Time { return late }

	attempt, err := svc.FinalizeManual(ctx, exam.ID, 2, nil)
	if err != nil {
		t.Fatalf("late submit: %v", err)
	}
	if attempt.Status != model.AttemptStatusTimedOut {
		t.Fatalf("late submit should record TIMED_OUT, got %s", attempt.Status)
	}
}

func TestConcurrentSubmitAndTimeoutOneWinner(t *testing.T) {
	store := newMemoryStore()
	exam, questions := seedExam(store)
	svc := newTestService(store)
	ctx := context.Background()

	base := time.Now()
	store.now = func() time.Time { return base }
	svc.now = func() time.Time { return base }

	if _, err := svc.Start(ctx, exam.ID, 4); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.Autosave(ctx, exam.ID, 4, questions[0].ID, "A"); err != nil {
		t.Fatalf("autosave: %v", err)
	}

	late := base.Add(exam.Duration() + time.Second)
	store.now = func() time.Time { return late }
	svc.now = func() time.Time { return late }

	// Client timeout driver and background sweeper race.
	var wg sync.WaitGroup
	results := make([]*model.Attempt, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := svc.FinalizeTimeout(ctx, exam.ID, 4)
			if err != nil {
				t.Errorf("racer %d: %v", i, err)
				return
			}
			results[i] = a
		}(i)
	}
	wg.Wait()

	if results[0] == nil || results[1] == nil {
		t.Fatal("a racer failed")
	}
	if results[0].Status != results[1].Status || !results[0].FinalizedAt.Equal(*results[1].FinalizedAt) {
		t.Fatalf("racers observed different terminal states: %+v vs %+v", results[0], results[1])
	}
	if _, ok := store.results[results[0].ID]; !ok {
		t.Fatal("no result persisted")
	}
}

func TestAutosaveRejectedAfterFinalize(t *testing.T) {
	store := newMemoryStore()
	exam, questions := seedExam(store)
	svc := newTestService(store)
	ctx := context.Background()

	if _, err := svc.Start(ctx, exam.ID, 6); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.FinalizeManual(ctx, exam.ID, 6, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}

	err := svc.Autosave(ctx, exam.ID, 6, questions[0].ID, "A")
	if !errors.Is(err, ErrAlreadyFinal) {
		t.Fatalf("expected ErrAlreadyFinal, got %v", err)
	}
}

func TestAutosaveRejectsForeignQuestion(t *testing.T) {
	store := newMemoryStore()
	exam, _ := seedExam(store)
	svc := newTestService(store)
	ctx := context.Background()

	if _, err := svc.Start(ctx, exam.ID, 8); err != nil {
		t.Fatalf("start: %v", err)
	}
	err := svc.Autosave(ctx, exam.ID, 8, uuid.New(), "A")
	if !errors.Is(err, ErrQuestionNotInExam) {
		t.Fatalf("expected ErrQuestionNotInExam, got %v", err)
	}
}

func TestStateCollapsesOverdueAttempt(t *testing.T) {
	store := newMemoryStore()
	exam, _ := seedExam(store)
	svc := newTestService(store)
	ctx := context.Background()

	base := time.Now()
	store.now = func() time.Time { return base }
	svc.now = func() time.Time { return base }

	if _, err := svc.Start(ctx, exam.ID, 11); err != nil {
		t.Fatalf("start: %v", err)
	}

	late := base.Add(exam.Duration() + time.Minute)
	store.now = func() time.Time { return late }
	svc.now = func() time.Time { return late }

	state, err := svc.State(ctx, exam.ID, 11)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.Attempt.Status != model.AttemptStatusTimedOut {
		t.Fatalf("overdue reload should collapse to TIMED_OUT, got %s", state.Attempt.Status)
	}
	if state.RemainingSeconds != 0 {
		t.Fatalf("expected zero remaining, got %f", state.RemainingSeconds)
	}
}

func TestResultBeforeFinalizeRejected(t *testing.T) {
	store := newMemoryStore()
	exam, _ := seedExam(store)
	svc := newTestService(store)
	ctx := context.Background()

	if _, err := svc.Start(ctx, exam.ID, 12); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.Result(ctx, exam.ID, 12); !errors.Is(err, ErrAttemptNotFinal) {
		t.Fatalf("expected ErrAttemptNotFinal, got %v", err)
	}
}

func TestSweepOverdueFinalizesAbandonedAttempts(t *testing.T) {
	store := newMemoryStore()
	exam, _ := seedExam(store)
	svc := newTestService(store)
	ctx := context.Background()

	base := time.Now()
	store.now = func() time.Time { return base }
	svc.now = func() time.Time { return base }

	// Two students start, then vanish.
	if _, err := svc.Start(ctx, exam.ID, 21); err != nil {
		t.Fatalf("start 21: %v", err)
	}
	if _, err := svc.Start(ctx, exam.ID, 22); err != nil {
		t.Fatalf("start 22: %v", err)
	}

	late := base.Add(exam.Duration() + time.Minute)
	store.now = func() time.Time { return late }
	svc.now = func() time.Time { return late }

	n, err := svc.SweepOverdue(ctx, 100)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 finalized, got %d", n)
	}
	for _, a := range store.attempts {
		if !a.IsFinal || a.Status != model.AttemptStatusTimedOut {
			t.Fatalf("attempt %s not timed out: %+v", a.ID, a)
		}
	}

	// Nothing left for a second sweep.
	n, err = svc.SweepOverdue(ctx, 100)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("second sweep finalized %d attempts", n)
	}
}
