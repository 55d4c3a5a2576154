package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/openexam/openexam-backend/internal/middleware"
	"github.com/openexam/openexam-backend/internal/model"
	"github.com/openexam/openexam-backend/internal/response"
	"github.com/openexam/openexam-backend/internal/service"
	"github.com/openexam/openexam-backend/internal/validator"
)

// AttemptHandler handles the student-facing attempt lifecycle.
type AttemptHandler struct {
	attemptService *service.AttemptService
	examService    *service.ExamService
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attemptService *service.AttemptService, examService *service.ExamService) *AttemptHandler {
	return &AttemptHandler{attemptService: attemptService, examService: examService}
}

// ListExams godoc
// GET /api/v1/student/exams
func (h *AttemptHandler) ListExams(c *gin.Context) {
	exams, err := h.examService.ListAvailable(c.Request.Context())
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"exams": exams})
}

// GetPaper godoc
// GET /api/v1/student/exams/:exam_id/paper
// Requires an attempt: prevents downloading papers without starting the exam.
func (h *AttemptHandler) GetPaper(c *gin.Context) {
	claims, examID, ok := h.authExam(c)
	if !ok {
		return
	}

	if _, err := h.attemptService.State(c.Request.Context(), examID, claims.UserID); err != nil {
		h.failAttempt(c, err)
		return
	}

	paper, err := h.examService.GetPaper(c.Request.Context(), examID)
	if err != nil {
		if errors.Is(err, service.ErrExamNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		if errors.Is(err, service.ErrExamNotAvailable) {
			response.Fail(c, http.StatusConflict, response.ErrExamNotAvailable)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, paper)
}

// Start godoc
// POST /api/v1/student/exams/:exam_id/attempt
// Creates the student's single attempt, or resumes it (idempotent).
func (h *AttemptHandler) Start(c *gin.Context) {
	claims, examID, ok := h.authExam(c)
	if !ok {
		return
	}

	state, err := h.attemptService.Start(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		h.failAttempt(c, err)
		return
	}
	response.Success(c, http.StatusOK, state)
}

// State godoc
// GET /api/v1/student/exams/:exam_id/attempt
// Returns the countdown anchor and saved answers for a reloading client.
func (h *AttemptHandler) State(c *gin.Context) {
	claims, examID, ok := h.authExam(c)
	if !ok {
		return
	}

	state, err := h.attemptService.State(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		h.failAttempt(c, err)
		return
	}
	response.Success(c, http.StatusOK, state)
}

// Autosave godoc
// PUT /api/v1/student/exams/:exam_id/attempt/answers
func (h *AttemptHandler) Autosave(c *gin.Context) {
	claims, examID, ok := h.authExam(c)
	if !ok {
		return
	}

	var req model.AutosaveRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	questionID, err := uuid.Parse(req.QuestionID)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.attemptService.Autosave(c.Request.Context(), examID, claims.UserID, questionID, req.Answer); err != nil {
		h.failAttempt(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"saved": true})
}

// Submit godoc
// POST /api/v1/student/exams/:exam_id/attempt/submit
// Finalizes the attempt. Safe to retry: repeats return the same terminal state.
func (h *AttemptHandler) Submit(c *gin.Context) {
	claims, examID, ok := h.authExam(c)
	if !ok {
		return
	}

	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, err := h.attemptService.FinalizeManual(c.Request.Context(), examID, claims.UserID, req.Answers)
	if err != nil {
		h.failAttempt(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// Timeout godoc
// POST /api/v1/student/exams/:exam_id/attempt/timeout
// Reported by the client countdown when it reaches zero. The server verifies
// the deadline against its own clock; early reports are rejected.
func (h *AttemptHandler) Timeout(c *gin.Context) {
	claims, examID, ok := h.authExam(c)
	if !ok {
		return
	}

	attempt, err := h.attemptService.FinalizeTimeout(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		h.failAttempt(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// Result godoc
// GET /api/v1/student/exams/:exam_id/attempt/result
func (h *AttemptHandler) Result(c *gin.Context) {
	claims, examID, ok := h.authExam(c)
	if !ok {
		return
	}

	result, err := h.attemptService.Result(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		h.failAttempt(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// authExam extracts the claims and the :exam_id path param.
func (h *AttemptHandler) authExam(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}
	return claims, examID, true
}

// failAttempt maps attempt service errors onto API error codes.
func (h *AttemptHandler) failAttempt(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrExamNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrExamNotAvailable):
		response.Fail(c, http.StatusConflict, response.ErrExamNotAvailable)
	case errors.Is(err, service.ErrAlreadyAttempted):
		response.Fail(c, http.StatusConflict, response.ErrAlreadyAttempted)
	case errors.Is(err, service.ErrAttemptNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrAttemptNotFound)
	case errors.Is(err, service.ErrAlreadyFinal):
		response.Fail(c, http.StatusConflict, response.ErrAlreadyFinal)
	case errors.Is(err, service.ErrAttemptNotFinal):
		response.Fail(c, http.StatusConflict, response.ErrAttemptNotFinal)
	case errors.Is(err, service.ErrDeadlineNotReached):
		response.Fail(c, http.StatusConflict, response.ErrDeadlineNotReached)
	case errors.Is(err, service.ErrQuestionNotInExam):
		response.Fail(c, http.StatusBadRequest, response.ErrQuestionNotInExam)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
