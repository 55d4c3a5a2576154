package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/openexam/openexam-backend/internal/model"
	"github.com/openexam/openexam-backend/internal/response"
	"github.com/openexam/openexam-backend/internal/service"
	"github.com/openexam/openexam-backend/internal/validator"
)

// GradingHandler handles lecturer review and essay grading.
type GradingHandler struct {
	attemptService *service.AttemptService
	gradingService *service.GradingService
}

// NewGradingHandler creates a new GradingHandler.
func NewGradingHandler(attemptService *service.AttemptService, gradingService *service.GradingService) *GradingHandler {
	return &GradingHandler{attemptService: attemptService, gradingService: gradingService}
}

// ListFinalized godoc
// GET /api/v1/lecturer/exams/:exam_id/attempts
func (h *GradingHandler) ListFinalized(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempts, err := h.attemptService.ListFinalized(c.Request.Context(), examID)
	if err != nil {
		if errors.Is(err, service.ErrExamNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempts": attempts})
}

// GetResponses godoc
// GET /api/v1/lecturer/attempts/:attempt_id/responses
func (h *GradingHandler) GetResponses(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempt, responses, err := h.attemptService.Responses(c.Request.Context(), attemptID)
	if err != nil {
		if errors.Is(err, service.ErrAttemptNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrAttemptNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"attempt":   attempt,
		"responses": responses,
	})
}

// GetProgress godoc
// GET /api/v1/lecturer/attempts/:attempt_id/grading
func (h *GradingHandler) GetProgress(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	progress, err := h.gradingService.Progress(c.Request.Context(), attemptID)
	if err != nil {
		h.failGrading(c, err)
		return
	}
	response.Success(c, http.StatusOK, progress)
}

// Grade godoc
// POST /api/v1/lecturer/responses/:response_id/grade
// Awards essay marks once. Out-of-range marks are rejected, never clamped.
func (h *GradingHandler) Grade(c *gin.Context) {
	responseID, err := uuid.Parse(c.Param("response_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.GradeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	graded, err := h.gradingService.Grade(c.Request.Context(), responseID, req.AwardedMarks, req.Feedback)
	if err != nil {
		h.failGrading(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"response": graded})
}

// failGrading maps grading service errors onto API error codes.
func (h *GradingHandler) failGrading(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrResponseNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrAttemptNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrAttemptNotFound)
	case errors.Is(err, service.ErrNotEssay):
		response.Fail(c, http.StatusBadRequest, response.ErrNotEssay)
	case errors.Is(err, service.ErrOutOfRangeMarks):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrOutOfRangeMarks)
	case errors.Is(err, service.ErrAlreadyGraded):
		response.Fail(c, http.StatusConflict, response.ErrAlreadyGraded)
	case errors.Is(err, service.ErrAttemptNotFinal):
		response.Fail(c, http.StatusConflict, response.ErrAttemptNotFinal)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
