package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/openexam/openexam-backend/internal/middleware"
	"github.com/openexam/openexam-backend/internal/service"
	ws "github.com/openexam/openexam-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams the attempt over a WebSocket: autosave acks, countdown
// pongs and the terminal state after submit.
type WSHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attemptService *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/student/exams/:exam_id/attempt
// Upgrades to WebSocket for real-time autosave and submission.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exam ID"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	studentID := claims.UserID
	ctx := c.Request.Context()

	// The attempt must exist and be in progress before streaming.
	state, err := h.attemptService.State(ctx, examID, studentID)
	if err != nil || state.Attempt.IsFinal {
		ws.WriteError(conn, "no active attempt for this exam")
		return
	}

	wsLog := h.log.With().
		Int64("student_id", studentID).
		Str("exam_id", examID.String()).
		Logger()
	wsLog.Info().Msg("student connected")

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("unexpected close")
			} else {
				wsLog.Debug().Msg("connection closed")
			}
			break
		}

		var envelope ws.RequestEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			ws.WriteError(conn, "malformed message")
			continue
		}

		switch envelope.Action {
		case ws.ActionAutosave:
			h.handleAutosave(ctx, conn, examID, studentID, raw)
		case ws.ActionSubmit:
			if done := h.handleSubmit(ctx, conn, wsLog, examID, studentID, raw); done {
				return
			}
		case ws.ActionPing:
			h.handlePing(ctx, conn, examID, studentID)
		default:
			ws.WriteError(conn, "unknown action")
		}
	}
}

func (h *WSHandler) handleAutosave(ctx context.Context, conn *websocket.Conn, examID uuid.UUID, studentID int64, raw []byte) {
	var msg ws.AutosaveRequest
	if err := json.Unmarshal(raw, &msg); err != nil {
		ws.WriteError(conn, "malformed autosave")
		return
	}
	questionID, err := uuid.Parse(msg.QuestionID)
	if err != nil {
		ws.WriteError(conn, "invalid question ID")
		return
	}

	if err := h.attemptService.Autosave(ctx, examID, studentID, questionID, msg.Answer); err != nil {
		ws.WriteError(conn, autosaveErrMsg(err))
		return
	}
	ws.WriteTyped(conn, ws.SavedResponse{Event: ws.EventSaved, QuestionID: msg.QuestionID})
}

// handleSubmit finalizes the attempt and reports the terminal state. Returns
// true when the connection should close.
func (h *WSHandler) handleSubmit(ctx context.Context, conn *websocket.Conn, log zerolog.Logger, examID uuid.UUID, studentID int64, raw []byte) bool {
	var msg ws.SubmitRequest
	if err := json.Unmarshal(raw, &msg); err != nil {
		ws.WriteError(conn, "malformed submit")
		return false
	}

	attempt, err := h.attemptService.FinalizeManual(ctx, examID, studentID, msg.Answers)
	if err != nil {
		ws.WriteError(conn, "submit failed")
		return false
	}

	resp := ws.FinalizedResponse{
		Event:       ws.EventFinalized,
		Status:      string(attempt.Status),
		FinalizedAt: attempt.FinalizedAt.UTC().Format(time.RFC3339),
	}
	if result, err := h.attemptService.Result(ctx, examID, studentID); err == nil {
		resp.Score = &result.Score
		resp.Total = &result.Total
		resp.Percentage = &result.Percentage
	}
	ws.WriteTyped(conn, resp)

	log.Info().Str("status", string(attempt.Status)).Msg("attempt submitted over websocket")
	return true
}

// handlePing answers with the server's view of the remaining time so the
// client can correct countdown drift.
func (h *WSHandler) handlePing(ctx context.Context, conn *websocket.Conn, examID uuid.UUID, studentID int64) {
	state, err := h.attemptService.State(ctx, examID, studentID)
	if err != nil {
		ws.WriteError(conn, "attempt state unavailable")
		return
	}
	ws.WriteTyped(conn, ws.PongResponse{
		Event:            ws.EventPong,
		RemainingSeconds: state.RemainingSeconds,
	})
}

func autosaveErrMsg(err error) string {
	switch {
	case errors.Is(err, service.ErrAlreadyFinal):
		return "attempt is already finalized"
	case errors.Is(err, service.ErrQuestionNotInExam):
		return "question does not belong to this exam"
	default:
		return "autosave failed"
	}
}
