package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/examroom/internal/middleware"
	"github.com/stemsi/examroom/internal/response"
	"github.com/stemsi/examroom/internal/service"
	"github.com/stemsi/examroom/internal/session"
	"github.com/stemsi/examroom/internal/validator"
	ws "github.com/stemsi/examroom/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
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

// WSHandler runs live exam attempts over WebSocket.
type WSHandler struct {
	sessionService *service.ExamSessionService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.ExamSessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// ExamWebSocketStream godoc
// WS /ws/v1/student/exams/:exam_id/stream?token=JWT
// Starts an attempt and keeps it alive for as long as the connection is
// open. Answers, visibility reports and submit arrive as actions; clock
// ticks, warnings and the submission result are pushed as events.
// Closing the connection before submitting abandons the attempt.
func (h *WSHandler) ExamWebSocketStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, ok := validator.UUIDParam(c, "exam_id")
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	defer raw.Close()

	studentID := claims.UserID
	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("exam_id", examID.String()).
		Logger()

	notify := func(e session.Event) {
		msg := ws.FromEvent(e)
		if msg == nil {
			return
		}
		if err := conn.WriteTyped(msg); err != nil {
			wsLog.Debug().Err(err).Str("event", string(e.Kind)).Msg("Event not delivered")
		}
		if e.Kind == session.EventSubmitted {
			conn.Close(websocket.CloseNormalClosure, "exam submitted")
		}
	}

	ctx := c.Request.Context()
	ctrl, err := h.sessionService.Start(ctx, studentID, examID, notify)
	if err != nil {
		_, code := classify(err)
		msg := response.GetMessage(code)
		if code == response.ErrInternal {
			wsLog.Error().Err(err).Msg("Failed to start exam session")
		} else {
			msg = err.Error()
		}
		conn.WriteError(string(code), msg)
		conn.Close(websocket.ClosePolicyViolation, string(code))
		return
	}
	defer h.sessionService.Release(studentID, examID)

	wsLog.Info().Msg("Student connected")

	exam := ctrl.Exam()
	if err := conn.WriteTyped(ws.StartedResponse{
		Event:     ws.EventStarted,
		Exam:      exam.ForStudent(),
		Questions: ctrl.Questions(),
		Snapshot:  ctrl.Snapshot(),
	}); err != nil {
		wsLog.Warn().Err(err).Msg("Failed to send exam paper")
		return
	}

	disp := ws.NewDispatcher(ctrl)
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		if reply := disp.Handle(ctx, data); reply != nil {
			if err := conn.WriteTyped(reply); err != nil {
				wsLog.Debug().Err(err).Msg("Reply not delivered")
				return
			}
		}
	}
}
