package handler

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mnrworld/exam-backend/internal/examsession"
	"github.com/mnrworld/exam-backend/internal/middleware"
	"github.com/mnrworld/exam-backend/internal/response"
	"github.com/mnrworld/exam-backend/internal/service"
	"github.com/mnrworld/exam-backend/internal/validator"
	ws "github.com/mnrworld/exam-backend/internal/websocket"
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

// WSHandler streams a running exam session: timer events out, student
// actions in.
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
// WS /ws/v1/student/exams/:exam_id/stream
// Requires a running session. The stream closes after the session is graded
// or abandoned.
func (h *WSHandler) ExamWebSocketStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, ok := examIDParam(c)
	if !ok {
		return
	}
	studentID := claims.UserID

	events, unsubscribe, err := h.sessionService.Subscribe(studentID, examID)
	if err != nil {
		failWithError(c, err)
		return
	}
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	ws.Prepare(conn)

	wsLog := h.log.With().
		Str("student_id", studentID).
		Str("exam_id", examID).
		Logger()
	wsLog.Info().Msg("Student connected")

	out := make(chan any, 16)
	quit := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(conn, events, out, quit, wsLog)
		// Unblocks the reader once the stream is over.
		_ = conn.Close()
	}()

	ctx := c.Request.Context()
	for {
		var req ws.Request
		err := ws.ReadJSON(conn, &req)
		if err != nil && !errors.Is(err, ws.ErrMalformedMessage) {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		var reply any
		if err != nil {
			reply = ws.ErrorResponse{Event: ws.EventError, Code: string(response.ErrInvalidPayload), Error: response.GetMessage(response.ErrInvalidPayload)}
		} else {
			reply = h.handleAction(ctx, studentID, examID, &req)
		}
		if reply == nil {
			continue
		}

		select {
		case out <- reply:
		case <-writerDone:
			wsLog.Debug().Msg("Stream ended")
			return
		}
	}

	close(quit)
	<-writerDone
}

// writeLoop owns every write on conn.
func (h *WSHandler) writeLoop(conn *websocket.Conn, events <-chan examsession.Event, out <-chan any, quit <-chan struct{}, wsLog zerolog.Logger) {
	ping := time.NewTicker(ws.PingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-quit:
			return
		case msg := <-out:
			if err := ws.WriteTyped(conn, msg); err != nil {
				wsLog.Debug().Err(err).Msg("Write failed")
				return
			}
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
					time.Now().Add(time.Second))
				return
			}
			if err := ws.WriteTyped(conn, ws.FromSessionEvent(ev)); err != nil {
				wsLog.Debug().Err(err).Msg("Write failed")
				return
			}
		case <-ping.C:
			if err := ws.WritePing(conn); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) handleAction(ctx context.Context, studentID, examID string, req *ws.Request) any {
	if fields := validator.Struct(req); fields != nil {
		return ws.ErrorResponse{Event: ws.EventError, Action: req.Action, Code: string(response.ErrValidation), Error: joinFields(fields)}
	}

	switch req.Action {
	case ws.ActionPing:
		return ws.PongResponse{Event: ws.EventPong}

	case ws.ActionAnswer:
		if req.QuestionID == "" || req.OptionIndex == nil {
			return wsValidationError(req.Action, "question_id and option_index are required")
		}
		status, err := h.sessionService.SelectAnswer(studentID, examID, req.QuestionID, *req.OptionIndex)
		if err != nil {
			return wsError(req.Action, err)
		}
		return ws.SuccessResponse{Event: ws.EventSuccess, Action: req.Action, Data: map[string]any{
			"question_id":  req.QuestionID,
			"option_index": *req.OptionIndex,
			"status":       status,
		}}

	case ws.ActionReview:
		if req.QuestionID == "" {
			return wsValidationError(req.Action, "question_id is required")
		}
		status, err := h.sessionService.ToggleReview(studentID, examID, req.QuestionID)
		if err != nil {
			return wsError(req.Action, err)
		}
		return ws.SuccessResponse{Event: ws.EventSuccess, Action: req.Action, Data: map[string]any{
			"question_id": req.QuestionID,
			"status":      status,
		}}

	case ws.ActionPage:
		if req.Page == nil {
			return wsValidationError(req.Action, "page is required")
		}
		state, err := h.sessionService.SetPage(studentID, examID, *req.Page)
		if err != nil {
			return wsError(req.Action, err)
		}
		return ws.SuccessResponse{Event: ws.EventSuccess, Action: req.Action, Data: state}

	case ws.ActionSubmit:
		// The graded event that closes the stream is the reply.
		if _, err := h.sessionService.Submit(ctx, studentID, examID); err != nil {
			return wsError(req.Action, err)
		}
		return nil
	}

	return wsValidationError(req.Action, "unknown action")
}

func wsError(action ws.Action, err error) ws.ErrorResponse {
	_, code := classify(err)
	return ws.ErrorResponse{Event: ws.EventError, Action: action, Code: string(code), Error: response.GetMessage(code)}
}

func wsValidationError(action ws.Action, msg string) ws.ErrorResponse {
	return ws.ErrorResponse{Event: ws.EventError, Action: action, Code: string(response.ErrValidation), Error: msg}
}

func joinFields(fields map[string]string) string {
	parts := make([]string, 0, len(fields))
	for _, msg := range fields {
		parts = append(parts, msg)
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}
