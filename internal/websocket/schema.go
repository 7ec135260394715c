package websocket

import "github.com/mnrworld/exam-backend/internal/examsession"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer Action = "answer"
	ActionReview Action = "review"
	ActionPage   Action = "page"
	ActionSubmit Action = "submit"
	ActionPing   Action = "ping"
)

// Request is one client message. Which fields are read depends on Action.
type Request struct {
	Action      Action `json:"action" binding:"required,oneof=answer review page submit ping"`
	QuestionID  string `json:"question_id,omitempty"`
	OptionIndex *int   `json:"option_index,omitempty" binding:"omitempty,min=0,max=25"`
	Page        *int   `json:"page,omitempty" binding:"omitempty,min=0"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventTick     Event = "tick"
	EventWarning  Event = "warning"
	EventCritical Event = "critical"
	EventGraded   Event = "graded"
	EventNotice   Event = "notice"
	EventSuccess  Event = "success"
	EventError    Event = "error"
	EventPong     Event = "pong"
)

// TimerResponse carries tick, warning and critical events.
type TimerResponse struct {
	Event     Event  `json:"event"`
	Remaining int    `json:"remaining_seconds"`
	Message   string `json:"message,omitempty"`
}

// NoticeResponse is a non-fatal message for the student.
type NoticeResponse struct {
	Event   Event  `json:"event"`
	Message string `json:"message"`
}

// GradedResponse is sent once the exam has been scored.
type GradedResponse struct {
	Event   Event                `json:"event"`
	Outcome *examsession.Outcome `json:"outcome"`
}

// SuccessResponse acknowledges an action. Data depends on the action.
type SuccessResponse struct {
	Event  Event  `json:"event"`
	Action Action `json:"action"`
	Data   any    `json:"data,omitempty"`
}

type ErrorResponse struct {
	Event  Event  `json:"event"`
	Action Action `json:"action,omitempty"`
	Code   string `json:"code,omitempty"`
	Error  string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}

// FromSessionEvent converts an engine event into its wire form.
func FromSessionEvent(ev examsession.Event) any {
	switch ev.Kind {
	case examsession.EventTick:
		return TimerResponse{Event: EventTick, Remaining: ev.Remaining}
	case examsession.EventWarning:
		return TimerResponse{Event: EventWarning, Remaining: ev.Remaining, Message: ev.Message}
	case examsession.EventCritical:
		return TimerResponse{Event: EventCritical, Remaining: ev.Remaining, Message: ev.Message}
	case examsession.EventGraded:
		return GradedResponse{Event: EventGraded, Outcome: ev.Outcome}
	default:
		return NoticeResponse{Event: EventNotice, Message: ev.Message}
	}
}
