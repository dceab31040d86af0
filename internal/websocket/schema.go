package websocket

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/stemsi/examroom/internal/model"
	"github.com/stemsi/examroom/internal/session"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer     Action = "answer"
	ActionMatch      Action = "match"
	ActionVisibility Action = "visibility"
	ActionSubmit     Action = "submit"
	ActionState      Action = "state"
	ActionPing       Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AnswerRequest replaces the whole answer for one question. Answer holds
// the wire shape for the question type: a string, or a list for matching.
type AnswerRequest struct {
	Action     Action          `json:"action"`
	QuestionID uuid.UUID       `json:"question_id"`
	Answer     json.RawMessage `json:"answer"`
}

// MatchRequest sets the guess for one right-hand item of a matching question.
type MatchRequest struct {
	Action     Action    `json:"action"`
	QuestionID uuid.UUID `json:"question_id"`
	Index      int       `json:"index"`
	Guess      string    `json:"guess"`
}

// VisibilityRequest reports a page visibility change.
type VisibilityRequest struct {
	Action Action `json:"action"`
	Hidden bool   `json:"hidden"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventStarted      Event = "started"
	EventState        Event = "state"
	EventSaved        Event = "saved"
	EventTick         Event = "tick"
	EventWarning      Event = "warning"
	EventSubmitting   Event = "submitting"
	EventSubmitted    Event = "submitted"
	EventSubmitFailed Event = "submit_failed"
	EventError        Event = "error"
	EventPong         Event = "pong"
)

// StartedResponse is the first message of a stream.
type StartedResponse struct {
	Event     Event                      `json:"event"`
	Exam      model.ExamForStudent       `json:"exam"`
	Questions []model.QuestionForStudent `json:"questions"`
	Snapshot  session.Snapshot           `json:"snapshot"`
}

// StateResponse carries the current snapshot.
type StateResponse struct {
	Event    Event            `json:"event"`
	Snapshot session.Snapshot `json:"snapshot"`
}

type SavedResponse struct {
	Event      Event     `json:"event"`
	QuestionID uuid.UUID `json:"question_id"`
}

type WarningResponse struct {
	Event    Event            `json:"event"`
	Count    int              `json:"count"`
	Message  string           `json:"message"`
	Fatal    bool             `json:"fatal"`
	Snapshot session.Snapshot `json:"snapshot"`
}

type SubmittedResponse struct {
	Event        Event            `json:"event"`
	SubmissionID uuid.UUID        `json:"submission_id"`
	Reason       session.Reason   `json:"reason"`
	Snapshot     session.Snapshot `json:"snapshot"`
}

type SubmitFailedResponse struct {
	Event    Event            `json:"event"`
	Reason   session.Reason   `json:"reason"`
	Error    string           `json:"error"`
	Snapshot session.Snapshot `json:"snapshot"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
