package websocket

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/stemsi/examroom/internal/model"
	"github.com/stemsi/examroom/internal/response"
	"github.com/stemsi/examroom/internal/session"
)

// Attempt is the part of a running exam session a stream drives.
type Attempt interface {
	Questions() []model.QuestionForStudent
	SubmitAnswer(questionID uuid.UUID, a model.StudentAnswer) error
	SubmitMatch(questionID uuid.UUID, rightIndex int, guess string) error
	ReportVisibility(hidden bool) (session.Warning, error)
	ForceSubmit() bool
	RetrySubmit(ctx context.Context) error
	State() session.State
	Snapshot() session.Snapshot
}

// Dispatcher turns client messages into calls on one attempt.
type Dispatcher struct {
	attempt Attempt
	types   map[uuid.UUID]model.QuestionType
}

func NewDispatcher(a Attempt) *Dispatcher {
	qs := a.Questions()
	types := make(map[uuid.UUID]model.QuestionType, len(qs))
	for _, q := range qs {
		types[q.ID] = q.Type
	}
	return &Dispatcher{attempt: a, types: types}
}

// Handle applies one raw client message and returns the direct reply, if
// any. Submission results arrive separately as session events.
func (d *Dispatcher) Handle(ctx context.Context, data []byte) interface{} {
	var env RequestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return errorReply(response.ErrInvalidPayload, "malformed message")
	}

	switch env.Action {
	case ActionAnswer:
		var req AnswerRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return errorReply(response.ErrInvalidPayload, "malformed answer")
		}
		return d.answer(req)

	case ActionMatch:
		var req MatchRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return errorReply(response.ErrInvalidPayload, "malformed match")
		}
		if err := d.attempt.SubmitMatch(req.QuestionID, req.Index, req.Guess); err != nil {
			return sessionError(err)
		}
		return SavedResponse{Event: EventSaved, QuestionID: req.QuestionID}

	case ActionVisibility:
		var req VisibilityRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return errorReply(response.ErrInvalidPayload, "malformed visibility report")
		}
		// Warnings are pushed through the session's notifier.
		if _, err := d.attempt.ReportVisibility(req.Hidden); err != nil {
			return sessionError(err)
		}
		return nil

	case ActionSubmit:
		return d.submit(ctx)

	case ActionState:
		return StateResponse{Event: EventState, Snapshot: d.attempt.Snapshot()}

	case ActionPing:
		return PongResponse{Event: EventPong}
	}

	return errorReply(response.ErrInvalidPayload, "unknown action: "+string(env.Action))
}

func (d *Dispatcher) answer(req AnswerRequest) interface{} {
	t, ok := d.types[req.QuestionID]
	if !ok {
		return sessionError(session.ErrUnknownQuestion)
	}
	a, err := model.DecodeStudentAnswer(t, req.Answer)
	if err != nil {
		return errorReply(response.ErrInvalidPayload, err.Error())
	}
	if err := d.attempt.SubmitAnswer(req.QuestionID, a); err != nil {
		return sessionError(err)
	}
	return SavedResponse{Event: EventSaved, QuestionID: req.QuestionID}
}

// submit ends the attempt, or retries the save when an earlier one failed.
func (d *Dispatcher) submit(ctx context.Context) interface{} {
	if d.attempt.ForceSubmit() {
		return StateResponse{Event: EventSubmitting, Snapshot: d.attempt.Snapshot()}
	}
	if d.attempt.State() != session.StateTerminating {
		return sessionError(session.ErrNotActive)
	}
	err := d.attempt.RetrySubmit(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrNothingToRetry), errors.Is(err, session.ErrSubmitInProgress):
		return StateResponse{Event: EventSubmitting, Snapshot: d.attempt.Snapshot()}
	}
	// The failure itself is reported by the submit_failed event.
	return nil
}

// FromEvent converts a session notification to its wire message.
func FromEvent(e session.Event) interface{} {
	switch e.Kind {
	case session.EventTick:
		return StateResponse{Event: EventTick, Snapshot: e.Snapshot}
	case session.EventWarning:
		w := WarningResponse{Event: EventWarning, Snapshot: e.Snapshot}
		if e.Warning != nil {
			w.Count = e.Warning.Count
			w.Message = e.Warning.Message
			w.Fatal = e.Warning.Fatal
		}
		return w
	case session.EventSubmitted:
		out := SubmittedResponse{Event: EventSubmitted, Reason: e.Reason, Snapshot: e.Snapshot}
		if e.Submission != nil {
			out.SubmissionID = e.Submission.ID
		}
		return out
	case session.EventSubmitFailed:
		msg := session.ErrPersistence.Error()
		return SubmitFailedResponse{Event: EventSubmitFailed, Reason: e.Reason, Error: msg, Snapshot: e.Snapshot}
	}
	return nil
}

func errorReply(code response.ErrCode, msg string) ErrorResponse {
	return ErrorResponse{Event: EventError, Code: string(code), Error: msg}
}

func sessionError(err error) ErrorResponse {
	switch {
	case errors.Is(err, session.ErrNotActive):
		return errorReply("NOT_ACTIVE", err.Error())
	case errors.Is(err, session.ErrUnknownQuestion):
		return errorReply(response.ErrNotFound, err.Error())
	case errors.Is(err, session.ErrAnswerMismatch):
		return errorReply(response.ErrInvalidPayload, err.Error())
	}
	return errorReply(response.ErrInternal, response.GetMessage(response.ErrInternal))
}
