package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/stemsi/examroom/internal/model"
)

var (
	ErrAccessDenied     = errors.New("exam is not open")
	ErrNotActive        = errors.New("exam session is not active")
	ErrAlreadyStarted   = errors.New("exam session already started")
	ErrUnknownQuestion  = errors.New("question is not part of this exam")
	ErrAnswerMismatch   = errors.New("answer does not fit question type")
	ErrPersistence      = errors.New("submission could not be saved")
	ErrNothingToRetry   = errors.New("no pending submission")
	ErrSubmitInProgress = errors.New("submission already in progress")
	ErrAbandoned        = errors.New("exam session abandoned")
)

// AccessError reports why an exam cannot be started right now.
// It matches ErrAccessDenied with errors.Is.
type AccessError struct {
	Window model.WindowState
	Opens  *time.Time
	Closes *time.Time
}

func (e *AccessError) Error() string {
	switch e.Window {
	case model.WindowUpcoming:
		if e.Opens != nil {
			return fmt.Sprintf("exam is not open yet, opens at %s", e.Opens.Format(time.RFC3339))
		}
		return "exam is not open yet"
	case model.WindowClosed:
		if e.Closes != nil {
			return fmt.Sprintf("exam has closed, closed at %s", e.Closes.Format(time.RFC3339))
		}
		return "exam has closed"
	}
	return ErrAccessDenied.Error()
}

func (e *AccessError) Is(target error) bool {
	return target == ErrAccessDenied
}
