package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/examroom/internal/grading"
	"github.com/stemsi/examroom/internal/model"
	"github.com/stemsi/examroom/internal/repository"
	"github.com/stemsi/examroom/internal/response"
	"github.com/stemsi/examroom/internal/service"
	"github.com/stemsi/examroom/internal/session"
	"github.com/stemsi/examroom/internal/unlock"
)

// failFromError writes the error envelope for a service error. Unknown
// errors are recorded on the context for the request logger.
func failFromError(c *gin.Context, err error) {
	status, code := classify(err)

	var access *session.AccessError
	switch {
	case errors.As(err, &access):
		response.FailWithDetail(c, status, code, access.Error())
		return
	case code == response.ErrInvalidQuestion:
		response.FailWithDetail(c, status, code, err.Error())
		return
	case status >= http.StatusInternalServerError:
		_ = c.Error(err)
	}
	response.Fail(c, status, code)
}

func classify(err error) (int, response.ErrCode) {
	var access *session.AccessError
	if errors.As(err, &access) {
		if access.Window == model.WindowClosed {
			return http.StatusForbidden, response.ErrExamClosed
		}
		return http.StatusForbidden, response.ErrExamNotOpen
	}

	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, response.ErrNotFound
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, response.ErrInvalidCredentials
	case errors.Is(err, service.ErrSessionInvalidated):
		return http.StatusUnauthorized, response.ErrSessionInvalidated
	case errors.Is(err, repository.ErrDuplicateEmail):
		return http.StatusConflict, response.ErrConflict
	case errors.Is(err, repository.ErrUserInUse):
		return http.StatusConflict, response.ErrInUse
	case errors.Is(err, service.ErrRegistrationClosed):
		return http.StatusForbidden, response.ErrRegistrationOff
	case errors.Is(err, unlock.ErrInvalidToken):
		return http.StatusBadRequest, response.ErrInvalidEntryToken
	case errors.Is(err, service.ErrExamLocked):
		return http.StatusForbidden, response.ErrExamLocked
	case errors.Is(err, service.ErrAlreadySubmitted):
		return http.StatusConflict, response.ErrAlreadySubmitted
	case errors.Is(err, service.ErrShuttingDown), errors.Is(err, session.ErrAbandoned):
		return http.StatusServiceUnavailable, response.ErrServiceUnavailable
	case errors.Is(err, service.ErrAttemptActive), errors.Is(err, session.ErrAlreadyStarted):
		return http.StatusConflict, response.ErrAttemptActive
	case service.IsValidationError(err):
		return http.StatusBadRequest, response.ErrInvalidQuestion
	case errors.Is(err, grading.ErrAlreadyGraded):
		return http.StatusConflict, response.ErrAlreadyGraded
	case errors.Is(err, grading.ErrNotManual):
		return http.StatusBadRequest, response.ErrNotManual
	case errors.Is(err, grading.ErrInvalidScore):
		return http.StatusBadRequest, response.ErrInvalidScore
	case errors.Is(err, grading.ErrUnknownQuestion):
		return http.StatusBadRequest, response.ErrInvalidPayload
	}
	return http.StatusInternalServerError, response.ErrInternal
}
