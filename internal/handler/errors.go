package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mnrworld/exam-backend/internal/examsession"
	"github.com/mnrworld/exam-backend/internal/questionbank"
	"github.com/mnrworld/exam-backend/internal/repository"
	"github.com/mnrworld/exam-backend/internal/response"
	"github.com/mnrworld/exam-backend/internal/service"
)

// classify maps a service error onto an HTTP status and API error code.
func classify(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, response.ErrInvalidCredentials
	case errors.Is(err, service.ErrAuthorizationDenied):
		return http.StatusForbidden, response.ErrAuthorizationDenied
	case errors.Is(err, repository.ErrExamNotFound):
		return http.StatusNotFound, response.ErrExamNotFound
	case errors.Is(err, repository.ErrStudentNotFound):
		return http.StatusNotFound, response.ErrNotFound
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound, response.ErrSessionNotFound
	case errors.Is(err, examsession.ErrSessionClosed):
		return http.StatusConflict, response.ErrSessionClosed
	case errors.Is(err, examsession.ErrInvalidOption):
		return http.StatusBadRequest, response.ErrInvalidOption
	case errors.Is(err, questionbank.ErrNoQuestions), errors.Is(err, examsession.ErrNoQuestions):
		return http.StatusUnprocessableEntity, response.ErrNoQuestions
	case errors.Is(err, questionbank.ErrSourceUnavailable):
		return http.StatusBadGateway, response.ErrSourceUnavailable
	case errors.Is(err, examsession.ErrInvalidNegativeMarks),
		errors.Is(err, examsession.ErrInvalidDuration),
		errors.Is(err, examsession.ErrInvalidPageSize):
		return http.StatusInternalServerError, response.ErrExamMisconfigured
	case errors.Is(err, repository.ErrPersistenceUnavailable):
		return http.StatusServiceUnavailable, response.ErrPersistenceUnavailable
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// failWithError writes the error response for err and records it on the
// context so the access log carries the cause.
func failWithError(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	response.Fail(c, status, code)
}
