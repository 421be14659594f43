package api

import (
	"errors"

	"AgentFlow/internal/domain/models"
	xhttp "AgentFlow/pkg/http"

	"github.com/labstack/echo/v4"
)

// toAppError maps domain errors onto HTTP errors.
func toAppError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, models.ErrNotFound):
		return xhttp.NotFoundError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrInvalidGraph):
		return xhttp.BadRequestError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrNotCancellable),
		errors.Is(err, models.ErrAlreadyDecided),
		errors.Is(err, models.ErrNotAwaitingApproval),
		errors.Is(err, models.ErrApprovalExpired),
		errors.Is(err, models.ErrExecutionBusy),
		errors.Is(err, models.ErrVersionConflict):
		return xhttp.ConflictError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrQueueFull), errors.Is(err, models.ErrSnapshotUnavailable):
		return xhttp.ServiceUnavailableError(err.Error()).WithError(err)
	default:
		return xhttp.InternalError("internal error").WithError(err)
	}
}

// errorResponse writes err, expanding validation failures field by field.
func errorResponse(c echo.Context, err error) error {
	var verr *models.ValidationErrors
	if errors.As(err, &verr) {
		out := make([]xhttp.ValidationError, 0, len(verr.Errors))
		for _, fe := range verr.Errors {
			out = append(out, xhttp.ValidationError{Code: fe.Code, Field: fe.Field, Message: fe.Message})
		}
		return xhttp.ValidationErrorResponse(c, out)
	}
	return xhttp.AppErrorResponse(c, toAppError(err))
}
