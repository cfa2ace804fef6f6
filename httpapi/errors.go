package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"clinicflow/clinic"
)

// statusFor maps an engine error kind to its HTTP status.
func statusFor(err error) int {
	switch clinic.KindOf(err) {
	case clinic.ErrValidation:
		return http.StatusBadRequest
	case clinic.ErrNotFound:
		return http.StatusNotFound
	case clinic.ErrInvalidTransition:
		return http.StatusUnprocessableEntity
	case clinic.ErrGuardNotSatisfied, clinic.ErrConcurrencyConflict:
		return http.StatusConflict
	case clinic.ErrStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// codeForStatus names echo-level failures that never reached the engine.
func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	default:
		if status >= http.StatusInternalServerError {
			return "INTERNAL"
		}
		return http.StatusText(status)
	}
}

// errorHandler renders every error as {"error":{"code","message"}}.
// Messages of unclassified errors are not echoed to the client.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var (
		status int
		body   errorBody
		he     *echo.HTTPError
	)
	switch {
	case errors.As(err, &he):
		status = he.Code
		body = errorBody{Code: codeForStatus(status), Message: fmt.Sprint(he.Message)}
	case errors.Is(err, clinic.ErrStorage):
		status = statusFor(err)
		body = errorBody{Code: clinic.Code(err), Message: "storage unavailable, retry later"}
	case clinic.KindOf(err) != nil:
		status = statusFor(err)
		body = errorBody{Code: clinic.Code(err), Message: err.Error()}
	default:
		status = http.StatusInternalServerError
		body = errorBody{Code: clinic.Code(err), Message: http.StatusText(status)}
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, errorResponse{Error: body})
}
