package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/longask/internal/backend"
	"github.com/samcharles93/longask/internal/queue"
)

var errBadRequest = errors.New("invalid_request")

type badRequestError struct {
	msg string
}

func (e badRequestError) Error() string { return e.msg }

func (e badRequestError) Unwrap() error { return errBadRequest }

func newBadRequest(msg string) error {
	return badRequestError{msg: msg}
}

// ErrorBody is the error envelope of every JSON endpoint.
type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ErrorBody{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "", "")
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, "", "")
}

// classify maps a prediction failure to an HTTP status and error type.
func classify(err error) (int, string) {
	var status *backend.StatusError
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, queue.ErrQueueFull):
		return http.StatusServiceUnavailable, "queue_full"
	case errors.Is(err, queue.ErrClosed):
		return http.StatusServiceUnavailable, "server_shutting_down"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.As(err, &status):
		return http.StatusBadGateway, "backend_error"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}

func writePredictionError(c *echo.Context, err error) error {
	status, typ := classify(err)
	return writeError(c, status, typ, err.Error(), "", "")
}
