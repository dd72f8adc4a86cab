package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/claimflow/internal/claims"
	"github.com/claimflow/pkg/models"
)

// statusFor maps workflow errors to HTTP. A passed deadline is checked
// first since a suspended claim also fails its transition.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, claims.ErrDeadlinePassed):
		return http.StatusGone, "deadline_passed"
	case errors.Is(err, claims.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, claims.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, claims.ErrConcurrencyConflict):
		return http.StatusConflict, "concurrency_conflict"
	case errors.Is(err, claims.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	}
	return http.StatusInternalServerError, "internal"
}

func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, _ := he.Message.(string)
		if msg == "" {
			msg = http.StatusText(he.Code)
		}
		_ = c.JSON(he.Code, models.ErrorResponse{Error: msg, Code: codeForStatus(he.Code)})
		return
	}

	status, code := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusGone:
		msg = "response window closed"
	case http.StatusInternalServerError:
		log.Error().Err(err).Str("path", c.Path()).Msg("Unhandled API error")
		msg = "internal error"
	}
	_ = c.JSON(status, models.ErrorResponse{Error: msg, Code: code})
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_input"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	}
	return "error"
}
