package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/devlink/identity/internal/api/handler"
	"github.com/devlink/identity/internal/core/domain"
)

// NewHTTPErrorHandler returns an echo.HTTPErrorHandler that:
//   - Maps domain error kinds to their HTTP status codes.
//   - Logs unexpected errors internally without leaking details to the client.
//   - Renders a consistent JSON envelope: {"error": "<message>"}.
func NewHTTPErrorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, body := resolveError(err, log, c)
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, body)
	}
}

func resolveError(err error, log zerolog.Logger, c echo.Context) (int, handler.ErrorResponse) {
	// Echo's own errors (bind failures, 404 from router, etc.)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, handler.ErrorResponse{Error: fmt.Sprintf("%v", he.Message)}
	}

	var fe handler.FieldErrors
	if errors.As(err, &fe) {
		return http.StatusUnprocessableEntity, handler.ErrorResponse{Error: "validation failed", Details: fe}
	}

	var de *domain.Error
	if errors.As(err, &de) {
		code := statusOf(de.Kind)
		entry := log.Debug()
		if errors.Is(err, domain.ErrTokenReuse) {
			entry = log.Warn().Str("event", "reuse_detected")
		}
		entry.Str("kind", de.Kind.Error()).
			Str("reason", de.Reason).
			Str("request_id", requestID(c)).
			Str("path", c.Path()).
			Int("status", code).
			Msg("request rejected")
		return code, handler.ErrorResponse{Error: de.Error()}
	}

	// Bare sentinels from adapters.
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, handler.ErrorResponse{Error: "not found"}
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, handler.ErrorResponse{Error: "conflict"}
	}

	// Unexpected error: log the real cause, return a generic message.
	log.Error().
		Err(err).
		Str("method", c.Request().Method).
		Str("path", c.Path()).
		Str("request_id", requestID(c)).
		Msg("unhandled error")

	return http.StatusInternalServerError, handler.ErrorResponse{Error: "internal server error"}
}

func statusOf(kind error) int {
	switch kind {
	case domain.ErrValidation:
		return http.StatusBadRequest
	case domain.ErrConflict:
		return http.StatusConflict
	case domain.ErrUnauthorized, domain.ErrTokenReuse:
		return http.StatusUnauthorized
	case domain.ErrForbidden:
		return http.StatusForbidden
	case domain.ErrInvalidToken:
		return http.StatusBadRequest
	case domain.ErrNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func requestID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}
