// Package handler exposes the lifecycle and renewal workflows over HTTP.
// Every error leaves through fail, which renders the failure envelope.
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/contract-lifecycle/internal/lifecycle"
	"github.com/iliyamo/contract-lifecycle/internal/middleware"
	"github.com/iliyamo/contract-lifecycle/internal/model"
	"github.com/iliyamo/contract-lifecycle/internal/repository"
)

// errStatus maps a workflow error to its HTTP status.
func errStatus(err error) int {
	switch {
	case errors.Is(err, repository.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrConflict), errors.Is(err, lifecycle.ErrIllegalTransition):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// fail writes {success:false, error}.  Store failures are logged and
// reported with a generic message.
func fail(c echo.Context, err error) error {
	status := errStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zerolog.Ctx(c.Request().Context()).Error().Err(err).Str("uri", c.Request().RequestURI).Msg("request failed")
		msg = "operation failed"
	}
	return c.JSON(status, echo.Map{"success": false, "error": msg})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": msg})
}

func callerOf(c echo.Context) (model.Caller, error) {
	// the JWT middleware sets the caller; absence means the route skipped it
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		return model.Caller{}, repository.ErrForbidden
	}
	return caller, nil
}

func now() time.Time { return time.Now().UTC() }
