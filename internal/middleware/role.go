package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RequireKnownRole rejects callers whose role claim is not one of the
// model roles.  Finer checks happen in the services.
func RequireKnownRole() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			caller, ok := CallerFrom(c)
			if !ok || !caller.Role.Valid() {
				return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "forbidden"})
			}
			return next(c)
		}
	}
}
