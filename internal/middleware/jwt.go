package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/contract-lifecycle/internal/model"
)

const callerKey = "caller"

// Claims is the access token payload: sub is the user id, role one of
// the model roles.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func unauthorized(c echo.Context, msg string) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "error": msg})
}

// JWTAuth validates an HS256 Bearer token and stores the caller in the
// context.  Handlers read it back with CallerFrom.
func JWTAuth(secret string) echo.MiddlewareFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return unauthorized(c, "missing bearer token")
			}
			raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))

			var claims Claims
			tok, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
				return []byte(secret), nil
			})
			if err != nil || !tok.Valid {
				return unauthorized(c, "invalid token")
			}
			if claims.Subject == "" {
				return unauthorized(c, "invalid claims")
			}

			c.Set(callerKey, model.Caller{ID: claims.Subject, Role: model.Role(claims.Role)})
			return next(c)
		}
	}
}

// CallerFrom returns the identity stored by JWTAuth.
func CallerFrom(c echo.Context) (model.Caller, bool) {
	caller, ok := c.Get(callerKey).(model.Caller)
	return caller, ok
}

// callerID is used for rate limit keys; anonymous requests share "anon".
func callerID(c echo.Context) string {
	if caller, ok := CallerFrom(c); ok && caller.ID != "" {
		return caller.ID
	}
	return "anon"
}
