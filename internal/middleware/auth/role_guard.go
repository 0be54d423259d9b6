package auth

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/user_directory/internal/logging"
	"github.com/Skotchmaster/user_directory/internal/tokens"
)

// MsgForbidden is the body of every 403 from the role guard.
const MsgForbidden = "Unauthorized"

var ErrUnauthorized = errors.New("unauthorized")

// Permits reports whether id holds every bit of required.
func Permits(id tokens.Identity, required tokens.Capability) bool {
	return id.Has(required)
}

// RequireCapability must run after RequireAuth.
func RequireCapability(required tokens.Capability) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := IdentityFrom(c)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, MsgUnauthenticated)
			}
			if !Permits(id, required) {
				logging.FromContext(c.Request().Context()).Warn("access_denied", "status", 403, "username", id.Username)
				return echo.NewHTTPError(http.StatusForbidden, MsgForbidden).SetInternal(ErrUnauthorized)
			}
			return next(c)
		}
	}
}

func RequireModerator(next echo.HandlerFunc) echo.HandlerFunc {
	return RequireCapability(tokens.CapModerator)(next)
}
