package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/user_directory/internal/logging"
	"github.com/Skotchmaster/user_directory/internal/metrics"
	"github.com/Skotchmaster/user_directory/internal/tokens"
)

// MsgUnauthenticated is returned for every 401 so callers cannot tell a
// missing token from a forged or expired one.
const MsgUnauthenticated = "invalid or missing token"

const CtxIdentity = "identity"

type AccessValidator interface {
	ValidateAccessToken(raw string) (tokens.Identity, error)
}

type Middleware struct {
	Tokens  AccessValidator
	Metrics *metrics.Metrics
}

func NewMiddleware(v AccessValidator, m *metrics.Metrics) *Middleware {
	return &Middleware{Tokens: v, Metrics: m}
}

// RequireAuth admits requests carrying a valid "Authorization: Bearer" access token.
func (m *Middleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		l := logging.FromContext(ctx).With("mw", "require_auth")

		id, err := m.Tokens.ValidateAccessToken(bearerToken(c.Request()))
		if err != nil {
			reason := tokens.Reason(err)
			l.Warn("auth_rejected", "status", 401, "reason", reason)
			m.Metrics.TokenRejected(reason)
			return echo.NewHTTPError(http.StatusUnauthorized, MsgUnauthenticated)
		}

		c.Set(CtxIdentity, id)
		ctx = logging.IntoContext(withIdentity(ctx, id), l.With("username", id.Username))
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get(echo.HeaderAuthorization))
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

type identityKey struct{}

func withIdentity(ctx context.Context, id tokens.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFromContext(ctx context.Context) (tokens.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(tokens.Identity)
	return id, ok
}

func IdentityFrom(c echo.Context) (tokens.Identity, bool) {
	id, ok := c.Get(CtxIdentity).(tokens.Identity)
	return id, ok
}
