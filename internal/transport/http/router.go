package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Skotchmaster/user_directory/internal/handlers"
	"github.com/Skotchmaster/user_directory/internal/metrics"
	"github.com/Skotchmaster/user_directory/internal/middleware/auth"
	loggingmw "github.com/Skotchmaster/user_directory/internal/middleware/logging"
	"github.com/Skotchmaster/user_directory/internal/validate"
)

type Deps struct {
	AuthHandler  *handlers.AuthHandler
	UsersHandler *handlers.UsersHandler
	Auth         *auth.Middleware
	Metrics      *metrics.Metrics
	// Ready backs /health/ready; nil means always ready.
	Ready func(ctx context.Context) error
}

// New builds the echo instance with the shared middleware chain and all routes.
func New(d *Deps, logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler
	e.Validator = validate.New()

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(
		middleware.Recover(),
		middleware.RequestID(),
		d.Metrics.Middleware(),
		loggingmw.RequestLogger(logger),
	)

	Register(e, d)
	return e
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error {
		if d.Ready != nil {
			if err := d.Ready(c.Request().Context()); err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "not ready").SetInternal(err)
			}
		}
		return c.NoContent(http.StatusOK)
	})
	e.GET("/metrics", echo.WrapHandler(d.Metrics.Handler()))

	e.POST("/register", d.AuthHandler.Register)
	e.POST("/login", d.AuthHandler.Login)
	e.POST("/refresh", d.AuthHandler.Refresh)

	e.GET("/profile", d.AuthHandler.Profile, d.Auth.RequireAuth)
	e.POST("/logout", d.AuthHandler.LogOut, d.Auth.RequireAuth)

	users := e.Group("/users", d.Auth.RequireAuth, auth.RequireModerator)
	users.GET("", d.UsersHandler.ListUsers)
	users.GET("/search", d.UsersHandler.SearchUsers)
}
