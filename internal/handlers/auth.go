package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/user_directory/internal/logging"
	"github.com/Skotchmaster/user_directory/internal/middleware/auth"
	"github.com/Skotchmaster/user_directory/internal/service"
)

type AuthHandler struct {
	Svc *service.AuthService
}

func NewAuthHandler(svc *service.AuthService) *AuthHandler {
	return &AuthHandler{Svc: svc}
}

func (h *AuthHandler) Register(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_register")

	var req registerRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("register_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := c.Validate(&req); err != nil {
		l.Warn("register_error", "status", 400, "error", err)
		return httpError(err)
	}

	msg, err := h.Svc.Register(ctx, service.RegisterInput{
		Username:    req.Username,
		Password:    req.Password,
		IsModerator: req.IsModerator,
		Consent:     req.Consent,
	})
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, msg)
}

func (h *AuthHandler) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_login")

	var req loginRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("login_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	res, err := h.Svc.Login(ctx, req.Username, req.Password)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, tokenPair{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken})
}

func (h *AuthHandler) Refresh(c echo.Context) error {
	ctx := c.Request().Context()

	var req tokenRequest
	if err := c.Bind(&req); err != nil {
		logging.FromContext(ctx).Warn("refresh_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	res, err := h.Svc.Refresh(ctx, req.Token)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, tokenPair{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken})
}

func (h *AuthHandler) LogOut(c echo.Context) error {
	ctx := c.Request().Context()

	id, ok := auth.IdentityFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, auth.MsgUnauthenticated)
	}

	var req tokenRequest
	if err := c.Bind(&req); err != nil {
		logging.FromContext(ctx).Warn("logout_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	msg, err := h.Svc.LogOut(ctx, id, req.Token)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, msg)
}

func (h *AuthHandler) Profile(c echo.Context) error {
	id, ok := auth.IdentityFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, auth.MsgUnauthenticated)
	}
	return c.JSON(http.StatusOK, h.Svc.Profile(c.Request().Context(), id))
}
