package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/user_directory/internal/middleware/auth"
	"github.com/Skotchmaster/user_directory/internal/service"
	"github.com/Skotchmaster/user_directory/internal/tokens"
	"github.com/Skotchmaster/user_directory/internal/validate"
)

const msgInternal = "internal error"

func httpError(err error) *echo.HTTPError {
	var verr *validate.ValidationError
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
	case errors.Is(err, service.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrDuplicateUser):
		return echo.NewHTTPError(http.StatusConflict, service.ErrDuplicateUser.Error())
	case errors.Is(err, service.ErrInvalidCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, service.ErrInvalidCredentials.Error())
	case isTokenError(err):
		return echo.NewHTTPError(http.StatusUnauthorized, auth.MsgUnauthenticated).SetInternal(err)
	case errors.Is(err, service.ErrSearchUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, service.ErrSearchUnavailable.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, msgInternal).SetInternal(err)
	}
}

func isTokenError(err error) bool {
	return errors.Is(err, tokens.ErrMissingToken) ||
		errors.Is(err, tokens.ErrInvalidToken) ||
		errors.Is(err, tokens.ErrExpiredToken) ||
		errors.Is(err, tokens.ErrRevokedToken)
}
