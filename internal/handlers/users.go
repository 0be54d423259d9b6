package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/user_directory/internal/service"
)

type UsersHandler struct {
	Svc *service.AuthService
}

func NewUsersHandler(svc *service.AuthService) *UsersHandler {
	return &UsersHandler{Svc: svc}
}

func (h *UsersHandler) ListUsers(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	size, _ := strconv.Atoi(c.QueryParam("size"))

	users, err := h.Svc.ListUsers(c.Request().Context(), page, size)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, users)
}

func (h *UsersHandler) SearchUsers(c echo.Context) error {
	q := c.QueryParam("q")
	page, _ := strconv.Atoi(c.QueryParam("page"))
	size, _ := strconv.Atoi(c.QueryParam("size"))

	users, err := h.Svc.SearchUsers(c.Request().Context(), q, page, size)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, users)
}
