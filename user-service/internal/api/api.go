package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"auction-logistics/internal/platform/auth"
	"auction-logistics/internal/platform/xerrors"
	"auction-logistics/user-service/internal/entity"
	"auction-logistics/user-service/internal/service"
)

type UserHandler struct {
	userService *service.UserService
}

// NewUserHandler creates a new instance of UserHandler
func NewUserHandler(userService *service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

func (h *UserHandler) Register(e *echo.Echo, jwtSecret string) {
	e.POST("/login", h.Login)
	e.GET("/users/validate", h.ValidateSession)

	jwt := auth.Middleware(jwtSecret)
	e.POST("/logout", h.Logout, jwt)
	e.GET("/users/:id", h.GetUserByID, jwt)
	e.POST("/users", h.CreateUser, jwt, auth.Require(auth.UsersWrite))
}

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return fmt.Errorf("%w: invalid request payload", xerrors.ErrInvalidInput)
	}
	return nil
}

// GetUserByID retrieves a user by ID --> /users/:id
func (h *UserHandler) GetUserByID(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid user id", xerrors.ErrInvalidInput)
	}
	user, err := h.userService.GetUserByID(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, user)
}

// CreateUser creates a new user --> /users
func (h *UserHandler) CreateUser(c echo.Context) error {
	var in entity.CreateUserInput
	if err := bind(c, &in); err != nil {
		return err
	}
	user, err := h.userService.CreateUser(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, user)
}

// Login logs in a user --> /login
func (h *UserHandler) Login(c echo.Context) error {
	var in entity.LoginInput
	if err := bind(c, &in); err != nil {
		return err
	}
	res, err := h.userService.Login(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// ValidateSession validates a session token --> /users/validate
func (h *UserHandler) ValidateSession(c echo.Context) error {
	token := c.Request().Header.Get(echo.HeaderAuthorization)
	if token == "" {
		return xerrors.ErrUnauthorized
	}
	p, err := h.userService.ValidateToken(c.Request().Context(), token)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"message": "Session is valid", "user": p})
}

// Logout ends the caller's session --> /logout
func (h *UserHandler) Logout(c echo.Context) error {
	p, err := auth.FromContext(c)
	if err != nil {
		return err
	}
	if err := h.userService.Logout(c.Request().Context(), p); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
