package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/medtrack/field-gateway/internal/api/metrics"
	"github.com/medtrack/field-gateway/internal/api/middleware"
	"github.com/medtrack/field-gateway/internal/core/domain"
	"github.com/medtrack/field-gateway/internal/core/ports"
)

type AuthHandler struct {
	sessions     ports.SessionService
	secureCookie bool
}

// NewAuthHandler builds the login/logout endpoints. secureCookie marks the
// session cookie Secure, which production deployments behind TLS want.
func NewAuthHandler(sessions ports.SessionService, secureCookie bool) *AuthHandler {
	return &AuthHandler{sessions: sessions, secureCookie: secureCookie}
}

type registerRequest struct {
	Name     string `json:"name"     validate:"required"`
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Role     string `json:"role"     validate:"required,oneof=ADMIN MANAGER REP"`
	Phone    string `json:"phone,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type userView struct {
	ID    int64       `json:"id"`
	Name  string      `json:"name,omitempty"`
	Email string      `json:"email,omitempty"`
	Role  domain.Role `json:"role"`
}

type sessionResponse struct {
	SessionID    string              `json:"session_id,omitempty"`
	User         userView            `json:"user"`
	ExpiresAt    time.Time           `json:"expires_at"`
	Capabilities []domain.Capability `json:"capabilities"`
}

func newSessionResponse(sess *domain.Session, caps []domain.Capability) sessionResponse {
	id := sess.Identity
	return sessionResponse{
		SessionID:    sess.ID,
		User:         userView{ID: id.UserID, Name: id.Name, Email: id.Email, Role: id.Role},
		ExpiresAt:    id.ExpiresAt,
		Capabilities: caps,
	}
}

// Register creates a new user account. No session is created.
//
// @Summary      Register a new user
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      registerRequest  true  "User registration details"
// @Success      201   {object}  domain.User
// @Failure      400   {object}  map[string]string
// @Failure      422   {object}  map[string]string
// @Failure      502   {object}  map[string]string
// @Router       /auth/register [post]
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	user, err := h.sessions.Register(c.Request().Context(), ports.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
		Phone:    req.Phone,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, user)
}

// Login authenticates against the backend and opens a gateway session.
//
// @Summary      Login
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      loginRequest  true  "Login credentials"
// @Success      200   {object}  sessionResponse
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      502   {object}  map[string]string
// @Router       /auth/login [post]
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	sess, err := h.sessions.Authenticate(c.Request().Context(), req.Email, req.Password)
	metrics.LoginsTotal.WithLabelValues(loginResult(err)).Inc()
	if err != nil {
		return err
	}

	c.SetCookie(&http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.Identity.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return c.JSON(http.StatusOK, newSessionResponse(sess, h.sessions.Capabilities(sess.Identity)))
}

// Logout clears the caller's session. It succeeds even when the backend is
// unreachable since nothing is sent to it.
//
// @Summary      Logout
// @Tags         auth
// @Success      204
// @Failure      401   {object}  map[string]string
// @Router       /auth/logout [post]
func (h *AuthHandler) Logout(c echo.Context) error {
	sid := ctxSessionID(c)
	if sid == "" {
		return domain.ErrNoSession
	}
	if err := h.sessions.Invalidate(context.WithoutCancel(c.Request().Context()), sid); err != nil {
		return err
	}
	metrics.SessionsInvalidatedTotal.WithLabelValues("logout").Inc()

	c.SetCookie(&http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return c.NoContent(http.StatusNoContent)
}

func loginResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrInvalidCredentials), errors.Is(err, domain.ErrValidation):
		return "invalid_credentials"
	case errors.Is(err, domain.ErrNetwork):
		return "network"
	default:
		return "error"
	}
}
