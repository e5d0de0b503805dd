package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medtrack/field-gateway/internal/api/metrics"
	"github.com/medtrack/field-gateway/internal/core/domain"
	"github.com/medtrack/field-gateway/internal/core/ports"
)

const (
	// HeaderSessionID carries the opaque session id issued at login.
	HeaderSessionID = "X-Session-ID"
	// SessionCookie is the cookie fallback for browsers.
	SessionCookie = "medtrack_session"

	IdentityKey  = "identity"
	SessionIDKey = "session_id"
)

// SessionID returns the session id presented by the caller, header first.
func SessionID(c echo.Context) string {
	if sid := strings.TrimSpace(c.Request().Header.Get(HeaderSessionID)); sid != "" {
		return sid
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}

// Session restores the caller's session and injects its identity into the
// echo context. Whenever the request ends in domain.ErrUnauthorized (a backend
// 401) the session is invalidated before the error is rendered.
func Session(sessions ports.SessionService, log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sid := SessionID(c)
			sess, err := sessions.Restore(c.Request().Context(), sid)
			if err != nil {
				if sid != "" && errors.Is(err, domain.ErrNoSession) {
					clearCookie(c)
				}
				return err
			}

			c.Set(IdentityKey, sess.Identity)
			c.Set(SessionIDKey, sess.ID)

			err = next(c)
			if errors.Is(err, domain.ErrUnauthorized) || errors.Is(err, domain.ErrNoSession) {
				ctx := context.WithoutCancel(c.Request().Context())
				if invErr := sessions.Invalidate(ctx, sess.ID); invErr != nil {
					log.Error().Err(invErr).Msg("failed to invalidate session after 401")
				} else {
					metrics.SessionsInvalidatedTotal.WithLabelValues("unauthorized").Inc()
				}
				clearCookie(c)
			}
			return err
		}
	}
}

func clearCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
