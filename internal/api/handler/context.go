package handler

import (
	"github.com/labstack/echo/v4"

	"github.com/medtrack/field-gateway/internal/api/middleware"
	"github.com/medtrack/field-gateway/internal/core/domain"
)

// ctxIdentity extracts the identity injected by the Session middleware.
// A missing identity means the route was mounted without it; treat the caller
// as unauthenticated.
func ctxIdentity(c echo.Context) (domain.Identity, error) {
	id, ok := c.Get(middleware.IdentityKey).(domain.Identity)
	if !ok || id.Token == "" {
		return domain.Identity{}, domain.ErrNoSession
	}
	return id, nil
}

func ctxSessionID(c echo.Context) string {
	sid, _ := c.Get(middleware.SessionIDKey).(string)
	return sid
}
