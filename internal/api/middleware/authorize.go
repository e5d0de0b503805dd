package middleware

import (
	"fmt"

	"github.com/labstack/echo/v4"

	"github.com/medtrack/field-gateway/internal/api/metrics"
	"github.com/medtrack/field-gateway/internal/core/domain"
	"github.com/medtrack/field-gateway/internal/core/ports"
)

// Require enforces a single capability from the role-capability matrix.
// It must run after Session.
func Require(sessions ports.SessionService, resource domain.Resource, action domain.Action) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := identityOf(c)
			if !ok {
				return domain.ErrNoSession
			}
			if !sessions.Authorize(id, resource, action) {
				metrics.AuthorizationDenialsTotal.WithLabelValues(string(id.Role), string(resource), string(action)).Inc()
				return fmt.Errorf("%w: %s may not %s %s", domain.ErrForbidden, id.Role, action, resource)
			}
			return next(c)
		}
	}
}

func identityOf(c echo.Context) (domain.Identity, bool) {
	id, ok := c.Get(IdentityKey).(domain.Identity)
	return id, ok
}
