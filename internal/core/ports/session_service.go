package ports

import (
	"context"

	"github.com/medtrack/field-gateway/internal/core/domain"
)

// SessionService is the Session/Role Authority.
type SessionService interface {
	Authenticate(ctx context.Context, email, password string) (*domain.Session, error)
	Restore(ctx context.Context, sessionID string) (*domain.Session, error)
	Authorize(identity domain.Identity, resource domain.Resource, action domain.Action) bool
	Capabilities(identity domain.Identity) []domain.Capability
	Invalidate(ctx context.Context, sessionID string) error
	Register(ctx context.Context, in RegisterInput) (*domain.User, error)
}
