package ports

import (
	"context"

	"github.com/medtrack/field-gateway/internal/core/domain"
)

// VisitEventRepository persists the audit trail of brokered lifecycle transitions.
type VisitEventRepository interface {
	InsertEvent(ctx context.Context, event *domain.VisitEvent) error
}

// VisitEventRecorder accepts audit events without blocking the caller on persistence.
type VisitEventRecorder interface {
	Record(event domain.VisitEvent)
}
