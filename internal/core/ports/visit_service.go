package ports

import (
	"context"
	"time"

	"github.com/medtrack/field-gateway/internal/core/domain"
)

// StartVisitInput carries a start request. UserID zero means the caller.
type StartVisitInput struct {
	UserID     int64
	DoctorID   int64
	LocationID *int64
	Notes      string
}

// EditVisitInput is a privileged metadata correction. Doctor and location are
// immutable after start and therefore absent.
type EditVisitInput struct {
	Status   *domain.VisitStatus
	Notes    *string
	CheckIn  *time.Time
	CheckOut *time.Time
}

// VisitFilter narrows a visit listing.
type VisitFilter struct {
	UserID     int64
	DoctorID   int64
	LocationID int64
	From       time.Time
	To         time.Time
}

// VisitService is the Visit Lifecycle Manager. Every call carries the caller's
// identity explicitly.
type VisitService interface {
	StartVisit(ctx context.Context, id domain.Identity, in StartVisitInput) (*domain.Visit, error)
	EndVisit(ctx context.Context, id domain.Identity, visitID int64, notes string) (*domain.Visit, error)
	GetActiveVisit(ctx context.Context, id domain.Identity, userID int64) (*domain.Visit, error)
	CancelVisit(ctx context.Context, id domain.Identity, visitID int64, reason string) (*domain.Visit, error)
	EditVisit(ctx context.Context, id domain.Identity, visitID int64, in EditVisitInput) (*domain.Visit, error)
	DeleteVisit(ctx context.Context, id domain.Identity, visitID int64) error
	GetVisit(ctx context.Context, id domain.Identity, visitID int64) (*domain.Visit, error)
	// ListVisits discards results superseded by a newer call with the same key.
	ListVisits(ctx context.Context, id domain.Identity, key string, f VisitFilter) ([]domain.Visit, error)
}
