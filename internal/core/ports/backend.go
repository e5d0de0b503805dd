package ports

import (
	"context"
	"net/url"
	"time"

	"github.com/medtrack/field-gateway/internal/core/domain"
)

// LoginResult is what the backend returns for a successful credential check.
// Role is communicated in the body, not decoded from the token.
type LoginResult struct {
	Token string
	Role  string
	Name  string
	Email string
}

// RegisterInput carries a new account for the backend.
type RegisterInput struct {
	Name     string `validate:"required"`
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=6"`
	Role     string `validate:"required,oneof=ADMIN MANAGER REP"`
	Phone    string
}

// AuthBackend verifies credentials against the backend collaborator.
type AuthBackend interface {
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	Register(ctx context.Context, in RegisterInput) (*domain.User, error)
}

// StartVisitRequest is the body of POST /visits/start.
type StartVisitRequest struct {
	UserID     int64
	DoctorID   int64
	LocationID *int64
	Notes      string
}

// VisitUpdate is a privileged overwrite of a visit's metadata.
// Nil fields are left untouched by the backend.
type VisitUpdate struct {
	Status   *domain.VisitStatus
	Notes    *string
	CheckIn  *time.Time
	CheckOut *time.Time
}

// VisitQuery selects a visit listing. At most one of UserID, DoctorID and
// LocationID is honoured, in that order; From/To add a date-range filter.
type VisitQuery struct {
	UserID     int64
	DoctorID   int64
	LocationID int64
	From       time.Time
	To         time.Time
}

// VisitBackend is the persistence collaborator for visits.
type VisitBackend interface {
	ActiveVisits(ctx context.Context, token string, userID int64) ([]domain.Visit, error)
	StartVisit(ctx context.Context, token string, req StartVisitRequest) (*domain.Visit, error)
	EndVisit(ctx context.Context, token string, visitID int64, notes string) (*domain.Visit, error)
	GetVisit(ctx context.Context, token string, visitID int64) (*domain.Visit, error)
	UpdateVisit(ctx context.Context, token string, visitID int64, upd VisitUpdate) (*domain.Visit, error)
	DeleteVisit(ctx context.Context, token string, visitID int64) error
	ListVisits(ctx context.Context, token string, q VisitQuery) ([]domain.Visit, error)
}

// ProxyResponse is a raw backend reply relayed to the browser.
type ProxyResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// EntityBackend forwards generic CRUD calls for the non-visit entities.
type EntityBackend interface {
	Forward(ctx context.Context, token, method, path string, query url.Values, body []byte) (*ProxyResponse, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}
