package handler

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/medtrack/field-gateway/internal/api/middleware"
	"github.com/medtrack/field-gateway/internal/core/domain"
	"github.com/medtrack/field-gateway/internal/core/ports"
)

var (
	repIdentity     = domain.Identity{Token: "rep-token", Role: domain.RoleRep, UserID: 7, Name: "Rita Rep", ExpiresAt: time.Now().Add(time.Hour)}
	managerIdentity = domain.Identity{Token: "mgr-token", Role: domain.RoleManager, UserID: 3, ExpiresAt: time.Now().Add(time.Hour)}
)

type stubSessions struct {
	authenticateFn func(ctx context.Context, email, password string) (*domain.Session, error)
	registerFn     func(ctx context.Context, in ports.RegisterInput) (*domain.User, error)
	invalidated    []string
}

func (s *stubSessions) Authenticate(ctx context.Context, email, password string) (*domain.Session, error) {
	return s.authenticateFn(ctx, email, password)
}

func (s *stubSessions) Restore(context.Context, string) (*domain.Session, error) {
	return nil, errors.New("not used")
}

func (s *stubSessions) Authorize(id domain.Identity, r domain.Resource, a domain.Action) bool {
	return domain.Allows(id.Role, r, a)
}

func (s *stubSessions) Capabilities(id domain.Identity) []domain.Capability {
	return domain.Capabilities(id.Role)
}

func (s *stubSessions) Invalidate(_ context.Context, sid string) error {
	s.invalidated = append(s.invalidated, sid)
	return nil
}

func (s *stubSessions) Register(ctx context.Context, in ports.RegisterInput) (*domain.User, error) {
	return s.registerFn(ctx, in)
}

type stubVisits struct {
	startFn  func(ctx context.Context, id domain.Identity, in ports.StartVisitInput) (*domain.Visit, error)
	endFn    func(ctx context.Context, id domain.Identity, visitID int64, notes string) (*domain.Visit, error)
	activeFn func(ctx context.Context, id domain.Identity, userID int64) (*domain.Visit, error)
	cancelFn func(ctx context.Context, id domain.Identity, visitID int64, reason string) (*domain.Visit, error)
	editFn   func(ctx context.Context, id domain.Identity, visitID int64, in ports.EditVisitInput) (*domain.Visit, error)
	deleteFn func(ctx context.Context, id domain.Identity, visitID int64) error
	getFn    func(ctx context.Context, id domain.Identity, visitID int64) (*domain.Visit, error)
	listFn   func(ctx context.Context, id domain.Identity, key string, f ports.VisitFilter) ([]domain.Visit, error)
}

func (s *stubVisits) StartVisit(ctx context.Context, id domain.Identity, in ports.StartVisitInput) (*domain.Visit, error) {
	return s.startFn(ctx, id, in)
}

func (s *stubVisits) EndVisit(ctx context.Context, id domain.Identity, visitID int64, notes string) (*domain.Visit, error) {
	return s.endFn(ctx, id, visitID, notes)
}

func (s *stubVisits) GetActiveVisit(ctx context.Context, id domain.Identity, userID int64) (*domain.Visit, error) {
	return s.activeFn(ctx, id, userID)
}

func (s *stubVisits) CancelVisit(ctx context.Context, id domain.Identity, visitID int64, reason string) (*domain.Visit, error) {
	return s.cancelFn(ctx, id, visitID, reason)
}

func (s *stubVisits) EditVisit(ctx context.Context, id domain.Identity, visitID int64, in ports.EditVisitInput) (*domain.Visit, error) {
	return s.editFn(ctx, id, visitID, in)
}

func (s *stubVisits) DeleteVisit(ctx context.Context, id domain.Identity, visitID int64) error {
	return s.deleteFn(ctx, id, visitID)
}

func (s *stubVisits) GetVisit(ctx context.Context, id domain.Identity, visitID int64) (*domain.Visit, error) {
	return s.getFn(ctx, id, visitID)
}

func (s *stubVisits) ListVisits(ctx context.Context, id domain.Identity, key string, f ports.VisitFilter) ([]domain.Visit, error) {
	return s.listFn(ctx, id, key, f)
}

type forwardCall struct {
	token, method, path string
	query               url.Values
	body                []byte
}

type stubEntities struct {
	calls []forwardCall
	resp  *ports.ProxyResponse
	err   error
}

func (s *stubEntities) Forward(_ context.Context, token, method, path string, query url.Values, body []byte) (*ports.ProxyResponse, error) {
	s.calls = append(s.calls, forwardCall{token, method, path, query, body})
	return s.resp, s.err
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.Validator = NewValidator()
	return e
}

// withIdentity mimics the Session middleware.
func withIdentity(c echo.Context, sid string, id domain.Identity) {
	c.Set(middleware.IdentityKey, id)
	c.Set(middleware.SessionIDKey, sid)
}
