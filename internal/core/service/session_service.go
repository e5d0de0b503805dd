package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medtrack/field-gateway/internal/core/domain"
	"github.com/medtrack/field-gateway/internal/core/ports"
)

// SessionService is the Session/Role Authority: it turns backend logins into
// persisted sessions and answers capability checks.
type SessionService struct {
	backend ports.AuthBackend
	store   ports.SessionStore
	logger  zerolog.Logger
	now     func() time.Time
	newID   func() string
}

func NewSessionService(backend ports.AuthBackend, store ports.SessionStore, logger zerolog.Logger) *SessionService {
	return &SessionService{
		backend: backend,
		store:   store,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

var _ ports.SessionService = (*SessionService)(nil)

// Authenticate verifies credentials with the backend and persists a new session.
func (s *SessionService) Authenticate(ctx context.Context, email, password string) (*domain.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", domain.ErrValidation)
	}

	res, err := s.backend.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}

	role, err := domain.ParseRole(res.Role)
	if err != nil {
		s.logger.Warn().Str("role", res.Role).Msg("backend returned an unknown role")
		return nil, fmt.Errorf("%w: unusable role", domain.ErrInvalidCredentials)
	}

	claims, err := decodeToken(res.Token)
	if err != nil {
		s.logger.Warn().Err(err).Msg("backend returned an undecodable token")
		return nil, fmt.Errorf("%w: unusable token", domain.ErrInvalidCredentials)
	}
	userID, err := claims.userID()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCredentials, err)
	}
	if claims.Role != "" && !strings.EqualFold(claims.Role, string(role)) {
		s.logger.Warn().Str("body_role", string(role)).Str("token_role", claims.Role).Msg("login role disagrees with token")
		return nil, fmt.Errorf("%w: role mismatch", domain.ErrInvalidCredentials)
	}

	identity := domain.Identity{
		Token:     res.Token,
		Role:      role,
		UserID:    userID,
		Name:      res.Name,
		Email:     res.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if identity.Expired(s.now()) {
		return nil, fmt.Errorf("%w: token already expired", domain.ErrInvalidCredentials)
	}

	sess := &domain.Session{ID: s.newID(), Identity: identity}
	stored := ports.StoredSession{
		Token:  identity.Token,
		Role:   string(identity.Role),
		UserID: strconv.FormatInt(identity.UserID, 10),
		Name:   identity.Name,
		Email:  identity.Email,
	}
	if err := s.store.Save(ctx, sess.ID, stored, identity.ExpiresAt); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	s.logger.Info().Int64("user_id", userID).Str("role", string(role)).Msg("session created")
	return sess, nil
}

// Restore rebuilds a session from the store. Anything stale or inconsistent is
// cleared and reported as domain.ErrNoSession.
func (s *SessionService) Restore(ctx context.Context, sessionID string) (*domain.Session, error) {
	if sessionID == "" {
		return nil, domain.ErrNoSession
	}

	st, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if st.Token == "" && st.Role == "" && st.UserID == "" {
		return nil, domain.ErrNoSession
	}
	if st.Token == "" || st.Role == "" || st.UserID == "" {
		return nil, s.discard(ctx, sessionID, "partial session")
	}

	claims, err := decodeToken(st.Token)
	if err != nil {
		return nil, s.discard(ctx, sessionID, "undecodable token")
	}
	identity := domain.Identity{
		Token:     st.Token,
		Name:      st.Name,
		Email:     st.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if identity.Expired(s.now()) {
		return nil, s.discard(ctx, sessionID, "token expired")
	}

	if identity.UserID, err = claims.userID(); err != nil {
		return nil, s.discard(ctx, sessionID, "bad subject")
	}
	if st.UserID != strconv.FormatInt(identity.UserID, 10) {
		return nil, s.discard(ctx, sessionID, "user id disagrees with token")
	}
	if identity.Role, err = domain.ParseRole(st.Role); err != nil {
		return nil, s.discard(ctx, sessionID, "unknown role")
	}
	if claims.Role != "" && !strings.EqualFold(claims.Role, string(identity.Role)) {
		return nil, s.discard(ctx, sessionID, "role disagrees with token")
	}

	return &domain.Session{ID: sessionID, Identity: identity}, nil
}

// Authorize consults the role-capability matrix. It has no side effects.
func (s *SessionService) Authorize(identity domain.Identity, resource domain.Resource, action domain.Action) bool {
	return domain.Allows(identity.Role, resource, action)
}

// Capabilities lists every pair the identity may perform.
func (s *SessionService) Capabilities(identity domain.Identity) []domain.Capability {
	return domain.Capabilities(identity.Role)
}

// Invalidate clears every persisted key of the session.
func (s *SessionService) Invalidate(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.store.Clear(ctx, sessionID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	s.logger.Info().Msg("session invalidated")
	return nil
}

// Register forwards a new account to the backend. No session is created.
func (s *SessionService) Register(ctx context.Context, in ports.RegisterInput) (*domain.User, error) {
	role, err := domain.ParseRole(in.Role)
	if err != nil {
		return nil, err
	}
	in.Role = string(role)
	in.Email = strings.TrimSpace(in.Email)

	user, err := s.backend.Register(ctx, in)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int64("user_id", user.ID).Str("role", in.Role).Msg("user registered")
	return user, nil
}

func (s *SessionService) discard(ctx context.Context, sessionID, reason string) error {
	s.logger.Info().Str("reason", reason).Msg("discarding stale session")
	if err := s.store.Clear(ctx, sessionID); err != nil {
		return fmt.Errorf("clear stale session: %w", err)
	}
	return domain.ErrNoSession
}
