package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/medtrack/field-gateway/internal/core/domain"
	"github.com/medtrack/field-gateway/internal/core/ports"
)

// VisitService is the Visit Lifecycle Manager. Persistence and the
// authoritative single-active-visit constraint belong to the backend; the
// checks here fail fast before a round trip.
type VisitService struct {
	backend ports.VisitBackend
	guard   ports.StartGuard
	events  ports.VisitEventRecorder
	latest  *Latest
	logger  zerolog.Logger
	now     func() time.Time
}

func NewVisitService(backend ports.VisitBackend, guard ports.StartGuard, events ports.VisitEventRecorder, logger zerolog.Logger) *VisitService {
	if events == nil {
		events = nopRecorder{}
	}
	return &VisitService{
		backend: backend,
		guard:   guard,
		events:  events,
		latest:  NewLatest(),
		logger:  logger,
		now:     time.Now,
	}
}

var _ ports.VisitService = (*VisitService)(nil)

type nopRecorder struct{}

func (nopRecorder) Record(domain.VisitEvent) {}

// StartVisit opens a new IN_PROGRESS visit for in.UserID (the caller when zero).
func (s *VisitService) StartVisit(ctx context.Context, id domain.Identity, in ports.StartVisitInput) (*domain.Visit, error) {
	if err := require(id, domain.ActionStart); err != nil {
		return nil, err
	}

	userID := in.UserID
	if userID == 0 {
		userID = id.UserID
	}
	if userID != id.UserID && id.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("%w: cannot start a visit for user %d", domain.ErrForbidden, userID)
	}
	if in.DoctorID <= 0 {
		return nil, fmt.Errorf("%w: doctor_id is required", domain.ErrValidation)
	}
	if in.LocationID != nil && *in.LocationID <= 0 {
		return nil, fmt.Errorf("%w: location_id must be positive", domain.ErrValidation)
	}

	// 1. In-flight guard: overlapping starts from the same user fail fast.
	token, acquired, err := s.guard.Acquire(ctx, userID)
	switch {
	case err != nil:
		s.logger.Warn().Err(err).Int64("user_id", userID).Msg("start guard unavailable, relying on backend constraint")
	case !acquired:
		return nil, fmt.Errorf("%w (user %d)", domain.ErrVisitStartPending, userID)
	default:
		defer func() {
			if err := s.guard.Release(context.WithoutCancel(ctx), userID, token); err != nil {
				s.logger.Warn().Err(err).Int64("user_id", userID).Msg("failed to release start guard")
			}
		}()
	}

	// 2. Pre-check against the backend's view of active visits.
	active, err := s.backend.ActiveVisits(ctx, id.Token, userID)
	if err != nil {
		return nil, fmt.Errorf("start visit: active check: %w", err)
	}
	if len(active) > 0 {
		conflict := &domain.ActiveVisitError{UserID: userID, VisitID: mostRecent(active).ID}
		s.recordConflict(id, conflict, "precheck")
		return nil, conflict
	}

	// 3. Delegate creation; the backend's unique constraint is authoritative.
	visit, err := s.backend.StartVisit(ctx, id.Token, ports.StartVisitRequest{
		UserID:     userID,
		DoctorID:   in.DoctorID,
		LocationID: in.LocationID,
		Notes:      in.Notes,
	})
	if err != nil {
		var conflict *domain.ActiveVisitError
		if errors.As(err, &conflict) {
			conflict.UserID = userID
			if conflict.VisitID == 0 {
				conflict.VisitID = s.lookupActiveID(ctx, id.Token, userID)
			}
			s.recordConflict(id, conflict, "backend")
			return nil, conflict
		}
		return nil, fmt.Errorf("start visit: %w", err)
	}

	if !visit.Active() {
		s.logger.Warn().Int64("visit_id", visit.ID).Str("status", string(visit.Status)).Msg("backend started a visit that is not in progress")
	}
	s.checkInvariants(visit)

	s.events.Record(s.event(domain.VisitEventStarted, id, visit, in.Notes))
	s.logger.Info().
		Int64("visit_id", visit.ID).
		Int64("user_id", userID).
		Int64("doctor_id", in.DoctorID).
		Msg("visit started")

	return visit, nil
}

// EndVisit completes an IN_PROGRESS visit, merging notes with domain.MergeNotes.
func (s *VisitService) EndVisit(ctx context.Context, id domain.Identity, visitID int64, notes string) (*domain.Visit, error) {
	if err := require(id, domain.ActionEnd); err != nil {
		return nil, err
	}
	if visitID <= 0 {
		return nil, fmt.Errorf("%w: visit id must be positive", domain.ErrValidation)
	}

	current, err := s.backend.GetVisit(ctx, id.Token, visitID)
	if err != nil {
		return nil, fmt.Errorf("end visit: %w", err)
	}
	if !canActFor(id, current.UserID) {
		return nil, fmt.Errorf("%w: visit %d belongs to another user", domain.ErrForbidden, visitID)
	}

	expected := *current
	if err := expected.End(s.now(), notes); err != nil {
		return nil, err
	}

	ended, err := s.backend.EndVisit(ctx, id.Token, visitID, notes)
	if err != nil {
		return nil, fmt.Errorf("end visit: %w", err)
	}

	if ended.Status != domain.VisitCompleted || ended.Notes != expected.Notes {
		s.logger.Warn().
			Int64("visit_id", visitID).
			Str("status", string(ended.Status)).
			Bool("notes_match", ended.Notes == expected.Notes).
			Msg("backend end-visit result diverges from lifecycle policy")
	}
	s.checkInvariants(ended)

	s.events.Record(s.event(domain.VisitEventEnded, id, ended, notes))
	s.logger.Info().Int64("visit_id", visitID).Int64("user_id", ended.UserID).Msg("visit ended")

	return ended, nil
}

// GetActiveVisit returns the user's IN_PROGRESS visit, or nil when there is none.
func (s *VisitService) GetActiveVisit(ctx context.Context, id domain.Identity, userID int64) (*domain.Visit, error) {
	if err := require(id, domain.ActionRead); err != nil {
		return nil, err
	}
	if userID == 0 {
		userID = id.UserID
	}
	if !canActFor(id, userID) {
		return nil, fmt.Errorf("%w: active visit of user %d", domain.ErrForbidden, userID)
	}

	visits, err := s.backend.ActiveVisits(ctx, id.Token, userID)
	if err != nil {
		return nil, fmt.Errorf("active visit: %w", err)
	}
	if len(visits) == 0 {
		return nil, nil
	}
	if len(visits) > 1 {
		s.logger.Error().Int64("user_id", userID).Int("count", len(visits)).Msg("more than one visit in progress for user")
	}
	return mostRecent(visits), nil
}

// CancelVisit is the admin override closing an IN_PROGRESS visit as CANCELLED.
func (s *VisitService) CancelVisit(ctx context.Context, id domain.Identity, visitID int64, reason string) (*domain.Visit, error) {
	if err := require(id, domain.ActionCancel); err != nil {
		return nil, err
	}
	if visitID <= 0 {
		return nil, fmt.Errorf("%w: visit id must be positive", domain.ErrValidation)
	}

	current, err := s.backend.GetVisit(ctx, id.Token, visitID)
	if err != nil {
		return nil, fmt.Errorf("cancel visit: %w", err)
	}
	cancelled := *current
	if err := cancelled.Cancel(s.now(), reason); err != nil {
		return nil, err
	}

	status := cancelled.Status
	visit, err := s.backend.UpdateVisit(ctx, id.Token, visitID, ports.VisitUpdate{
		Status:   &status,
		Notes:    &cancelled.Notes,
		CheckOut: cancelled.CheckOut,
	})
	if err != nil {
		return nil, fmt.Errorf("cancel visit: %w", err)
	}
	s.checkInvariants(visit)

	s.events.Record(s.event(domain.VisitEventCancelled, id, visit, reason))
	s.logger.Info().Int64("visit_id", visitID).Int64("actor_id", id.UserID).Msg("visit cancelled")
	return visit, nil
}

// EditVisit overwrites visit metadata. It bypasses the lifecycle state machine.
func (s *VisitService) EditVisit(ctx context.Context, id domain.Identity, visitID int64, in ports.EditVisitInput) (*domain.Visit, error) {
	if err := require(id, domain.ActionUpdate); err != nil {
		return nil, err
	}
	if visitID <= 0 {
		return nil, fmt.Errorf("%w: visit id must be positive", domain.ErrValidation)
	}
	if in.Status == nil && in.Notes == nil && in.CheckIn == nil && in.CheckOut == nil {
		return nil, fmt.Errorf("%w: nothing to update", domain.ErrValidation)
	}
	if in.Status != nil && !in.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, *in.Status)
	}
	if in.CheckIn != nil && in.CheckOut != nil && in.CheckOut.Before(*in.CheckIn) {
		return nil, fmt.Errorf("%w: check_out precedes check_in", domain.ErrValidation)
	}

	visit, err := s.backend.UpdateVisit(ctx, id.Token, visitID, ports.VisitUpdate(in))
	if err != nil {
		return nil, fmt.Errorf("edit visit: %w", err)
	}

	s.events.Record(s.event(domain.VisitEventEdited, id, visit, ""))
	s.logger.Info().Int64("visit_id", visitID).Int64("actor_id", id.UserID).Msg("visit edited")
	return visit, nil
}

// DeleteVisit removes a visit record. ADMIN only.
func (s *VisitService) DeleteVisit(ctx context.Context, id domain.Identity, visitID int64) error {
	if err := require(id, domain.ActionDelete); err != nil {
		return err
	}
	if visitID <= 0 {
		return fmt.Errorf("%w: visit id must be positive", domain.ErrValidation)
	}

	if err := s.backend.DeleteVisit(ctx, id.Token, visitID); err != nil {
		return fmt.Errorf("delete visit: %w", err)
	}

	s.events.Record(s.event(domain.VisitEventDeleted, id, &domain.Visit{ID: visitID}, ""))
	s.logger.Info().Int64("visit_id", visitID).Int64("actor_id", id.UserID).Msg("visit deleted")
	return nil
}

// GetVisit returns a single visit. Reps only see their own.
func (s *VisitService) GetVisit(ctx context.Context, id domain.Identity, visitID int64) (*domain.Visit, error) {
	if err := require(id, domain.ActionRead); err != nil {
		return nil, err
	}
	visit, err := s.backend.GetVisit(ctx, id.Token, visitID)
	if err != nil {
		return nil, fmt.Errorf("get visit: %w", err)
	}
	if !canActFor(id, visit.UserID) {
		return nil, fmt.Errorf("%w: visit %d belongs to another user", domain.ErrForbidden, visitID)
	}
	return visit, nil
}

// ListVisits queries visits. A result superseded by a newer call with the same
// key is discarded and reported as domain.ErrSuperseded.
func (s *VisitService) ListVisits(ctx context.Context, id domain.Identity, key string, f ports.VisitFilter) ([]domain.Visit, error) {
	if err := require(id, domain.ActionRead); err != nil {
		return nil, err
	}
	if id.Role == domain.RoleRep {
		if f.UserID != 0 && f.UserID != id.UserID {
			return nil, fmt.Errorf("%w: visits of user %d", domain.ErrForbidden, f.UserID)
		}
		f.UserID = id.UserID
	}
	if f.From.IsZero() != f.To.IsZero() {
		return nil, fmt.Errorf("%w: date range needs both start and end", domain.ErrValidation)
	}
	if f.From.After(f.To) {
		return nil, fmt.Errorf("%w: start date cannot be after end date", domain.ErrValidation)
	}

	ctx, finish := s.latest.Begin(ctx, key)
	visits, err := s.backend.ListVisits(ctx, id.Token, ports.VisitQuery(f))
	if !finish() {
		s.logger.Debug().Str("key", key).Msg("discarding superseded visit listing")
		return nil, domain.ErrSuperseded
	}
	if err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	return visits, nil
}

func require(id domain.Identity, action domain.Action) error {
	if !domain.Allows(id.Role, domain.ResourceVisits, action) {
		return fmt.Errorf("%w: %s may not %s visits", domain.ErrForbidden, id.Role, action)
	}
	return nil
}

// canActFor reports whether id may act on records owned by userID.
func canActFor(id domain.Identity, userID int64) bool {
	return id.Role != domain.RoleRep || id.UserID == userID
}

func mostRecent(visits []domain.Visit) *domain.Visit {
	latest := &visits[0]
	for i := range visits[1:] {
		if visits[i+1].CheckIn.After(latest.CheckIn) {
			latest = &visits[i+1]
		}
	}
	return latest
}

// lookupActiveID resolves the conflicting visit after a backend conflict.
// Zero means it could not be resolved.
func (s *VisitService) lookupActiveID(ctx context.Context, token string, userID int64) int64 {
	active, err := s.backend.ActiveVisits(ctx, token, userID)
	if err != nil || len(active) == 0 {
		return 0
	}
	return mostRecent(active).ID
}

func (s *VisitService) recordConflict(id domain.Identity, conflict *domain.ActiveVisitError, stage string) {
	s.logger.Info().
		Int64("user_id", conflict.UserID).
		Int64("visit_id", conflict.VisitID).
		Str("stage", stage).
		Msg("visit start rejected: active visit exists")
	s.events.Record(domain.VisitEvent{
		Type:       domain.VisitEventConflict,
		VisitID:    conflict.VisitID,
		UserID:     conflict.UserID,
		ActorID:    id.UserID,
		ActorRole:  id.Role,
		Status:     domain.VisitInProgress,
		OccurredAt: s.now().UTC(),
		Detail:     stage,
	})
}

func (s *VisitService) checkInvariants(v *domain.Visit) {
	if err := v.CheckInvariants(); err != nil {
		s.logger.Warn().Err(err).Int64("visit_id", v.ID).Msg("backend returned an inconsistent visit")
	}
}

func (s *VisitService) event(t domain.VisitEventType, id domain.Identity, v *domain.Visit, detail string) domain.VisitEvent {
	return domain.VisitEvent{
		Type:       t,
		VisitID:    v.ID,
		UserID:     v.UserID,
		ActorID:    id.UserID,
		ActorRole:  id.Role,
		Status:     v.Status,
		OccurredAt: s.now().UTC(),
		Detail:     detail,
	}
}
