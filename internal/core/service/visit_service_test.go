package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/medtrack/field-gateway/internal/core/domain"
	"github.com/medtrack/field-gateway/internal/core/ports"
)

// ---------------------------------------------------------------------------
// In-memory stub backend
// ---------------------------------------------------------------------------

type stubVisitBackend struct {
	mu        sync.Mutex
	nextID    int64
	visits    map[int64]*domain.Visit
	now       func() time.Time
	endCalls  int
	startErr  error // if set, StartVisit returns this error
	listFn    func(ctx context.Context, q ports.VisitQuery) ([]domain.Visit, error)
	lastQuery ports.VisitQuery
}

func newStubVisitBackend() *stubVisitBackend {
	return &stubVisitBackend{
		nextID: 101,
		visits: make(map[int64]*domain.Visit),
		now:    func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) },
	}
}

func (b *stubVisitBackend) ActiveVisits(_ context.Context, _ string, userID int64) ([]domain.Visit, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Visit
	for _, v := range b.visits {
		if v.UserID == userID && v.Active() {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// StartVisit enforces the same unique-active constraint as the real backend.
func (b *stubVisitBackend) StartVisit(_ context.Context, _ string, req ports.StartVisitRequest) (*domain.Visit, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.startErr != nil {
		return nil, b.startErr
	}
	for _, v := range b.visits {
		if v.UserID == req.UserID && v.Active() {
			return nil, &domain.ActiveVisitError{}
		}
	}
	v := &domain.Visit{
		ID:         b.nextID,
		UserID:     req.UserID,
		DoctorID:   req.DoctorID,
		LocationID: req.LocationID,
		Status:     domain.VisitInProgress,
		CheckIn:    b.now(),
		Notes:      req.Notes,
	}
	b.nextID++
	b.visits[v.ID] = v
	clone := *v
	return &clone, nil
}

func (b *stubVisitBackend) EndVisit(_ context.Context, _ string, visitID int64, notes string) (*domain.Visit, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endCalls++
	v, ok := b.visits[visitID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if err := v.End(b.now().Add(45*time.Minute), notes); err != nil {
		return nil, err
	}
	clone := *v
	return &clone, nil
}

func (b *stubVisitBackend) GetVisit(_ context.Context, _ string, visitID int64) (*domain.Visit, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.visits[visitID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *v
	return &clone, nil
}

func (b *stubVisitBackend) UpdateVisit(_ context.Context, _ string, visitID int64, upd ports.VisitUpdate) (*domain.Visit, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.visits[visitID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if upd.Status != nil {
		v.Status = *upd.Status
	}
	if upd.Notes != nil {
		v.Notes = *upd.Notes
	}
	if upd.CheckIn != nil {
		v.CheckIn = *upd.CheckIn
	}
	if upd.CheckOut != nil {
		v.CheckOut = upd.CheckOut
	}
	clone := *v
	return &clone, nil
}

func (b *stubVisitBackend) DeleteVisit(_ context.Context, _ string, visitID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.visits[visitID]; !ok {
		return domain.ErrNotFound
	}
	delete(b.visits, visitID)
	return nil
}

func (b *stubVisitBackend) ListVisits(ctx context.Context, _ string, q ports.VisitQuery) ([]domain.Visit, error) {
	b.mu.Lock()
	b.lastQuery = q
	fn := b.listFn
	b.mu.Unlock()
	if fn != nil {
		return fn(ctx, q)
	}
	return nil, nil
}

type stubGuard struct {
	held       map[int64]bool
	acquireErr error
	released   int
	seq        int
	tokens     map[int64]string
}

func newStubGuard() *stubGuard {
	return &stubGuard{held: make(map[int64]bool), tokens: make(map[int64]string)}
}

func (g *stubGuard) Acquire(_ context.Context, userID int64) (string, bool, error) {
	if g.acquireErr != nil {
		return "", false, g.acquireErr
	}
	if g.held[userID] {
		return "", false, nil
	}
	g.seq++
	token := fmt.Sprintf("tok-%d", g.seq)
	g.held[userID] = true
	g.tokens[userID] = token
	return token, true, nil
}

func (g *stubGuard) Release(_ context.Context, userID int64, token string) error {
	g.released++
	if g.tokens[userID] == token {
		delete(g.held, userID)
		delete(g.tokens, userID)
	}
	return nil
}

type recordedEvents struct {
	mu     sync.Mutex
	events []domain.VisitEvent
}

func (r *recordedEvents) Record(e domain.VisitEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordedEvents) types() []domain.VisitEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.VisitEventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

var (
	rep      = domain.Identity{Token: "t-rep", Role: domain.RoleRep, UserID: 7}
	otherRep = domain.Identity{Token: "t-rep2", Role: domain.RoleRep, UserID: 8}
	manager  = domain.Identity{Token: "t-mgr", Role: domain.RoleManager, UserID: 3}
	admin    = domain.Identity{Token: "t-adm", Role: domain.RoleAdmin, UserID: 1}
)

func newTestVisitService() (*VisitService, *stubVisitBackend, *stubGuard, *recordedEvents) {
	backend := newStubVisitBackend()
	guard := newStubGuard()
	events := &recordedEvents{}
	svc := NewVisitService(backend, guard, events, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC) }
	return svc, backend, guard, events
}

// ---------------------------------------------------------------------------
// StartVisit
// ---------------------------------------------------------------------------

func TestStartVisit_CreatesInProgressVisit(t *testing.T) {
	svc, _, guard, events := newTestVisitService()

	v, err := svc.StartVisit(context.Background(), rep, ports.StartVisitInput{DoctorID: 42})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.ID != 101 || v.UserID != 7 || v.DoctorID != 42 {
		t.Fatalf("unexpected visit: %+v", v)
	}
	if v.Status != domain.VisitInProgress || v.CheckOut != nil {
		t.Fatalf("expected IN_PROGRESS without check-out, got %+v", v)
	}
	if guard.released != 1 || len(guard.held) != 0 {
		t.Fatalf("expected guard released once, released=%d held=%v", guard.released, guard.held)
	}
	if got := events.types(); len(got) != 1 || got[0] != domain.VisitEventStarted {
		t.Fatalf("expected one started event, got %v", got)
	}
}

func TestStartVisit_SecondStartReportsExistingVisit(t *testing.T) {
	svc, _, _, events := newTestVisitService()
	ctx := context.Background()

	if _, err := svc.StartVisit(ctx, rep, ports.StartVisitInput{DoctorID: 42}); err != nil {
		t.Fatalf("first start: %v", err)
	}
	_, err := svc.StartVisit(ctx, rep, ports.StartVisitInput{DoctorID: 43})

	var conflict *domain.ActiveVisitError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ActiveVisitError, got %v", err)
	}
	if conflict.VisitID != 101 || conflict.UserID != 7 {
		t.Fatalf("unexpected conflict: %+v", conflict)
	}
	if !errors.Is(err, domain.ErrActiveVisitExists) {
		t.Fatalf("expected errors.Is ErrActiveVisitExists")
	}
	got := events.types()
	if got[len(got)-1] != domain.VisitEventConflict {
		t.Fatalf("expected conflict event last, got %v", got)
	}
}

func TestStartVisit_BackendConflictIsResolved(t *testing.T) {
	svc, backend, _, _ := newTestVisitService()
	backend.visits[55] = &domain.Visit{ID: 55, UserID: 7, Status: domain.VisitInProgress}
	// Simulate a race: the pre-check saw nothing, the backend constraint fired.
	calls := 0
	svc.backend = &racingBackend{stubVisitBackend: backend, hideFirst: &calls}

	_, err := svc.StartVisit(context.Background(), rep, ports.StartVisitInput{DoctorID: 1})

	var conflict *domain.ActiveVisitError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ActiveVisitError, got %v", err)
	}
	if conflict.VisitID != 55 || conflict.UserID != 7 {
		t.Fatalf("expected visit 55 resolved for user 7, got %+v", conflict)
	}
}

// racingBackend hides active visits from the first ActiveVisits call.
type racingBackend struct {
	*stubVisitBackend
	hideFirst *int
}

func (r *racingBackend) ActiveVisits(ctx context.Context, token string, userID int64) ([]domain.Visit, error) {
	*r.hideFirst++
	if *r.hideFirst == 1 {
		return nil, nil
	}
	return r.stubVisitBackend.ActiveVisits(ctx, token, userID)
}

func TestStartVisit_PendingStartRejected(t *testing.T) {
	svc, backend, guard, _ := newTestVisitService()
	guard.held[7] = true

	_, err := svc.StartVisit(context.Background(), rep, ports.StartVisitInput{DoctorID: 42})
	if !errors.Is(err, domain.ErrVisitStartPending) {
		t.Fatalf("expected ErrVisitStartPending, got %v", err)
	}
	if len(backend.visits) != 0 {
		t.Fatalf("expected no visit created")
	}
}

func TestStartVisit_GuardUnavailableFallsBackToBackend(t *testing.T) {
	svc, _, guard, _ := newTestVisitService()
	guard.acquireErr = errors.New("redis down")

	if _, err := svc.StartVisit(context.Background(), rep, ports.StartVisitInput{DoctorID: 42}); err != nil {
		t.Fatalf("expected start to proceed, got %v", err)
	}
	if guard.released != 0 {
		t.Fatalf("guard should not be released when never acquired")
	}
}

func TestStartVisit_Validation(t *testing.T) {
	svc, _, _, _ := newTestVisitService()
	zero := int64(0)

	cases := []struct {
		name string
		id   domain.Identity
		in   ports.StartVisitInput
		want error
	}{
		{"missing doctor", rep, ports.StartVisitInput{}, domain.ErrValidation},
		{"bad location", rep, ports.StartVisitInput{DoctorID: 1, LocationID: &zero}, domain.ErrValidation},
		{"rep for other user", rep, ports.StartVisitInput{UserID: 8, DoctorID: 1}, domain.ErrForbidden},
		{"manager cannot start", manager, ports.StartVisitInput{DoctorID: 1}, domain.ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.StartVisit(context.Background(), tc.id, tc.in)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestStartVisit_AdminOnBehalfOfRep(t *testing.T) {
	svc, _, _, events := newTestVisitService()

	v, err := svc.StartVisit(context.Background(), admin, ports.StartVisitInput{UserID: 7, DoctorID: 9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.UserID != 7 {
		t.Fatalf("expected visit for user 7, got %d", v.UserID)
	}
	if e := events.events[0]; e.ActorID != 1 || e.UserID != 7 || e.ActorRole != domain.RoleAdmin {
		t.Fatalf("unexpected event actor: %+v", e)
	}
}

// ---------------------------------------------------------------------------
// EndVisit
// ---------------------------------------------------------------------------

func TestEndVisit_CompletesAndMergesNotes(t *testing.T) {
	svc, _, _, _ := newTestVisitService()
	ctx := context.Background()

	started, err := svc.StartVisit(ctx, rep, ports.StartVisitInput{DoctorID: 42, Notes: "Brought samples"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	ended, err := svc.EndVisit(ctx, rep, started.ID, "Doctor asked for pricing")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Status != domain.VisitCompleted {
		t.Fatalf("expected COMPLETED, got %s", ended.Status)
	}
	if ended.CheckOut == nil || ended.CheckOut.Before(ended.CheckIn) {
		t.Fatalf("expected check-out at or after check-in, got %v / %v", ended.CheckIn, ended.CheckOut)
	}
	if want := "Brought samples\nDoctor asked for pricing"; ended.Notes != want {
		t.Fatalf("expected notes %q, got %q", want, ended.Notes)
	}

	active, err := svc.GetActiveVisit(ctx, rep, 0)
	if err != nil || active != nil {
		t.Fatalf("expected no active visit, got %+v, %v", active, err)
	}
}

func TestEndVisit_AlreadyCompletedSendsNoRequest(t *testing.T) {
	svc, backend, _, _ := newTestVisitService()
	out := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	backend.visits[101] = &domain.Visit{ID: 101, UserID: 7, Status: domain.VisitCompleted, CheckOut: &out}

	_, err := svc.EndVisit(context.Background(), rep, 101, "late")
	if !errors.Is(err, domain.ErrVisitNotActive) {
		t.Fatalf("expected ErrVisitNotActive, got %v", err)
	}
	if backend.endCalls != 0 {
		t.Fatalf("expected no end request, got %d", backend.endCalls)
	}
}

func TestEndVisit_OtherRepsVisitForbidden(t *testing.T) {
	svc, backend, _, _ := newTestVisitService()
	backend.visits[101] = &domain.Visit{ID: 101, UserID: 8, Status: domain.VisitInProgress}

	_, err := svc.EndVisit(context.Background(), rep, 101, "")
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if backend.endCalls != 0 {
		t.Fatalf("expected no end request")
	}
}

func TestEndVisit_NotFound(t *testing.T) {
	svc, _, _, _ := newTestVisitService()

	_, err := svc.EndVisit(context.Background(), rep, 999, "")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// GetActiveVisit
// ---------------------------------------------------------------------------

func TestGetActiveVisit_RepScopedToSelf(t *testing.T) {
	svc, _, _, _ := newTestVisitService()

	if _, err := svc.GetActiveVisit(context.Background(), rep, 8); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestGetActiveVisit_ManagerSeesAnyRep(t *testing.T) {
	svc, backend, _, _ := newTestVisitService()
	backend.visits[5] = &domain.Visit{ID: 5, UserID: 8, Status: domain.VisitInProgress}

	v, err := svc.GetActiveVisit(context.Background(), manager, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v == nil || v.ID != 5 {
		t.Fatalf("expected visit 5, got %+v", v)
	}
}

func TestGetActiveVisit_MultipleReturnsMostRecent(t *testing.T) {
	svc, backend, _, _ := newTestVisitService()
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	backend.visits[1] = &domain.Visit{ID: 1, UserID: 7, Status: domain.VisitInProgress, CheckIn: base}
	backend.visits[2] = &domain.Visit{ID: 2, UserID: 7, Status: domain.VisitInProgress, CheckIn: base.Add(time.Hour)}

	v, err := svc.GetActiveVisit(context.Background(), rep, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.ID != 2 {
		t.Fatalf("expected most recent visit 2, got %d", v.ID)
	}
}

// ---------------------------------------------------------------------------
// Privileged operations
// ---------------------------------------------------------------------------

func TestCancelVisit_AdminOnly(t *testing.T) {
	svc, backend, _, events := newTestVisitService()
	backend.visits[101] = &domain.Visit{ID: 101, UserID: 7, Status: domain.VisitInProgress, Notes: "start"}

	if _, err := svc.CancelVisit(context.Background(), manager, 101, "duplicate"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected manager forbidden, got %v", err)
	}

	v, err := svc.CancelVisit(context.Background(), admin, 101, "duplicate")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Status != domain.VisitCancelled || v.CheckOut == nil {
		t.Fatalf("expected CANCELLED with check-out, got %+v", v)
	}
	if v.Notes != "start\nduplicate" {
		t.Fatalf("unexpected notes %q", v.Notes)
	}
	if got := events.types(); got[len(got)-1] != domain.VisitEventCancelled {
		t.Fatalf("expected cancelled event, got %v", got)
	}
}

func TestCancelVisit_CompletedRejected(t *testing.T) {
	svc, backend, _, _ := newTestVisitService()
	out := time.Now()
	backend.visits[101] = &domain.Visit{ID: 101, UserID: 7, Status: domain.VisitCompleted, CheckOut: &out}

	if _, err := svc.CancelVisit(context.Background(), admin, 101, ""); !errors.Is(err, domain.ErrVisitNotActive) {
		t.Fatalf("expected ErrVisitNotActive, got %v", err)
	}
}

func TestEditVisit_Permissions(t *testing.T) {
	svc, backend, _, _ := newTestVisitService()
	backend.visits[101] = &domain.Visit{ID: 101, UserID: 7, Status: domain.VisitInProgress}
	notes := "corrected"

	if _, err := svc.EditVisit(context.Background(), rep, 101, ports.EditVisitInput{Notes: &notes}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected rep forbidden, got %v", err)
	}
	v, err := svc.EditVisit(context.Background(), manager, 101, ports.EditVisitInput{Notes: &notes})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Notes != "corrected" {
		t.Fatalf("expected notes overwritten, got %q", v.Notes)
	}
}

func TestEditVisit_Validation(t *testing.T) {
	svc, _, _, _ := newTestVisitService()
	in := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	out := in.Add(-time.Minute)
	bogus := domain.VisitStatus("PAUSED")

	cases := []struct {
		name string
		in   ports.EditVisitInput
	}{
		{"empty", ports.EditVisitInput{}},
		{"unknown status", ports.EditVisitInput{Status: &bogus}},
		{"checkout before checkin", ports.EditVisitInput{CheckIn: &in, CheckOut: &out}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.EditVisit(context.Background(), admin, 101, tc.in); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestDeleteVisit_ManagerForbidden(t *testing.T) {
	svc, backend, _, _ := newTestVisitService()
	backend.visits[101] = &domain.Visit{ID: 101, UserID: 7, Status: domain.VisitInProgress}

	if err := svc.DeleteVisit(context.Background(), manager, 101); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, ok := backend.visits[101]; !ok {
		t.Fatalf("visit should not be deleted")
	}
	if err := svc.DeleteVisit(context.Background(), admin, 101); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	if _, ok := backend.visits[101]; ok {
		t.Fatalf("visit should be deleted")
	}
}

func TestGetVisit_RepCannotReadOthers(t *testing.T) {
	svc, backend, _, _ := newTestVisitService()
	backend.visits[101] = &domain.Visit{ID: 101, UserID: 8, Status: domain.VisitInProgress}

	if _, err := svc.GetVisit(context.Background(), rep, 101); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.GetVisit(context.Background(), otherRep, 101); err != nil {
		t.Fatalf("owner read: %v", err)
	}
}

// ---------------------------------------------------------------------------
// ListVisits
// ---------------------------------------------------------------------------

func TestListVisits_RepForcedToOwnVisits(t *testing.T) {
	svc, backend, _, _ := newTestVisitService()

	if _, err := svc.ListVisits(context.Background(), rep, "", ports.VisitFilter{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backend.lastQuery.UserID != 7 {
		t.Fatalf("expected query scoped to user 7, got %d", backend.lastQuery.UserID)
	}
	if _, err := svc.ListVisits(context.Background(), rep, "", ports.VisitFilter{UserID: 8}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestListVisits_InvalidRange(t *testing.T) {
	svc, _, _, _ := newTestVisitService()
	from := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)

	_, err := svc.ListVisits(context.Background(), manager, "", ports.VisitFilter{From: from, To: from.Add(-24 * time.Hour)})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestListVisits_SupersededResultDiscarded(t *testing.T) {
	svc, backend, _, _ := newTestVisitService()
	firstEntered := make(chan struct{})
	backend.listFn = func(ctx context.Context, q ports.VisitQuery) ([]domain.Visit, error) {
		if q.DoctorID == 1 {
			close(firstEntered)
			<-ctx.Done()
			return []domain.Visit{{ID: 1}}, nil
		}
		return []domain.Visit{{ID: 2}}, nil
	}

	type result struct {
		visits []domain.Visit
		err    error
	}
	done := make(chan result, 1)
	go func() {
		v, err := svc.ListVisits(context.Background(), manager, "sess-1", ports.VisitFilter{DoctorID: 1})
		done <- result{v, err}
	}()
	<-firstEntered

	visits, err := svc.ListVisits(context.Background(), manager, "sess-1", ports.VisitFilter{DoctorID: 2})
	if err != nil {
		t.Fatalf("latest query: %v", err)
	}
	if len(visits) != 1 || visits[0].ID != 2 {
		t.Fatalf("expected latest result, got %+v", visits)
	}

	first := <-done
	if !errors.Is(first.err, domain.ErrSuperseded) {
		t.Fatalf("expected first query superseded, got %+v", first)
	}
}
