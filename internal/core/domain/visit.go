package domain

import (
	"fmt"
	"strings"
	"time"
)

// VisitStatus represents the lifecycle state of a visit.
type VisitStatus string

const (
	VisitInProgress VisitStatus = "IN_PROGRESS"
	VisitCompleted  VisitStatus = "COMPLETED"
	VisitCancelled  VisitStatus = "CANCELLED"
)

// validVisitTransitions defines the lifecycle state machine. Administrative
// edits bypass it entirely.
var validVisitTransitions = map[VisitStatus][]VisitStatus{
	VisitInProgress: {VisitCompleted, VisitCancelled},
}

// CanTransitionTo reports whether a lifecycle transition from s to next is valid.
func (s VisitStatus) CanTransitionTo(next VisitStatus) bool {
	for _, allowed := range validVisitTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s VisitStatus) Valid() bool {
	switch s {
	case VisitInProgress, VisitCompleted, VisitCancelled:
		return true
	}
	return false
}

// Visit is a single on-site interaction between a rep and a doctor.
type Visit struct {
	ID           int64       `json:"id"`
	UserID       int64       `json:"user_id"`
	UserName     string      `json:"user_name,omitempty"`
	DoctorID     int64       `json:"doctor_id"`
	DoctorName   string      `json:"doctor_name,omitempty"`
	LocationID   *int64      `json:"location_id,omitempty"`
	LocationName string      `json:"location_name,omitempty"`
	Status       VisitStatus `json:"status"`
	VisitDate    string      `json:"visit_date,omitempty"`
	CheckIn      time.Time   `json:"check_in"`
	CheckOut     *time.Time  `json:"check_out,omitempty"`
	Notes        string      `json:"notes,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Active reports whether the visit is IN_PROGRESS.
func (v *Visit) Active() bool {
	return v.Status == VisitInProgress
}

// End completes an in-progress visit at the given time and merges notes.
func (v *Visit) End(at time.Time, notes string) error {
	return v.close(VisitCompleted, at, notes)
}

// Cancel closes an in-progress visit as CANCELLED (admin override).
func (v *Visit) Cancel(at time.Time, reason string) error {
	return v.close(VisitCancelled, at, reason)
}

func (v *Visit) close(next VisitStatus, at time.Time, notes string) error {
	if !v.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: visit %d is %s", ErrVisitNotActive, v.ID, v.Status)
	}
	if at.Before(v.CheckIn) {
		at = v.CheckIn
	}
	v.Status = next
	v.CheckOut = &at
	v.Notes = MergeNotes(v.Notes, notes)
	return nil
}

// CheckInvariants verifies the check-out rules for the current status.
func (v *Visit) CheckInvariants() error {
	switch v.Status {
	case VisitInProgress:
		if v.CheckOut != nil {
			return fmt.Errorf("%w: visit %d in progress with check-out set", ErrVisitInvariant, v.ID)
		}
	case VisitCompleted, VisitCancelled:
		if v.CheckOut == nil {
			return fmt.Errorf("%w: visit %d is %s without check-out", ErrVisitInvariant, v.ID, v.Status)
		}
		if v.CheckOut.Before(v.CheckIn) {
			return fmt.Errorf("%w: visit %d checks out before check-in", ErrVisitInvariant, v.ID)
		}
	default:
		return fmt.Errorf("%w: visit %d has unknown status %q", ErrVisitInvariant, v.ID, v.Status)
	}
	return nil
}

// notesSeparator joins start notes and end notes.
const notesSeparator = "\n"

// MergeNotes applies the end-of-visit notes policy: blank end notes keep the
// existing text, blank existing text is overwritten, otherwise end notes are
// appended after a newline.
func MergeNotes(existing, end string) string {
	if strings.TrimSpace(end) == "" {
		return existing
	}
	if strings.TrimSpace(existing) == "" {
		return end
	}
	return existing + notesSeparator + end
}

// VisitEventType names a lifecycle transition recorded in the audit trail.
type VisitEventType string

const (
	VisitEventStarted   VisitEventType = "visit_started"
	VisitEventEnded     VisitEventType = "visit_ended"
	VisitEventCancelled VisitEventType = "visit_cancelled"
	VisitEventEdited    VisitEventType = "visit_edited"
	VisitEventDeleted   VisitEventType = "visit_deleted"
	VisitEventConflict  VisitEventType = "visit_start_conflict"
)

// VisitEvent records a transition the gateway brokered on behalf of an actor.
type VisitEvent struct {
	Type       VisitEventType
	VisitID    int64
	UserID     int64
	ActorID    int64
	ActorRole  Role
	Status     VisitStatus
	OccurredAt time.Time
	Detail     string
}
