package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNetwork            = errors.New("backend unreachable")
	ErrUnauthorized       = errors.New("session is no longer valid")
	ErrForbidden          = errors.New("access forbidden")
	ErrNotFound           = errors.New("resource not found")
	ErrActiveVisitExists  = errors.New("user already has an active visit")
	ErrVisitNotActive     = errors.New("visit is not in progress")
	ErrValidation         = errors.New("validation failed")
	ErrConflict           = errors.New("conflicts with the current state of the resource")

	ErrNoSession         = errors.New("no active session")
	ErrVisitStartPending = errors.New("a visit start is already in flight for this user")
	ErrSuperseded        = errors.New("request superseded by a newer query")
	ErrVisitInvariant    = errors.New("visit invariant violated")
)

// ActiveVisitError is returned when a start collides with an IN_PROGRESS visit.
// VisitID is zero when the conflicting visit could not be resolved.
type ActiveVisitError struct {
	UserID  int64
	VisitID int64
}

func (e *ActiveVisitError) Error() string {
	if e.VisitID == 0 {
		return fmt.Sprintf("%s (user %d)", ErrActiveVisitExists, e.UserID)
	}
	return fmt.Sprintf("%s (user %d, visit %d)", ErrActiveVisitExists, e.UserID, e.VisitID)
}

func (e *ActiveVisitError) Unwrap() error { return ErrActiveVisitExists }
