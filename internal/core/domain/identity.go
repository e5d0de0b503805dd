package domain

import (
	"fmt"
	"strings"
	"time"
)

// Role is the single role carried by an authenticated identity.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleRep     Role = "REP"
)

// ParseRole normalises s and reports whether it names a known role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case RoleAdmin, RoleManager, RoleRep:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrValidation, s)
}

// Identity is the authenticated principal held for the duration of a session.
// It is built once at login and never partially mutated afterwards.
type Identity struct {
	Token     string
	Role      Role
	UserID    int64
	Name      string
	Email     string
	ExpiresAt time.Time
}

// Expired reports whether the token's exp claim is at or before now.
func (i Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.After(now)
}

// Session binds an Identity to the opaque id handed to the browser.
type Session struct {
	ID       string
	Identity Identity
}

// User is the account view returned by the backend on registration.
type User struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	Phone    string `json:"phone,omitempty"`
	IsActive bool   `json:"is_active"`
}
