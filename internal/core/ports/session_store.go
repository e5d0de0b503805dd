package ports

import (
	"context"
	"time"
)

// StoredSession is the persisted form of a session. Token, Role and UserID are
// the three core keys; they are always written and cleared together.
type StoredSession struct {
	Token  string
	Role   string
	UserID string
	Name   string
	Email  string
}

// SessionStore is the durable key-value store scoped to a browser session id.
type SessionStore interface {
	// Save writes every key in one transaction and expires them at expiresAt.
	Save(ctx context.Context, sessionID string, s StoredSession, expiresAt time.Time) error
	// Load returns the stored keys. Missing keys come back as empty strings.
	Load(ctx context.Context, sessionID string) (StoredSession, error)
	// Clear removes every key in one transaction. Clearing an absent session is not an error.
	Clear(ctx context.Context, sessionID string) error
}

// StartGuard serialises overlapping start requests for the same user.
type StartGuard interface {
	// Acquire reports false when another start for userID is already in flight.
	// The returned token identifies this holder.
	Acquire(ctx context.Context, userID int64) (token string, ok bool, err error)
	// Release drops the guard only while token still holds it.
	Release(ctx context.Context, userID int64, token string) error
}
