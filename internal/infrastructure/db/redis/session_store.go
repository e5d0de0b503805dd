package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/medtrack/field-gateway/internal/core/ports"
)

// SessionStore keeps the session keys in Redis.
// Key format: <prefix>:session:<session_id>:{token,role,user_id,profile}
type SessionStore struct {
	client *redis.Client
	prefix string
}

var _ ports.SessionStore = (*SessionStore)(nil)

func NewSessionStore(client *redis.Client, prefix string) *SessionStore {
	return &SessionStore{client: client, prefix: prefix}
}

type sessionKeys struct {
	token, role, userID, profile string
}

func (s *SessionStore) keys(sessionID string) sessionKeys {
	base := fmt.Sprintf("%s:session:%s", s.prefix, sessionID)
	return sessionKeys{
		token:   base + ":token",
		role:    base + ":role",
		userID:  base + ":user_id",
		profile: base + ":profile",
	}
}

func (k sessionKeys) all() []string {
	return []string{k.token, k.role, k.userID, k.profile}
}

// Save writes every key inside one MULTI/EXEC and expires them at expiresAt.
func (s *SessionStore) Save(ctx context.Context, sessionID string, st ports.StoredSession, expiresAt time.Time) error {
	k := s.keys(sessionID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, k.token, st.Token, 0)
		pipe.Set(ctx, k.role, st.Role, 0)
		pipe.Set(ctx, k.userID, st.UserID, 0)
		pipe.Del(ctx, k.profile)
		pipe.HSet(ctx, k.profile, "name", st.Name, "email", st.Email)
		for _, key := range k.all() {
			pipe.ExpireAt(ctx, key, expiresAt)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Load reads the session keys. Absent keys come back empty.
func (s *SessionStore) Load(ctx context.Context, sessionID string) (ports.StoredSession, error) {
	k := s.keys(sessionID)

	var (
		core    *redis.SliceCmd
		profile *redis.SliceCmd
	)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		core = pipe.MGet(ctx, k.token, k.role, k.userID)
		profile = pipe.HMGet(ctx, k.profile, "name", "email")
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return ports.StoredSession{}, fmt.Errorf("load session: %w", err)
	}

	vals := core.Val()
	prof := profile.Val()
	return ports.StoredSession{
		Token:  str(vals, 0),
		Role:   str(vals, 1),
		UserID: str(vals, 2),
		Name:   str(prof, 0),
		Email:  str(prof, 1),
	}, nil
}

// Clear deletes every key in one transaction.
func (s *SessionStore) Clear(ctx context.Context, sessionID string) error {
	k := s.keys(sessionID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k.all()...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func str(vals []any, i int) string {
	if i >= len(vals) {
		return ""
	}
	s, _ := vals[i].(string)
	return s
}
