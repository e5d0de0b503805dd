package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/medtrack/field-gateway/internal/core/ports"
)

const defaultStartGuardTTL = 15 * time.Second

// releaseScript deletes the guard only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// StartGuard marks a visit start as in flight for a user.
// Key format: <prefix>:visit-start:<user_id>, value: a per-acquire token.
type StartGuard struct {
	client   *redis.Client
	prefix   string
	ttl      time.Duration
	newToken func() string
}

var _ ports.StartGuard = (*StartGuard)(nil)

// NewStartGuard creates a StartGuard. The TTL bounds how long a crashed start
// can block the user; defaultStartGuardTTL is used when ttl <= 0.
func NewStartGuard(client *redis.Client, prefix string, ttl time.Duration) *StartGuard {
	if ttl <= 0 {
		ttl = defaultStartGuardTTL
	}
	return &StartGuard{client: client, prefix: prefix, ttl: ttl, newToken: uuid.NewString}
}

func (g *StartGuard) Acquire(ctx context.Context, userID int64) (string, bool, error) {
	token := g.newToken()
	ok, err := g.client.SetNX(ctx, g.key(userID), token, g.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("start guard acquire: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release is a no-op when the guard expired and was taken by a later start.
func (g *StartGuard) Release(ctx context.Context, userID int64, token string) error {
	if err := releaseScript.Run(ctx, g.client, []string{g.key(userID)}, token).Err(); err != nil {
		return fmt.Errorf("start guard release: %w", err)
	}
	return nil
}

func (g *StartGuard) key(userID int64) string {
	return fmt.Sprintf("%s:visit-start:%d", g.prefix, userID)
}
