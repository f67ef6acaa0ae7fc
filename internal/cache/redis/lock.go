package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/exchangesandbox/internal/domain"
)

// releaseLua deletes the lock only while it still carries the holder's token,
// so an expired holder cannot release a lock taken over by someone else.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Locker implements domain.Locker with SET NX plus a token-checked release.
// The archive job uses it so only one sandbox instance exports history.
type Locker struct {
	rdb     *redis.Client
	release *redis.Script
}

// NewLocker creates a Locker on the given Client.
func NewLocker(c *Client) *Locker {
	return &Locker{rdb: c.rdb, release: redis.NewScript(releaseLua)}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire takes the lock for ttl or returns domain.ErrLockHeld.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lockKey(key)

	ok, err := l.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, domain.ErrLockHeld)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be done.
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = l.release.Run(rctx, l.rdb, []string{lk}, token).Err()
		})
	}, nil
}

var _ domain.Locker = (*Locker)(nil)
