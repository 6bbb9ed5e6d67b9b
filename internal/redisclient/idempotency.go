package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

func idempotencyKey(scope, key string) string {
	return fmt.Sprintf("idempotency:%s:%s", scope, key)
}

func lockKey(key string) string {
	return fmt.Sprintf("lock:%s", key)
}

// IdempotencyStore remembers the result reference of requests carrying an
// Idempotency-Key header
type IdempotencyStore struct {
	rdb         *redis.Client
	ttl         time.Duration
	releaseLock *redis.Script
}

// NewIdempotencyStore creates a new Redis-backed idempotency store
func NewIdempotencyStore(c *Client, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{rdb: c.rdb, ttl: ttl, releaseLock: redis.NewScript(releaseLockScript)}
}

// Lookup returns the stored value for a key, or "" when none exists
func (s *IdempotencyStore) Lookup(ctx context.Context, scope, key string) (string, error) {
	value, err := s.rdb.Get(ctx, idempotencyKey(scope, key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read idempotency key: %w", err)
	}
	return value, nil
}

// Remember stores the value for a key with the configured TTL
func (s *IdempotencyStore) Remember(ctx context.Context, scope, key, value string) error {
	if err := s.rdb.Set(ctx, idempotencyKey(scope, key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store idempotency key: %w", err)
	}
	return nil
}

// AcquireLock acquires a lock that guards a key while the request runs. The
// returned token identifies the holder and must be passed to ReleaseLock.
func (s *IdempotencyStore) AcquireLock(ctx context.Context, scope, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := s.rdb.SetNX(ctx, lockKey(idempotencyKey(scope, key)), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseLock releases a lock taken with AcquireLock. A lock that expired and
// was taken by another request is left alone.
func (s *IdempotencyStore) ReleaseLock(ctx context.Context, scope, key, token string) error {
	if err := s.releaseLock.Run(ctx, s.rdb, []string{lockKey(idempotencyKey(scope, key))}, token).Err(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
