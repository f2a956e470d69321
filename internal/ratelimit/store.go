package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable is returned when the counter backend cannot be reached.
var ErrStoreUnavailable = errors.New("quota store unavailable")

// Window is the state of a counter right after an increment.
// Remaining is zero when the backend did not report a TTL.
type Window struct {
	Count     int64
	Remaining time.Duration
}

// Store is a shared counter with per-key expiry.
type Store interface {
	// IncrementAndGet atomically increments key. A new key starts at 1 and
	// expires after ttlIfNew; an existing key keeps its TTL.
	IncrementAndGet(ctx context.Context, key string, ttlIfNew time.Duration) (Window, error)
	// Reset deletes the counter.
	Reset(ctx context.Context, key string) error
}

// INCR and the first-hit PEXPIRE run in one script so concurrent callers can
// neither lose an increment nor re-arm the window. A key left without a TTL
// is re-armed instead of living forever.
var incrementScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if count == 1 or ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore implements Store on a Redis deployment.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) IncrementAndGet(ctx context.Context, key string, ttlIfNew time.Duration) (Window, error) {
	if ttlIfNew < time.Millisecond {
		return Window{}, fmt.Errorf("quota ttl must be at least 1ms, got %s", ttlIfNew)
	}
	vals, err := incrementScript.Run(ctx, s.client, []string{key}, ttlIfNew.Milliseconds()).Int64Slice()
	if err != nil {
		return Window{}, s.wrap(ctx, err)
	}
	if len(vals) != 2 {
		return Window{}, fmt.Errorf("%w: unexpected script reply of %d values", ErrStoreUnavailable, len(vals))
	}
	w := Window{Count: vals[0]}
	if vals[1] > 0 {
		w.Remaining = time.Duration(vals[1]) * time.Millisecond
	}
	return w, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return s.wrap(ctx, err)
	}
	return nil
}

// wrap keeps caller cancellation distinguishable from an unreachable backend.
func (s *RedisStore) wrap(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
