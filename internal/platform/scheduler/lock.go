package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLockKey is the Redis key contended for by scheduler instances.
const DefaultLockKey = "waitlist:scheduler:leader"

// Locker elects the instance that runs a tick. Refresh extends a held lock
// and reports false once it has lapsed or passed to another instance.
type Locker interface {
	TryLock(ctx context.Context, ttl time.Duration) (bool, error)
	Refresh(ctx context.Context, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context) error
}

// NoopLocker always grants the lock. Use it for single-instance deployments.
type NoopLocker struct{}

func (NoopLocker) TryLock(context.Context, time.Duration) (bool, error) { return true, nil }
func (NoopLocker) Refresh(context.Context, time.Duration) (bool, error) { return true, nil }
func (NoopLocker) Unlock(context.Context) error                         { return nil }

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a single-key lease lock. Each holder writes a random token
// so that it only ever releases its own lease.
type RedisLocker struct {
	client redisClient
	key    string
	token  string
}

// redisClient is what RedisLocker needs from go-redis; *redis.Client and
// *redis.ClusterClient both satisfy it.
type redisClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

func NewRedisLocker(client redisClient, key string) *RedisLocker {
	if key == "" {
		key = DefaultLockKey
	}
	return &RedisLocker{client: client, key: key, token: uuid.NewString()}
}

func (l *RedisLocker) TryLock(ctx context.Context, ttl time.Duration) (bool, error) {
	acquired, err := l.client.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis lock %s: %w", l.key, err)
	}
	return acquired, nil
}

func (l *RedisLocker) Refresh(ctx context.Context, ttl time.Duration) (bool, error) {
	n, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("redis refresh lock %s: %w", l.key, err)
	}
	return n == 1, nil
}

func (l *RedisLocker) Unlock(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis unlock %s: %w", l.key, err)
	}
	return nil
}
