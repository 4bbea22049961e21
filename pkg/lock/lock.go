// Package lock implements a Redis-backed distributed lock used to elect a
// single active cron scheduler across replicas. The lock is a plain SET NX
// with TTL, refreshed by the holder on every acquisition attempt, so a
// crashed holder is superseded once the TTL lapses.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockNotHeld = errors.New("lock not held by this instance")

// unlockScript releases the lock only when the stored token matches, so an
// instance can never release a lock another instance won after TTL expiry.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// refreshScript extends the TTL only for the current holder.
var refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLock is a distributed lock keyed by name. Each instance carries a
// unique token so unlocks and refreshes cannot cross instances.
type RedisLock struct {
	client redis.UniversalClient
	token  string
}

// New returns a RedisLock with a fresh instance token.
func New(client redis.UniversalClient) *RedisLock {
	return &RedisLock{
		client: client,
		token:  uuid.NewString(),
	}
}

// TryLock attempts to acquire the named lock for ttl. It returns true when
// the lock was acquired or is already held by this instance (in which case
// the TTL is refreshed). It never blocks waiting for the lock.
func (l *RedisLock) TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, name, l.token, ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	// Not acquired. Refresh succeeds only when we are the current holder.
	n, err := refreshScript.Run(ctx, l.client, []string{name}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Unlock releases the named lock if held by this instance.
func (l *RedisLock) Unlock(ctx context.Context, name string) error {
	n, err := unlockScript.Run(ctx, l.client, []string{name}, l.token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
