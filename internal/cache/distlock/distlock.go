// SPDX-License-Identifier: MIT

// Package distlock provides the optional distributed lock the cache
// layer uses to coalesce add_from_url/materialize across multiple
// PMOMusic instances sharing one cache root. A single instance needs
// no coordination beyond the in-process singleflight.Group already
// used inside internal/cache; NoopLocker is that default.
package distlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker acquires a named lock, returning a release function. Lock
// blocks (respecting ctx) until acquired.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// NoopLocker is a no-op Locker for single-instance deployments; every
// call succeeds immediately with a release function that does nothing.
type NoopLocker struct{}

func (NoopLocker) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}

const (
	lockTTL   = 30 * time.Second
	pollEvery = 100 * time.Millisecond
	keyPrefix = "pmomusicd:cache:lock:"
)

// RedisLocker implements Locker with a Redis SET NX PX spin-lock.
type RedisLocker struct {
	client *redis.Client
}

// New constructs a RedisLocker against addr, a plain "host:port"
// address; redis:// URLs are not parsed.
func New(addr, password string, db int) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("distlock: connect to redis: %w", err)
	}
	return &RedisLocker{client: client}, nil
}

// NewFromClient wraps an already-constructed *redis.Client, used by
// tests wiring a miniredis instance.
func NewFromClient(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// Lock blocks until it acquires the named lock or ctx is cancelled.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := keyPrefix + key

	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("distlock: acquire %q: %w", key, err)
		}
		if ok {
			unlock := func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				l.releaseIfOwned(releaseCtx, redisKey, token)
			}
			return unlock, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// releaseIfOwned deletes the key only if it still holds our token,
// avoiding deleting a lock some other holder acquired after our TTL
// expired.
func (l *RedisLocker) releaseIfOwned(ctx context.Context, key, token string) {
	const script = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`
	if err := l.client.Eval(ctx, script, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		// Best-effort: the lock will simply expire via its TTL.
		_ = err
	}
}
