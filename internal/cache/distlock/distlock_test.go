// SPDX-License-Identifier: MIT

package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) *RedisLocker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewFromClient(client)
}

func TestRedisLocker_AcquireRelease(t *testing.T) {
	l := newTestLocker(t)

	unlock, err := l.Lock(context.Background(), "pk1")
	require.NoError(t, err)
	unlock()

	// Released lock is immediately re-acquirable.
	unlock2, err := l.Lock(context.Background(), "pk1")
	require.NoError(t, err)
	unlock2()
}

func TestRedisLocker_MutualExclusion(t *testing.T) {
	l := newTestLocker(t)

	unlock, err := l.Lock(context.Background(), "pk1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "pk1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()

	unlock2, err := l.Lock(context.Background(), "pk1")
	require.NoError(t, err)
	unlock2()
}

func TestRedisLocker_IndependentKeys(t *testing.T) {
	l := newTestLocker(t)

	unlock1, err := l.Lock(context.Background(), "pk1")
	require.NoError(t, err)
	defer unlock1()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlock2, err := l.Lock(ctx, "pk2")
	require.NoError(t, err, "a held lock must not block other keys")
	unlock2()
}

func TestNoopLocker(t *testing.T) {
	var l NoopLocker
	unlock, err := l.Lock(context.Background(), "anything")
	require.NoError(t, err)
	unlock()
}
