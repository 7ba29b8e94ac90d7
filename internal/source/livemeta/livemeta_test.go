// SPDX-License-Identifier: MIT

package livemeta

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmomusic/pmomusicd/internal/source"
)

type scriptedFetcher struct {
	mu    sync.Mutex
	calls int
	meta  source.TrackMetadata
	ttl   time.Duration
	err   error
}

func (f *scriptedFetcher) fetch(ctx context.Context, slug string) (source.TrackMetadata, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.meta, f.ttl, f.err
}

func (f *scriptedFetcher) set(meta source.TrackMetadata, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meta, f.err = meta, err
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestGet_CachesWithinTTL(t *testing.T) {
	f := &scriptedFetcher{meta: source.TrackMetadata{Title: "So What"}, ttl: time.Hour}
	c := New(f.fetch, nil, nil)

	ctx := context.Background()
	got, err := c.Get(ctx, "fip")
	require.NoError(t, err)
	assert.Equal(t, "So What", got.Title)

	// Fresh entry: no second upstream call.
	_, err = c.Get(ctx, "fip")
	require.NoError(t, err)
	assert.Equal(t, 1, f.callCount())
}

// P8: update_id increments on every observed metadata change and never
// otherwise.
func TestGet_UpdateIDOnChangeOnly(t *testing.T) {
	f := &scriptedFetcher{meta: source.TrackMetadata{Title: "So What"}, ttl: time.Nanosecond}
	counter := &source.UpdateIDCounter{}

	var notified []string
	c := New(f.fetch, func(slug string) { notified = append(notified, slug) }, counter)

	ctx := context.Background()
	_, err := c.Get(ctx, "fip")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), counter.Value())
	assert.Equal(t, []string{"fip"}, notified)

	// TTL expired, same metadata: refetch happens, no change observed.
	time.Sleep(time.Millisecond)
	_, err = c.Get(ctx, "fip")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), counter.Value())
	assert.Equal(t, 2, f.callCount())

	// Metadata changed: counter advances, callback fires again.
	f.set(source.TrackMetadata{Title: "Freddie Freeloader"}, nil)
	time.Sleep(time.Millisecond)
	_, err = c.Get(ctx, "fip")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), counter.Value())
	assert.Equal(t, []string{"fip", "fip"}, notified)
}

func TestGet_ServesStaleOnFetchError(t *testing.T) {
	f := &scriptedFetcher{meta: source.TrackMetadata{Title: "So What"}, ttl: time.Nanosecond}
	c := New(f.fetch, nil, nil)

	ctx := context.Background()
	_, err := c.Get(ctx, "fip")
	require.NoError(t, err)

	f.set(source.TrackMetadata{}, errors.New("upstream down"))
	time.Sleep(time.Millisecond)
	got, err := c.Get(ctx, "fip")
	require.NoError(t, err, "a stale value beats a failed poll tick")
	assert.Equal(t, "So What", got.Title)
}

func TestGet_ErrorWithNoCachedValue(t *testing.T) {
	f := &scriptedFetcher{err: errors.New("upstream down")}
	c := New(f.fetch, nil, nil)

	_, err := c.Get(context.Background(), "fip")
	assert.Error(t, err)
}
