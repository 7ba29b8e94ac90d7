// SPDX-License-Identifier: MIT

package cache

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T, limit int) *Cache {
	t.Helper()
	c, err := Open(Config{Root: t.TempDir(), Name: "audio", Limit: limit})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// addAndWait inserts a payload and waits for the background write to
// land (Read blocks on the in-flight write, so a successful Read means
// the asset row exists).
func addAndWait(t *testing.T, c *Cache, key, payload string) string {
	t.Helper()
	ctx := context.Background()
	pk, err := c.AddFromReader(ctx, key, "audio", strings.NewReader(payload))
	require.NoError(t, err)
	rc, err := c.Read(ctx, pk)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, payload, string(got))
	return pk
}

func TestAddFromReader_RoundTrip(t *testing.T) {
	c := openTestCache(t, 10)
	pk := addAndWait(t, c, "track-1", "flac bytes here")

	// Same key coalesces onto the same PK.
	pk2, err := c.AddFromReader(context.Background(), "track-1", "audio", strings.NewReader("flac bytes here"))
	require.NoError(t, err)
	assert.Equal(t, pk, pk2)
}

func TestAddFromReader_PrebufferHandoff(t *testing.T) {
	c, err := Open(Config{Root: t.TempDir(), Name: "audio", Limit: 10, PrebufferBytes: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	// A reader that delivers the prebuffer immediately but holds the
	// tail until released: AddFromReader must return before EOF.
	tail := make(chan struct{})
	r := io.MultiReader(
		bytes.NewReader(bytes.Repeat([]byte("a"), 16)),
		readerFunc(func(p []byte) (int, error) {
			<-tail
			return 0, io.EOF
		}),
	)

	done := make(chan string, 1)
	go func() {
		pk, err := c.AddFromReader(context.Background(), "slow", "audio", r)
		require.NoError(t, err)
		done <- pk
	}()

	var pk string
	select {
	case pk = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("AddFromReader did not return at the prebuffer threshold")
	}
	close(tail)

	rc, err := c.Read(context.Background(), pk)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Len(t, got, 16)
}

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

// P1: pinned and ttl_expires_at are mutually exclusive, both ways.
func TestPinTTL_MutualExclusion(t *testing.T) {
	c := openTestCache(t, 10)
	pk := addAndWait(t, c, "track-1", "payload")

	require.NoError(t, c.SetTTL(pk, time.Now().Add(time.Hour)))
	assert.ErrorIs(t, c.Pin(pk), ErrConflict)

	require.NoError(t, c.ClearTTL(pk))
	require.NoError(t, c.Pin(pk))
	assert.ErrorIs(t, c.SetTTL(pk, time.Now().Add(time.Hour)), ErrConflict)

	require.NoError(t, c.Unpin(pk))
	require.NoError(t, c.SetTTL(pk, time.Now().Add(time.Hour)))
}

func TestPinTTL_UnknownPK(t *testing.T) {
	c := openTestCache(t, 10)
	assert.ErrorIs(t, c.Pin("nope"), ErrNotFound)
	assert.ErrorIs(t, c.SetTTL("nope", time.Now()), ErrNotFound)
	assert.ErrorIs(t, c.Unpin("nope"), ErrNotFound)
}

// P2: count_unpinned <= limit after any mutation. The over-limit
// insert and its sweep finish asynchronously, so the count is polled.
func TestSweep_LRULimit(t *testing.T) {
	c := openTestCache(t, 2)
	pk1 := addAndWait(t, c, "t1", "one")
	pk2 := addAndWait(t, c, "t2", "two")
	pk3, err := c.AddFromReader(context.Background(), "t3", "audio", strings.NewReader("three"))
	require.NoError(t, err)

	pks := []string{pk1, pk2, pk3}
	assert.Eventually(t, func() bool {
		surviving := 0
		for _, pk := range pks {
			if _, err := c.Stat(pk); err == nil {
				surviving++
			}
		}
		return surviving == 2
	}, 2*time.Second, 10*time.Millisecond, "LRU sweep must hold unpinned count at the limit")
}

func TestSweep_PinnedExcludedFromLRU(t *testing.T) {
	c := openTestCache(t, 1)
	pinned := addAndWait(t, c, "keep", "keep")
	require.NoError(t, c.Pin(pinned))

	first := addAndWait(t, c, "t1", "one")
	_, err := c.AddFromReader(context.Background(), "t2", "audio", strings.NewReader("two"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, e1 := c.Stat(first)
		_, e2 := c.Stat(contentKey("audio", "t2"))
		evicted := 0
		if e1 != nil {
			evicted++
		}
		if e2 != nil {
			evicted++
		}
		return evicted == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, err = c.Stat(pinned)
	assert.NoError(t, err, "pinned entries never evict")
}

func TestSweep_TTLExpiryBeforeLRU(t *testing.T) {
	c := openTestCache(t, 10)
	pk := addAndWait(t, c, "ephemeral", "gone soon")
	require.NoError(t, c.SetTTL(pk, time.Now().Add(-time.Second)))

	// Any mutation runs the sweep; insert another entry.
	addAndWait(t, c, "fresh", "stays")

	_, err := c.Stat(pk)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.Read(context.Background(), pk)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLazy_MaterializeOnFirstRead(t *testing.T) {
	c := openTestCache(t, 10)

	calls := 0
	provider := func(ctx context.Context, pk string) (io.ReadCloser, int64, error) {
		calls++
		return io.NopCloser(strings.NewReader("lazy payload")), int64(len("lazy payload")), nil
	}
	require.NoError(t, c.AddLazy("qobuz:42", "audio", provider, map[string]string{"streamUrl": "https://example.test/42"}))

	v, ok, err := c.Metadata("qobuz:42", "streamUrl")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://example.test/42", v)

	rc, err := c.Read(context.Background(), "qobuz:42")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "lazy payload", string(got))
	assert.Equal(t, 1, calls)

	// Second read serves the materialized blob without re-invoking the
	// provider.
	rc, err = c.Read(context.Background(), "qobuz:42")
	require.NoError(t, err)
	_, _ = io.ReadAll(rc)
	require.NoError(t, rc.Close())
	assert.Equal(t, 1, calls)
}

func TestMetadata_SideTable(t *testing.T) {
	c := openTestCache(t, 10)
	pk := addAndWait(t, c, "t1", "payload")

	require.NoError(t, c.SetMetadata(pk, "title", "Blue in Green"))
	require.NoError(t, c.SetMetadata(pk, "cover_pk", "abc123"))
	require.NoError(t, c.SetMetadata(pk, "title", "Blue In Green")) // overwrite

	all, err := c.AllMetadata(pk)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"title": "Blue In Green", "cover_pk": "abc123"}, all)

	_, ok, err := c.Metadata(pk, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
