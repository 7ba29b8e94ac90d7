// SPDX-License-Identifier: MIT

package playlist

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "playlists.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ttl := int64(7 * 24 * 3600)
	require.NoError(t, s.Create(ctx, Playlist{
		ID:             "qobuz:album:7",
		Role:           "qobuz_album",
		Title:          "Kind of Blue",
		CoverPK:        "cover-pk-1",
		DefaultTTLSecs: &ttl,
	}))

	got, err := s.Get(ctx, "qobuz:album:7")
	require.NoError(t, err)
	assert.Equal(t, "qobuz_album", got.Role)
	assert.Equal(t, "Kind of Blue", got.Title)
	assert.Equal(t, "cover-pk-1", got.CoverPK)
	require.NotNil(t, got.DefaultTTLSecs)
	assert.Equal(t, ttl, *got.DefaultTTLSecs)
	assert.False(t, got.LastChange.IsZero())
}

func TestGet_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreate_ReplacesExisting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, Playlist{ID: "p1", Role: "user", Title: "Old"}))
	require.NoError(t, s.Create(ctx, Playlist{ID: "p1", Role: "user", Title: "New"}))

	got, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "New", got.Title)
}

func TestBatchInsertTracks_OrderAndTTL(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, Playlist{ID: "p1", Role: "qobuz_album", Title: "Album"}))

	ttl := int64(3600)
	require.NoError(t, s.BatchInsertTracks(ctx, "p1", []string{"pk-a", "pk-b"}, &ttl))
	require.NoError(t, s.BatchInsertTracks(ctx, "p1", []string{"pk-c"}, nil))

	tracks, err := s.Tracks(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, tracks, 3)

	for i, wantPK := range []string{"pk-a", "pk-b", "pk-c"} {
		assert.Equal(t, i, tracks[i].Position)
		assert.Equal(t, wantPK, tracks[i].CachePK)
	}
	require.NotNil(t, tracks[0].TTLSecs)
	assert.Equal(t, ttl, *tracks[0].TTLSecs)
	assert.Nil(t, tracks[2].TTLSecs)
}

func TestTracks_EmptyPlaylist(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, Playlist{ID: "p1", Role: "user", Title: "Empty"}))

	tracks, err := s.Tracks(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, tracks)
}
