// SPDX-License-Identifier: MIT

package localfiles

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmomusic/pmomusicd/internal/source"
)

// writeFakeTrack creates a file with a supported extension but no
// readable tags, exercising the filename-fallback path without
// needing real audio fixtures.
func writeFakeTrack(t *testing.T, root string, rel string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("not actually audio"), 0o644))
}

func scannedSource(t *testing.T) *Source {
	t.Helper()
	root := t.TempDir()
	writeFakeTrack(t, root, "Kind of Blue/01 So What.flac")
	writeFakeTrack(t, root, "Kind of Blue/02 Freddie Freeloader.flac")
	writeFakeTrack(t, root, "Blue Train/01 Blue Train.mp3")
	writeFakeTrack(t, root, "notes.txt") // ignored: unsupported extension

	s := New(root)
	require.NoError(t, s.Scan(context.Background()))
	return s
}

func TestScanAndBrowseTree(t *testing.T) {
	s := scannedSource(t)
	ctx := context.Background()

	root, err := s.RootContainer(ctx)
	require.NoError(t, err)
	assert.Equal(t, "localfiles:root", root.ID)
	assert.True(t, root.IsContainer)

	res, err := s.Browse(ctx, "localfiles:root")
	require.NoError(t, err)
	require.Equal(t, source.KindContainers, res.Kind)
	require.Len(t, res.Containers, 2, "one album per directory")

	titles := []string{res.Containers[0].Title, res.Containers[1].Title}
	assert.Contains(t, titles, "Kind of Blue")
	assert.Contains(t, titles, "Blue Train")
}

func TestBrowseAlbumChildren(t *testing.T) {
	s := scannedSource(t)
	ctx := context.Background()

	res, err := s.Browse(ctx, "localfiles:root")
	require.NoError(t, err)

	var albumID string
	for _, c := range res.Containers {
		if c.Title == "Kind of Blue" {
			albumID = c.ID
		}
	}
	require.NotEmpty(t, albumID)

	children, err := s.Browse(ctx, albumID)
	require.NoError(t, err)
	require.Equal(t, source.KindItems, children.Kind)
	require.Len(t, children.Items, 2)

	// Untagged files fall back to their basename as title.
	assert.Equal(t, "01 So What", children.Items[0].Title)
	for _, it := range children.Items {
		assert.Equal(t, albumID, it.ParentID)
		assert.NotEqual(t, albumID, it.ID, "a container's id must not appear among its children")
	}
}

func TestBrowseLeafItem(t *testing.T) {
	s := scannedSource(t)
	ctx := context.Background()

	res, err := s.Browse(ctx, "localfiles:root")
	require.NoError(t, err)
	children, err := s.Browse(ctx, res.Containers[0].ID)
	require.NoError(t, err)
	require.NotEmpty(t, children.Items)

	leaf, err := s.Browse(ctx, children.Items[0].ID)
	require.NoError(t, err)
	require.Equal(t, source.KindSingleItem, leaf.Kind)
	require.NotNil(t, leaf.Item)
	assert.Equal(t, children.Items[0].ID, leaf.Item.ID)
}

func TestBrowseUnknownID(t *testing.T) {
	s := scannedSource(t)
	_, err := s.Browse(context.Background(), "localfiles:nope")
	assert.Error(t, err)
}

func TestResolveAndOpen(t *testing.T) {
	s := scannedSource(t)
	ctx := context.Background()

	res, err := s.Browse(ctx, "localfiles:root")
	require.NoError(t, err)
	children, err := s.Browse(ctx, res.Containers[0].ID)
	require.NoError(t, err)
	trackID := children.Items[0].ID

	uri, err := s.ResolveURI(ctx, trackID)
	require.NoError(t, err)
	assert.NotEmpty(t, uri)

	rc, err := s.Open(trackID)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
}

func TestSourceIdentity(t *testing.T) {
	s := New(t.TempDir())
	assert.Equal(t, "localfiles", s.ID())
	assert.False(t, s.SupportsFIFO())
}
