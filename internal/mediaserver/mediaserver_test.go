// SPDX-License-Identifier: MIT

package mediaserver

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmomusic/pmomusicd/internal/didl"
	"github.com/pmomusic/pmomusicd/internal/source"
)

// fakeSource is a static two-level catalog: root -> one album -> one
// track, plus a live broadcast item for the BrowseMetadata scenario.
type fakeSource struct {
	id      string
	counter source.UpdateIDCounter
	subs    source.Subscribers

	selfReferencing bool // misbehave: include the container itself among its children
}

func (f *fakeSource) Name() string         { return "Fake " + f.id }
func (f *fakeSource) ID() string           { return f.id }
func (f *fakeSource) DefaultImage() []byte { return nil }
func (f *fakeSource) SupportsFIFO() bool   { return false }
func (f *fakeSource) UpdateID() uint64     { return f.counter.Value() }
func (f *fakeSource) LastChange() time.Time {
	return f.counter.ChangedAt()
}
func (f *fakeSource) SubscribeToUpdates(cb source.UpdateCallback) func() {
	return f.subs.Subscribe(cb)
}

func (f *fakeSource) RootContainer(ctx context.Context) (didl.Object, error) {
	return didl.Object{
		ID: f.id + ":root", Title: f.Name(), Class: "object.container", IsContainer: true,
	}, nil
}

func (f *fakeSource) Browse(ctx context.Context, objectID string) (source.BrowseResult, error) {
	switch objectID {
	case f.id + ":root":
		containers := []didl.Object{{
			ID: f.id + ":album:1", ParentID: objectID, Title: "Kind of Blue",
			Class: "object.container.album.musicAlbum", IsContainer: true,
		}}
		if f.selfReferencing {
			self, _ := f.RootContainer(ctx)
			containers = append(containers, self)
		}
		return source.BrowseResult{Kind: source.KindContainers, Containers: containers}, nil
	case f.id + ":album:1":
		return source.BrowseResult{Kind: source.KindItems, Items: []didl.Object{{
			ID: f.id + ":track:1", ParentID: objectID, Title: "So What",
			Class: "object.item.audioItem.musicTrack",
		}}}, nil
	case f.id + ":fip:stream":
		return source.BrowseResult{Kind: source.KindSingleItem, Item: &didl.Object{
			ID: objectID, ParentID: f.id + ":fip", Title: "So What",
			Class: "object.item.audioItem.audioBroadcast",
			Resources: []didl.Res{{
				ProtocolInfo: "http-get:*:audio/flac:*",
				URI:          "http://stream.example/fip/flac",
			}},
		}}, nil
	case f.id + ":track:1":
		// Metadata round-trip on a leaf item: Items([self]).
		return source.BrowseResult{Kind: source.KindItems, Items: []didl.Object{{
			ID: objectID, ParentID: f.id + ":album:1", Title: "So What",
			Class: "object.item.audioItem.musicTrack",
		}}}, nil
	default:
		return source.BrowseResult{}, fmt.Errorf("fake: unknown object id %q", objectID)
	}
}

func (f *fakeSource) ResolveURI(ctx context.Context, objectID string) (string, error) {
	return "http://resolved.example/" + objectID, nil
}

func TestBrowse_RootAggregatesSources(t *testing.T) {
	agg := NewAggregator()
	agg.Register(&fakeSource{id: "alpha"})
	agg.Register(&fakeSource{id: "beta"})

	res, err := agg.Browse(context.Background(), "0", false)
	require.NoError(t, err)
	require.Len(t, res.Containers, 2)
	assert.Equal(t, "alpha:root", res.Containers[0].ID)
	assert.Equal(t, "beta:root", res.Containers[1].ID)
	for _, c := range res.Containers {
		assert.Equal(t, "0", c.ParentID)
	}
}

// P3: a container's id never appears among its direct children.
func TestBrowse_SelfReferenceFiltered(t *testing.T) {
	agg := NewAggregator()
	agg.Register(&fakeSource{id: "alpha", selfReferencing: true})

	res, err := agg.Browse(context.Background(), "alpha:root", false)
	require.NoError(t, err)
	for _, c := range res.Containers {
		assert.NotEqual(t, "alpha:root", c.ID)
	}
	require.Len(t, res.Containers, 1)
}

// BrowseMetadata on a live item returns
// exactly that one-item DIDL; a leaf item must not be rejected.
func TestBrowse_MetadataOnLiveItem(t *testing.T) {
	agg := NewAggregator()
	agg.Register(&fakeSource{id: "radiofrance"})

	res, err := agg.Browse(context.Background(), "radiofrance:fip:stream", true)
	require.NoError(t, err)
	objs := browseResultObjects(res)
	require.Len(t, objs, 1)
	assert.Equal(t, "radiofrance:fip:stream", objs[0].ID)
	assert.Equal(t, "object.item.audioItem.audioBroadcast", objs[0].Class)
	require.Len(t, objs[0].Resources, 1)
	assert.Equal(t, "http://stream.example/fip/flac", objs[0].Resources[0].URI)
}

func TestBrowse_UnknownOwner(t *testing.T) {
	agg := NewAggregator()
	agg.Register(&fakeSource{id: "alpha"})

	_, err := agg.Browse(context.Background(), "zulu:whatever", false)
	assert.Error(t, err)
}

func TestResolveURI_Dispatch(t *testing.T) {
	agg := NewAggregator()
	agg.Register(&fakeSource{id: "alpha"})

	url, err := agg.ResolveURI(context.Background(), "alpha:track:1")
	require.NoError(t, err)
	assert.Equal(t, "http://resolved.example/alpha:track:1", url)
}

func TestApplySortCriteria_TitleNumericAware(t *testing.T) {
	objs := []didl.Object{
		{ID: "a", Title: "Track 10"},
		{ID: "b", Title: "track 2"},
		{ID: "c", Title: "Track 1"},
	}

	sorted := applySortCriteria(objs, "+dc:title")
	assert.Equal(t, []string{"Track 1", "track 2", "Track 10"},
		[]string{sorted[0].Title, sorted[1].Title, sorted[2].Title})

	desc := applySortCriteria(objs, "-dc:title")
	assert.Equal(t, "Track 10", desc[0].Title)

	// Unknown criteria preserves source order.
	unsorted := applySortCriteria([]didl.Object{{Title: "b"}, {Title: "a"}}, "+upnp:artist")
	assert.Equal(t, "b", unsorted[0].Title)
}

func TestConnectionManager_SourceProtocolInfoNonEmpty(t *testing.T) {
	svc, err := BuildConnectionManagerService()
	require.NoError(t, err)

	action, ok := svc.Actions["GetProtocolInfo"]
	require.True(t, ok)
	out, fault := action.Handler(nil)
	require.Nil(t, fault)

	var src string
	for _, arg := range out {
		if arg.Name == "Source" {
			src = arg.Value
		}
	}
	assert.NotEmpty(t, src, "an empty SourceProtocolInfo is a contract violation")
	assert.Contains(t, src, "http-get:*:audio/flac:*")
	assert.Contains(t, src, "http-get:*:audio/x-flac:*")
	assert.Contains(t, src, "http-get:*:application/ogg:*")
}
