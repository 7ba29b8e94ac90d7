// SPDX-License-Identifier: MIT

package didl

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func TestMarshalObjects_Namespaces(t *testing.T) {
	out, err := MarshalObjects([]Object{{
		ID: "a", ParentID: "0", Title: "Albums", IsContainer: true,
	}})
	require.NoError(t, err)

	doc := string(out)
	assert.Contains(t, doc, `xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/"`)
	assert.Contains(t, doc, `xmlns:dc="http://purl.org/dc/elements/1.1/"`)
	assert.Contains(t, doc, `xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/"`)
}

func TestMarshalObjects_ClassDefaults(t *testing.T) {
	out, err := MarshalObjects([]Object{
		{ID: "c", IsContainer: true},
		{ID: "i"},
	})
	require.NoError(t, err)
	doc := string(out)
	assert.Contains(t, doc, "object.container")
	assert.Contains(t, doc, "object.item.audioItem.musicTrack")
}

// R1: encode → parse yields the original tree modulo element ordering
// (items precede containers on the wire; parsing returns containers
// first).
func TestRoundTrip(t *testing.T) {
	orig := []Object{
		{
			ID:          "localfiles:album:1",
			ParentID:    "localfiles:root",
			Title:       "Kind of Blue",
			Class:       "object.container.album.musicAlbum",
			Restricted:  true,
			ChildCount:  intPtr(5),
			IsContainer: true,
		},
		{
			ID:       "radiofrance:fip:stream",
			ParentID: "radiofrance:fip",
			Title:    "So What",
			Class:    "object.item.audioItem.audioBroadcast",
			Artist:   "Miles Davis",
			Album:    "Kind of Blue",
			Resources: []Res{{
				ProtocolInfo: "http-get:*:audio/flac:*",
				URI:          "http://stream.example/fip/flac",
			}},
		},
	}

	encoded, err := MarshalObjects(orig)
	require.NoError(t, err)
	decoded, err := UnmarshalObjects(encoded)
	require.NoError(t, err)

	if diff := cmp.Diff(orig, decoded); diff != "" {
		t.Errorf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTrip_ItemOnly(t *testing.T) {
	orig := []Object{{
		ID:       "qobuz:track:42",
		ParentID: "qobuz:album:7",
		Title:    "Freddie Freeloader",
		Class:    "object.item.audioItem.musicTrack",
		Resources: []Res{{
			ProtocolInfo: "http-get:*:audio/flac:*",
			Duration:     "0:09:46",
			Size:         58_000_000,
			URI:          "http://localhost:8096/stream/42?tok=abc",
		}},
	}}

	encoded, err := MarshalObjects(orig)
	require.NoError(t, err)
	decoded, err := UnmarshalObjects(encoded)
	require.NoError(t, err)

	if diff := cmp.Diff(orig, decoded); diff != "" {
		t.Errorf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestUnmarshalObjects_BooleanAttrForms(t *testing.T) {
	doc := `<DIDL-Lite xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/"
		xmlns:dc="http://purl.org/dc/elements/1.1/"
		xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/">
		<container id="c1" parentID="0" restricted="true" searchable="1">
			<dc:title>Playlists</dc:title>
			<upnp:class>object.container.playlistContainer</upnp:class>
		</container>
	</DIDL-Lite>`

	objs, err := UnmarshalObjects([]byte(strings.TrimSpace(doc)))
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.True(t, objs[0].Restricted)
	assert.True(t, objs[0].Searchable)
	assert.True(t, objs[0].IsContainer)
}
