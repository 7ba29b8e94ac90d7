// SPDX-License-Identifier: MIT

// Package radiofrance implements a live-metadata FIFO MusicSource for
// the Radio France network (FIP, France Inter, France Musique, ...):
// the same playlist-of-one pattern as radioparadise, but with a
// per-station TTL taken from the upstream's own advertised
// delay_to_refresh when present, falling back to 30s. The Radio
// France HTTP payload schema lives behind the API interface; this
// package consumes the capability contract only.
package radiofrance

import (
	"context"
	"fmt"
	"time"

	"github.com/pmomusic/pmomusicd/internal/didl"
	"github.com/pmomusic/pmomusicd/internal/source"
	"github.com/pmomusic/pmomusicd/internal/source/livemeta"
)

// Station describes one Radio France channel.
type Station struct {
	Slug      string
	Title     string
	StreamURL string
}

// NowPlaying is what API.NowPlaying returns: metadata plus the
// server-advertised delay before the next refresh should occur. A
// zero DelayToRefresh means the caller should fall back to the
// package default.
type NowPlaying struct {
	Metadata         source.TrackMetadata
	DelayToRefresh time.Duration
}

// API is the capability contract the real Radio France client
// satisfies.
type API interface {
	NowPlaying(ctx context.Context, slug string) (NowPlaying, error)
}

// Source is the Radio France live-metadata FIFO source.
type Source struct {
	stations []Station
	counter  source.UpdateIDCounter
	meta     *livemeta.Cache
	subs     source.Subscribers
}

// New constructs a Radio France source over api and the fixed list of
// stations this deployment advertises.
func New(api API, stations []Station) *Source {
	s := &Source{stations: stations}
	s.meta = livemeta.New(
		func(ctx context.Context, slug string) (source.TrackMetadata, time.Duration, error) {
			np, err := api.NowPlaying(ctx, slug)
			if err != nil {
				return source.TrackMetadata{}, 0, err
			}
			return np.Metadata, np.DelayToRefresh, nil
		},
		s.subs.Notify,
		&s.counter,
	)
	return s
}

// RefreshLoop starts the 1 Hz metadata tick for every configured
// station until ctx is cancelled.
func (s *Source) RefreshLoop(ctx context.Context) {
	slugs := make([]string, 0, len(s.stations))
	for _, st := range s.stations {
		slugs = append(slugs, st.Slug)
	}
	s.meta.RefreshLoop(ctx, slugs)
}

func (s *Source) Name() string          { return "Radio France" }
func (s *Source) ID() string            { return "radiofrance" }
func (s *Source) DefaultImage() []byte  { return nil }
func (s *Source) SupportsFIFO() bool    { return true }
func (s *Source) UpdateID() uint64      { return s.counter.Value() }
func (s *Source) LastChange() time.Time { return s.counter.ChangedAt() }

func (s *Source) SubscribeToUpdates(cb source.UpdateCallback) func() {
	return s.subs.Subscribe(cb)
}

func (s *Source) RootContainer(ctx context.Context) (didl.Object, error) {
	return didl.Object{ID: "radiofrance:root", ParentID: "0", Title: "Radio France", Class: "object.container", IsContainer: true}, nil
}

func (s *Source) station(slug string) (Station, bool) {
	for _, st := range s.stations {
		if st.Slug == slug {
			return st, true
		}
	}
	return Station{}, false
}

func (s *Source) Browse(ctx context.Context, objectID string) (source.BrowseResult, error) {
	if objectID == "radiofrance:root" {
		containers := make([]didl.Object, 0, len(s.stations))
		for _, st := range s.stations {
			containers = append(containers, didl.Object{
				ID:          "radiofrance:" + st.Slug,
				ParentID:    "radiofrance:root",
				Title:       st.Title,
				Class:       "object.container.playlistContainer",
				IsContainer: true,
			})
		}
		return source.BrowseResult{Kind: source.KindContainers, Containers: containers}, nil
	}

	item, err := s.streamItem(ctx, objectID)
	if err != nil {
		return source.BrowseResult{}, err
	}
	if item.ID == objectID {
		// Leaf item's own id: metadata round-trip.
		return source.BrowseResult{Kind: source.KindSingleItem, Item: &item}, nil
	}
	return source.BrowseResult{Kind: source.KindItems, Items: []didl.Object{item}}, nil
}

func (s *Source) streamItem(ctx context.Context, objectID string) (didl.Object, error) {
	slug, ok := parseStationID(objectID)
	if !ok {
		return didl.Object{}, fmt.Errorf("radiofrance: unknown object id %q", objectID)
	}
	st, ok := s.station(slug)
	if !ok {
		return didl.Object{}, fmt.Errorf("radiofrance: unknown station %q", slug)
	}
	meta, err := s.meta.Get(ctx, slug)
	if err != nil {
		return didl.Object{}, fmt.Errorf("radiofrance: fetch now playing: %w", err)
	}
	return didl.Object{
		ID:       "radiofrance:" + slug + ":stream",
		ParentID: "radiofrance:" + slug,
		Title:    meta.Title,
		Artist:   meta.Artist,
		Album:    meta.Album,
		Class:    "object.item.audioItem.audioBroadcast",
		Resources: []didl.Res{{
			ProtocolInfo: "http-get:*:audio/flac:*",
			URI:          st.StreamURL,
		}},
	}, nil
}

func (s *Source) ResolveURI(ctx context.Context, objectID string) (string, error) {
	slug, ok := parseStationID(objectID)
	if !ok {
		return "", fmt.Errorf("radiofrance: unknown object id %q", objectID)
	}
	st, ok := s.station(slug)
	if !ok {
		return "", fmt.Errorf("radiofrance: unknown station %q", slug)
	}
	return st.StreamURL, nil
}

// parseStationID extracts the station slug from either a container id
// ("radiofrance:<slug>") or the single stream item id
// ("radiofrance:<slug>:stream").
func parseStationID(objectID string) (string, bool) {
	const prefix = "radiofrance:"
	if len(objectID) <= len(prefix) || objectID[:len(prefix)] != prefix {
		return "", false
	}
	rest := objectID[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == ':' {
			return rest[:i], true
		}
	}
	return rest, true
}
