// SPDX-License-Identifier: MIT

// Package radioparadise implements a live-metadata FIFO MusicSource:
// every "station" is a playlist container holding exactly one item,
// the live stream, whose metadata refreshes on a TTL. The Radio
// Paradise HTTP payload schema itself is out of scope.
package radioparadise

import (
	"context"
	"fmt"
	"time"

	"github.com/pmomusic/pmomusicd/internal/didl"
	"github.com/pmomusic/pmomusicd/internal/source"
	"github.com/pmomusic/pmomusicd/internal/source/livemeta"
)

// Station describes one Radio Paradise channel.
type Station struct {
	Slug      string
	Title     string
	StreamURL string
}

// API is the capability contract the real Radio Paradise client
// satisfies: fetch the current now-playing metadata for a channel.
type API interface {
	NowPlaying(ctx context.Context, slug string) (source.TrackMetadata, time.Duration, error)
}

// Source is the Radio Paradise live-metadata FIFO source.
type Source struct {
	stations []Station
	counter  source.UpdateIDCounter
	meta     *livemeta.Cache
	subs     source.Subscribers
}

// New constructs a Radio Paradise source over api and the fixed list
// of stations this deployment advertises.
func New(api API, stations []Station) *Source {
	s := &Source{stations: stations}
	s.meta = livemeta.New(
		func(ctx context.Context, slug string) (source.TrackMetadata, time.Duration, error) {
			return api.NowPlaying(ctx, slug)
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

func (s *Source) Name() string          { return "Radio Paradise" }
func (s *Source) ID() string            { return "radioparadise" }
func (s *Source) DefaultImage() []byte  { return nil }
func (s *Source) SupportsFIFO() bool    { return true }
func (s *Source) UpdateID() uint64      { return s.counter.Value() }
func (s *Source) LastChange() time.Time { return s.counter.ChangedAt() }

func (s *Source) SubscribeToUpdates(cb source.UpdateCallback) func() {
	return s.subs.Subscribe(cb)
}

func (s *Source) RootContainer(ctx context.Context) (didl.Object, error) {
	return didl.Object{ID: "radioparadise:root", ParentID: "0", Title: "Radio Paradise", Class: "object.container", IsContainer: true}, nil
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
	if objectID == "radioparadise:root" {
		containers := make([]didl.Object, 0, len(s.stations))
		for _, st := range s.stations {
			containers = append(containers, didl.Object{
				ID:          "radioparadise:" + st.Slug,
				ParentID:    "radioparadise:root",
				Title:       st.Title,
				Class:       "object.container.playlistContainer",
				IsContainer: true,
			})
		}
		return source.BrowseResult{Kind: source.KindContainers, Containers: containers}, nil
	}

	slug, item, err := s.streamItem(ctx, objectID)
	if err != nil {
		return source.BrowseResult{}, err
	}
	if item.ID == objectID {
		// Leaf item's own id: metadata round-trip.
		return source.BrowseResult{Kind: source.KindSingleItem, Item: &item}, nil
	}
	_ = slug
	return source.BrowseResult{Kind: source.KindItems, Items: []didl.Object{item}}, nil
}

func (s *Source) streamItem(ctx context.Context, objectID string) (string, didl.Object, error) {
	slug, ok := parseStationID(objectID)
	if !ok {
		return "", didl.Object{}, fmt.Errorf("radioparadise: unknown object id %q", objectID)
	}
	st, ok := s.station(slug)
	if !ok {
		return "", didl.Object{}, fmt.Errorf("radioparadise: unknown station %q", slug)
	}
	meta, err := s.meta.Get(ctx, slug)
	if err != nil {
		return "", didl.Object{}, fmt.Errorf("radioparadise: fetch now playing: %w", err)
	}
	item := didl.Object{
		ID:       "radioparadise:" + slug + ":stream",
		ParentID: "radioparadise:" + slug,
		Title:    meta.Title,
		Artist:   meta.Artist,
		Album:    meta.Album,
		Class:    "object.item.audioItem.audioBroadcast",
		Resources: []didl.Res{{
			ProtocolInfo: "http-get:*:audio/flac:*",
			URI:          st.StreamURL,
		}},
	}
	return slug, item, nil
}

func (s *Source) ResolveURI(ctx context.Context, objectID string) (string, error) {
	slug, ok := parseStationID(objectID)
	if !ok {
		return "", fmt.Errorf("radioparadise: unknown object id %q", objectID)
	}
	st, ok := s.station(slug)
	if !ok {
		return "", fmt.Errorf("radioparadise: unknown station %q", slug)
	}
	return st.StreamURL, nil
}

// parseStationID extracts the station slug from either a container id
// ("radioparadise:<slug>") or the single stream item id
// ("radioparadise:<slug>:stream").
func parseStationID(objectID string) (string, bool) {
	const prefix = "radioparadise:"
	rest, ok := cut(objectID, prefix)
	if !ok || rest == "" {
		return "", false
	}
	if idx := indexByte(rest, ':'); idx >= 0 {
		return rest[:idx], true
	}
	return rest, true
}

func cut(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || s[:len(prefix)] != prefix {
		return "", false
	}
	return s[len(prefix):], true
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
