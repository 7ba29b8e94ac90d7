// SPDX-License-Identifier: MIT

// Package qobuz implements the reference lazy-catalog MusicSource:
// eager cover caching, lazy audio caching bound to per-track providers,
// and batch playlist insertion for whole albums. The actual Qobuz
// HTTP payload schema lives behind the API interface; this package
// consumes the capability contract only.
package qobuz

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pmomusic/pmomusicd/internal/cache"
	"github.com/pmomusic/pmomusicd/internal/didl"
	"github.com/pmomusic/pmomusicd/internal/playlist"
	"github.com/pmomusic/pmomusicd/internal/resilience"
	"github.com/pmomusic/pmomusicd/internal/source"
)

// Album is the minimal album shape API.FetchAlbum must return.
type Album struct {
	ID     string
	Title  string
	Artist string
	CoverURL string
}

// Track is the minimal track shape API.FetchAlbumTracks must return.
type Track struct {
	ID         string
	Title      string
	Artist     string
	Album      string
	TrackNo    int
	DurationMs int64
}

// API is the capability contract Qobuz's real HTTP client satisfies.
// Session-token refresh, pagination, and search are the implementation's
// concern, not this package's.
type API interface {
	FetchRootAlbums(ctx context.Context) ([]Album, error)
	FetchAlbum(ctx context.Context, albumID string) (Album, error)
	FetchAlbumTracks(ctx context.Context, albumID string) ([]Track, error)
	StreamURL(ctx context.Context, trackID string) (string, error)
}

const playlistTTL = 7 * 24 * time.Hour

// Source is the Qobuz catalog MusicSource.
type Source struct {
	api         API
	audio       *cache.Cache
	covers      *cache.Cache
	playlists   *playlist.Store
	subscribers source.Subscribers
	counter     source.UpdateIDCounter
	breaker     *resilience.CircuitBreaker
}

// New constructs a Qobuz source over an already-authenticated API
// client, the shared audio/cover caches, and the persistent playlist
// store batch-inserted albums land in.
func New(api API, audio, covers *cache.Cache, playlists *playlist.Store) *Source {
	return &Source{
		api:       api,
		audio:     audio,
		covers:    covers,
		playlists: playlists,
		breaker:   resilience.NewCircuitBreaker("qobuz", 5, 3, time.Minute, 30*time.Second),
	}
}

func (s *Source) Name() string         { return "Qobuz" }
func (s *Source) ID() string           { return "qobuz" }
func (s *Source) DefaultImage() []byte { return nil }
func (s *Source) SupportsFIFO() bool   { return false }
func (s *Source) UpdateID() uint64     { return s.counter.Value() }
func (s *Source) LastChange() time.Time { return s.counter.ChangedAt() }

func (s *Source) SubscribeToUpdates(cb source.UpdateCallback) func() {
	return s.subscribers.Subscribe(cb)
}

func (s *Source) RootContainer(ctx context.Context) (didl.Object, error) {
	return didl.Object{
		ID:          "qobuz:root",
		ParentID:    "0",
		Title:       "Qobuz",
		Class:       "object.container",
		IsContainer: true,
		Restricted:  true,
	}, nil
}

func (s *Source) Browse(ctx context.Context, objectID string) (source.BrowseResult, error) {
	if objectID == "qobuz:root" {
		var albums []Album
		err := source.FetchWithRetry(ctx, s.breaker, "qobuz", func(ctx context.Context) error {
			var ferr error
			albums, ferr = s.api.FetchRootAlbums(ctx)
			return ferr
		})
		if err != nil {
			return source.BrowseResult{}, fmt.Errorf("qobuz: fetch root albums: %w", err)
		}
		containers := make([]didl.Object, 0, len(albums))
		for _, a := range albums {
			containers = append(containers, albumContainer(a))
		}
		return source.BrowseResult{Kind: source.KindContainers, Containers: containers}, nil
	}

	if albumID, ok := trimPrefix(objectID, "qobuz:album:"); ok {
		var tracks []Track
		err := source.FetchWithRetry(ctx, s.breaker, "qobuz", func(ctx context.Context) error {
			var ferr error
			tracks, ferr = s.api.FetchAlbumTracks(ctx, albumID)
			return ferr
		})
		if err != nil {
			return source.BrowseResult{}, fmt.Errorf("qobuz: fetch album tracks: %w", err)
		}
		items := make([]didl.Object, 0, len(tracks))
		for _, t := range tracks {
			items = append(items, trackItem(albumID, t))
		}
		return source.BrowseResult{Kind: source.KindItems, Items: items}, nil
	}

	if trackID, ok := trimPrefix(objectID, "qobuz:track:"); ok {
		// Leaf item's own id: metadata round-trip.
		return source.BrowseResult{
			Kind: source.KindSingleItem,
			Item: &didl.Object{ID: "qobuz:track:" + trackID, IsContainer: false, Class: "object.item.audioItem.musicTrack"},
		}, nil
	}

	return source.BrowseResult{}, fmt.Errorf("qobuz: unknown object id %q", objectID)
}

func (s *Source) ResolveURI(ctx context.Context, objectID string) (string, error) {
	trackID, ok := trimPrefix(objectID, "qobuz:track:")
	if !ok {
		return "", fmt.Errorf("qobuz: not a track id: %s", objectID)
	}
	pk := "qobuz:" + trackID
	if entry, err := s.audio.Stat(pk); err == nil {
		if url, ok, _ := s.audio.Metadata(entry.PK, "stream_url"); ok {
			return url, nil
		}
	}

	var url string
	err := source.FetchWithRetry(ctx, s.breaker, "qobuz", func(ctx context.Context) error {
		var ferr error
		url, ferr = s.api.StreamURL(ctx, trackID)
		return ferr
	})
	if err != nil {
		return "", fmt.Errorf("qobuz: resolve stream url: %w", err)
	}
	return url, nil
}

// AddTrackLazy caches the cover eagerly, registers the audio PK as lazy
// with a provider bound to trackID, and stores the streaming URL under
// the lazy entry's metadata.
func (s *Source) AddTrackLazy(ctx context.Context, t Track, coverURL string) error {
	pk := "qobuz:" + t.ID
	meta := map[string]string{
		"title":  t.Title,
		"artist": t.Artist,
		"album":  t.Album,
	}

	if coverURL != "" {
		coverPK, err := s.covers.AddFromURL(ctx, coverURL, "covers")
		if err != nil {
			return fmt.Errorf("qobuz: cache cover: %w", err)
		}
		meta["cover_pk"] = coverPK
	}

	var url string
	if err := source.FetchWithRetry(ctx, s.breaker, "qobuz", func(ctx context.Context) error {
		var ferr error
		url, ferr = s.api.StreamURL(ctx, t.ID)
		return ferr
	}); err != nil {
		return fmt.Errorf("qobuz: resolve stream url: %w", err)
	}
	meta["stream_url"] = url

	provider := func(ctx context.Context, pk string) (io.ReadCloser, int64, error) {
		return s.fetchAudio(ctx, t.ID)
	}
	return s.audio.AddLazy(pk, "audio", provider, meta)
}

// AddAlbumToPlaylist fetches albumID's track list once and
// batch-inserts lazy PKs into a persistent playlist with a 7-day
// default TTL.
func (s *Source) AddAlbumToPlaylist(ctx context.Context, albumID, playlistID string) error {
	album, err := s.lookupAlbum(ctx, albumID)
	if err != nil {
		return err
	}

	var tracks []Track
	if err := source.FetchWithRetry(ctx, s.breaker, "qobuz", func(ctx context.Context) error {
		var ferr error
		tracks, ferr = s.api.FetchAlbumTracks(ctx, albumID)
		return ferr
	}); err != nil {
		return fmt.Errorf("qobuz: fetch album tracks: %w", err)
	}

	ttl := int64(playlistTTL.Seconds())
	if err := s.playlists.Create(ctx, playlist.Playlist{
		ID:             playlistID,
		Role:           "qobuz_album",
		Title:          album.Title,
		DefaultTTLSecs: &ttl,
	}); err != nil {
		return err
	}

	pks := make([]string, 0, len(tracks))
	for _, t := range tracks {
		if err := s.AddTrackLazy(ctx, t, album.CoverURL); err != nil {
			return fmt.Errorf("qobuz: add track %s lazy: %w", t.ID, err)
		}
		pks = append(pks, "qobuz:"+t.ID)
	}

	return s.playlists.BatchInsertTracks(ctx, playlistID, pks, &ttl)
}

func (s *Source) lookupAlbum(ctx context.Context, albumID string) (Album, error) {
	var album Album
	err := source.FetchWithRetry(ctx, s.breaker, "qobuz", func(ctx context.Context) error {
		var ferr error
		album, ferr = s.api.FetchAlbum(ctx, albumID)
		return ferr
	})
	return album, err
}

func (s *Source) fetchAudio(ctx context.Context, trackID string) (io.ReadCloser, int64, error) {
	var url string
	if err := source.FetchWithRetry(ctx, s.breaker, "qobuz", func(ctx context.Context) error {
		var ferr error
		url, ferr = s.api.StreamURL(ctx, trackID)
		return ferr
	}); err != nil {
		return nil, -1, err
	}
	return source.FetchHTTPBody(ctx, url)
}

func albumContainer(a Album) didl.Object {
	return didl.Object{
		ID:          "qobuz:album:" + a.ID,
		ParentID:    "qobuz:root",
		Title:       a.Title,
		Artist:      a.Artist,
		AlbumArtURI: a.CoverURL,
		Class:       "object.container.album.musicAlbum",
		IsContainer: true,
	}
}

func trackItem(albumID string, t Track) didl.Object {
	return didl.Object{
		ID:       "qobuz:track:" + t.ID,
		ParentID: "qobuz:album:" + albumID,
		Title:    t.Title,
		Artist:   t.Artist,
		Album:    t.Album,
		Class:    "object.item.audioItem.musicTrack",
	}
}

func trimPrefix(s, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(s, prefix)
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}
