// SPDX-License-Identifier: MIT

// Package localfiles implements the local-files MusicSource: it walks
// a directory tree, reads embedded ID3/FLAC/MP4 tags with
// github.com/dhowden/tag, and exposes the result as a two-level
// album/track browsing tree. It carries no FIFO semantics
// (SupportsFIFO is always false) and advances UpdateID only from Scan,
// since the tree is assumed static between scans.
package localfiles

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dhowden/tag"
	"golang.org/x/text/unicode/norm"

	"github.com/pmomusic/pmomusicd/internal/didl"
	"github.com/pmomusic/pmomusicd/internal/log"
	"github.com/pmomusic/pmomusicd/internal/source"
)

var supportedExt = map[string]bool{
	".mp3":  true,
	".flac": true,
	".m4a":  true,
	".ogg":  true,
	".wav":  true,
}

type track struct {
	id       string // "localfiles:track:<n>"
	path     string
	title    string
	artist   string
	album    string
	trackNo  int
	duration *int64
}

type album struct {
	id     string // "localfiles:album:<n>"
	title  string
	artist string
	tracks []string // track ids, in track-number order
}

// Source is the local-files catalog MusicSource.
type Source struct {
	root string

	counter source.UpdateIDCounter
	subs    source.Subscribers

	mu     sync.RWMutex
	albums map[string]album
	tracks map[string]track
}

// New constructs a local-files source rooted at dir. The tree is not
// scanned until Scan is called, so construction never touches the
// filesystem.
func New(dir string) *Source {
	return &Source{
		root:   dir,
		albums: make(map[string]album),
		tracks: make(map[string]track),
	}
}

// Scan walks the root directory, grouping files by their tag album
// (falling back to the containing directory name when a file carries
// no album tag), and advances UpdateID once if the resulting tree
// differs from what was previously scanned. Intended to run once at
// startup and optionally be re-invoked on an operator-triggered
// rescan; the tree is assumed static in between.
func (s *Source) Scan(ctx context.Context) error {
	logger := log.WithComponent("localfiles")

	type scanned struct {
		albumKey   string
		albumTitle string
		t          track
	}
	var found []scanned

	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !supportedExt[ext] {
			return nil
		}

		f, oerr := os.Open(path)
		if oerr != nil {
			logger.Warn().Err(oerr).Str("path", path).Msg("open file for tag scan")
			return nil
		}
		md, terr := tag.ReadFrom(f)
		f.Close()

		var title, artist, albumTitle string
		var trackNo int
		if terr == nil {
			// Tags come off disk in whatever normalization the ripper
			// used; macOS filenames are NFD. Canonicalize to NFC so
			// album grouping and browse sorting don't split on
			// byte-identical-looking strings.
			title = norm.NFC.String(md.Title())
			artist = norm.NFC.String(md.Artist())
			albumTitle = norm.NFC.String(md.Album())
			trackNo, _ = md.Track()
		}
		if terr != nil || title == "" {
			title = norm.NFC.String(strings.TrimSuffix(filepath.Base(path), ext))
		}
		albumKey := albumTitle
		if albumKey == "" {
			albumKey = filepath.Dir(path)
			albumTitle = filepath.Base(albumKey)
		}

		found = append(found, scanned{
			albumKey:   albumKey,
			albumTitle: albumTitle,
			t: track{
				path:    path,
				title:   title,
				artist:  artist,
				album:   albumTitle,
				trackNo: trackNo,
			},
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("localfiles: scan %s: %w", s.root, err)
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].albumKey != found[j].albumKey {
			return found[i].albumKey < found[j].albumKey
		}
		if found[i].t.trackNo != found[j].t.trackNo {
			return found[i].t.trackNo < found[j].t.trackNo
		}
		return found[i].t.title < found[j].t.title
	})

	albums := make(map[string]album)
	tracks := make(map[string]track)
	albumIDs := make(map[string]string) // albumKey -> album id
	nextAlbum, nextTrack := 0, 0

	for _, sc := range found {
		albumID, ok := albumIDs[sc.albumKey]
		if !ok {
			albumID = fmt.Sprintf("localfiles:album:%d", nextAlbum)
			nextAlbum++
			albumIDs[sc.albumKey] = albumID
			albums[albumID] = album{id: albumID, title: sc.albumTitle, artist: sc.t.artist}
		}

		trackID := fmt.Sprintf("localfiles:track:%d", nextTrack)
		nextTrack++
		sc.t.id = trackID
		tracks[trackID] = sc.t

		a := albums[albumID]
		a.tracks = append(a.tracks, trackID)
		albums[albumID] = a
	}

	s.mu.Lock()
	changed := !reflect.DeepEqual(albums, s.albums) || !reflect.DeepEqual(tracks, s.tracks)
	s.albums = albums
	s.tracks = tracks
	s.mu.Unlock()

	if changed {
		s.counter.Next()
		s.subs.Notify("localfiles:root")
	}
	logger.Info().Int("albums", len(albums)).Int("tracks", len(tracks)).Msg("local files scan complete")
	return nil
}

func (s *Source) Name() string          { return "Local Files" }
func (s *Source) ID() string            { return "localfiles" }
func (s *Source) DefaultImage() []byte  { return nil }
func (s *Source) SupportsFIFO() bool    { return false }
func (s *Source) UpdateID() uint64      { return s.counter.Value() }
func (s *Source) LastChange() time.Time { return s.counter.ChangedAt() }

func (s *Source) SubscribeToUpdates(cb source.UpdateCallback) func() {
	return s.subs.Subscribe(cb)
}

func (s *Source) RootContainer(ctx context.Context) (didl.Object, error) {
	return didl.Object{ID: "localfiles:root", ParentID: "0", Title: "Local Files", Class: "object.container", IsContainer: true}, nil
}

func (s *Source) Browse(ctx context.Context, objectID string) (source.BrowseResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if objectID == "localfiles:root" {
		ids := make([]string, 0, len(s.albums))
		for id := range s.albums {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		containers := make([]didl.Object, 0, len(ids))
		for _, id := range ids {
			a := s.albums[id]
			containers = append(containers, didl.Object{
				ID:          a.id,
				ParentID:    "localfiles:root",
				Title:       a.title,
				Artist:      a.artist,
				Class:       "object.container.album.musicAlbum",
				IsContainer: true,
			})
		}
		return source.BrowseResult{Kind: source.KindContainers, Containers: containers}, nil
	}

	if a, ok := s.albums[objectID]; ok {
		items := make([]didl.Object, 0, len(a.tracks))
		for _, tid := range a.tracks {
			items = append(items, trackObject(a, s.tracks[tid]))
		}
		return source.BrowseResult{Kind: source.KindItems, Items: items}, nil
	}

	if t, ok := s.tracks[objectID]; ok {
		parentAlbum := albumOf(s.albums, objectID)
		obj := trackObject(parentAlbum, t)
		return source.BrowseResult{Kind: source.KindSingleItem, Item: &obj}, nil
	}

	return source.BrowseResult{}, fmt.Errorf("localfiles: unknown object id %q", objectID)
}

func albumOf(albums map[string]album, trackID string) album {
	for _, a := range albums {
		for _, tid := range a.tracks {
			if tid == trackID {
				return a
			}
		}
	}
	return album{}
}

func trackObject(a album, t track) didl.Object {
	return didl.Object{
		ID:       t.id,
		ParentID: a.id,
		Title:    t.title,
		Artist:   t.artist,
		Album:    t.album,
		Class:    "object.item.audioItem.musicTrack",
		Resources: []didl.Res{{
			ProtocolInfo: protocolInfoFor(t.path),
			URI:          "file://" + t.path,
		}},
	}
}

func protocolInfoFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".flac":
		return "http-get:*:audio/flac:*"
	case ".mp3":
		return "http-get:*:audio/mpeg:*"
	case ".m4a":
		return "http-get:*:audio/mp4:*"
	case ".ogg":
		return "http-get:*:application/ogg:*"
	case ".wav":
		return "http-get:*:audio/wav:*"
	default:
		return "http-get:*:application/octet-stream:*"
	}
}

func (s *Source) ResolveURI(ctx context.Context, objectID string) (string, error) {
	s.mu.RLock()
	t, ok := s.tracks[objectID]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("localfiles: not a track id: %s", objectID)
	}
	return "file://" + t.path, nil
}

// Open returns a reader over the track's audio bytes, used by the
// audio pipeline's SourceNode when playing a local file directly
// rather than handing a URI to a remote renderer.
func (s *Source) Open(objectID string) (io.ReadCloser, error) {
	s.mu.RLock()
	t, ok := s.tracks[objectID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("localfiles: not a track id: %s", objectID)
	}
	return os.Open(t.path)
}
