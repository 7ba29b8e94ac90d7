// SPDX-License-Identifier: MIT

// Package cache implements the content-addressed blob store: a named
// cache directory holding a SQLite asset table and a blobs/ directory
// keyed by primary key (PK), with LRU eviction, TTL expiry, pinning,
// lazy providers, and a per-PK metadata side-table.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pmomusic/pmomusicd/internal/cache/distlock"
	"github.com/pmomusic/pmomusicd/internal/fsutil"
	"github.com/pmomusic/pmomusicd/internal/log"
	"github.com/pmomusic/pmomusicd/internal/persistence/sqlite"
)

var (
	ErrNotFound = errors.New("cache: not found")
	ErrConflict = errors.New("cache: conflict")
)

// LazyProvider materializes the content behind a lazily-registered PK
// on first read. It returns the payload reader and its length when
// known (-1 otherwise).
type LazyProvider func(ctx context.Context, pk string) (io.ReadCloser, int64, error)

// Config configures a single named cache.
type Config struct {
	Root  string // e.g. "/var/lib/pmomusicd/cache"
	Name  string // e.g. "audio", "covers"
	Limit int    // max unpinned entries before LRU eviction kicks in

	// PrebufferBytes is the threshold at which AddFromReader returns
	// its PK while the remainder of the payload still streams to disk
	// in the background. Zero selects the default (512 KiB).
	PrebufferBytes int64

	// Lock optionally coalesces concurrent add_from_url across
	// multiple PMOMusic instances sharing this cache root. Nil selects
	// the in-process singleflight.Group.
	Lock distlock.Locker
}

const defaultPrebufferBytes = 512 * 1024

// Cache is one named content-addressed blob store.
type Cache struct {
	name     string
	dir      string
	blobsDir string
	limit    int
	prebuf   int64

	db *sql.DB

	sf   singleflight.Group
	lock distlock.Locker

	mu       sync.Mutex
	writing  map[string]*writeState
	provider map[string]LazyProvider
}

type writeState struct {
	doneCh chan struct{}
	err    error
}

// Open creates (if needed) and opens the named cache directory under
// cfg.Root: <root>/<name>/asset.db and <root>/<name>/blobs/.
func Open(cfg Config) (*Cache, error) {
	if cfg.Name == "" {
		return nil, errors.New("cache: name is required")
	}
	dir := filepath.Join(cfg.Root, cfg.Name)
	blobsDir := filepath.Join(dir, "blobs")
	if err := os.MkdirAll(blobsDir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create blobs dir: %w", err)
	}

	db, err := sqlite.Open(filepath.Join(dir, "asset.db"), sqlite.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("cache: open asset db: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	prebuf := cfg.PrebufferBytes
	if prebuf <= 0 {
		prebuf = defaultPrebufferBytes
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = 10000
	}

	lock := cfg.Lock
	if lock == nil {
		lock = distlock.NoopLocker{}
	}

	return &Cache{
		name:     cfg.Name,
		dir:      dir,
		blobsDir: blobsDir,
		limit:    limit,
		prebuf:   prebuf,
		db:       db,
		lock:     lock,
		writing:  make(map[string]*writeState),
		provider: make(map[string]LazyProvider),
	}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS asset (
	pk              TEXT PRIMARY KEY,
	collection      TEXT,
	source_id       TEXT,
	hits            INTEGER NOT NULL DEFAULT 0,
	last_used       INTEGER NOT NULL,
	lazy_pk         TEXT,
	pinned          INTEGER NOT NULL DEFAULT 0 CHECK (pinned IN (0,1)),
	ttl_expires_at  INTEGER
);
CREATE INDEX IF NOT EXISTS idx_asset_lru ON asset(pinned, last_used, hits);
CREATE TABLE IF NOT EXISTS asset_meta (
	pk    TEXT NOT NULL,
	key   TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (pk, key)
);
`)
	return err
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Name returns the cache's name (e.g. "audio").
func (c *Cache) Name() string { return c.name }

func (c *Cache) blobPath(pk string) (string, error) {
	return fsutil.ConfineRelPath(c.blobsDir, pk)
}

// contentKey computes a stable hash PK for a canonicalized identifier
// (a URL, or a caller-chosen content key for AddFromReader).
func contentKey(collection, identifier string) string {
	h := sha256.Sum256([]byte(collection + "\x00" + identifier))
	return hex.EncodeToString(h[:])
}

func nowUnix() int64 { return time.Now().Unix() }

func (c *Cache) touch(pk string) {
	_, err := c.db.Exec(`UPDATE asset SET hits = hits + 1, last_used = ? WHERE pk = ?`, nowUnix(), pk)
	if err != nil {
		l := log.WithComponent("cache")
		l.Warn().Err(err).Str(log.FieldPK, pk).Msg("touch failed")
	}
}
