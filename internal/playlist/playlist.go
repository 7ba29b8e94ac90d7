// SPDX-License-Identifier: MIT

// Package playlist implements the persisted-playlist store: the
// renderer play queue a server container can be bound to, and the
// per-source lazy-cached catalogs that survive restarts.
package playlist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pmomusic/pmomusicd/internal/persistence/sqlite"
)

var ErrNotFound = errors.New("playlist: not found")

// Playlist is one persisted playlist row.
type Playlist struct {
	ID             string
	Role           string // e.g. "qobuz_album", "radio_history", "user"
	Title          string
	CoverPK        string
	MaxSize        *int
	DefaultTTLSecs *int64
	LastChange     time.Time
}

// Track is one row of a playlist's track table.
type Track struct {
	PlaylistID string
	Position   int
	CachePK    string
	AddedAt    time.Time
	TTLSecs    *int64
}

// Store owns the playlist SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the playlist database at path.
func Open(path string) (*Store, error) {
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("playlist: open db: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS playlist (
	id                TEXT PRIMARY KEY,
	role              TEXT NOT NULL,
	title             TEXT NOT NULL,
	cover_pk          TEXT,
	max_size          INTEGER,
	default_ttl_secs  INTEGER,
	last_change       INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS playlist_track (
	playlist_id TEXT NOT NULL,
	position    INTEGER NOT NULL,
	cache_pk    TEXT NOT NULL,
	added_at    INTEGER NOT NULL,
	ttl_secs    INTEGER,
	PRIMARY KEY (playlist_id, position)
);
`)
	return err
}

func (s *Store) Close() error { return s.db.Close() }

// Create inserts a new playlist, replacing any existing row with the
// same id.
func (s *Store) Create(ctx context.Context, p Playlist) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO playlist (id, role, title, cover_pk, max_size, default_ttl_secs, last_change)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET role=excluded.role, title=excluded.title, cover_pk=excluded.cover_pk,
	max_size=excluded.max_size, default_ttl_secs=excluded.default_ttl_secs, last_change=excluded.last_change`,
		p.ID, p.Role, p.Title, p.CoverPK, p.MaxSize, p.DefaultTTLSecs, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("playlist: create: %w", err)
	}
	return nil
}

// BatchInsertTracks appends cachePKs to the end of playlistID in order,
// each stamped with defaultTTL (the caller's playlist-wide default, or
// nil for no expiry), used by catalog sources to fetch a track list
// once and bulk-insert lazy PKs.
func (s *Store) BatchInsertTracks(ctx context.Context, playlistID string, cachePKs []string, defaultTTL *int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("playlist: begin tx: %w", err)
	}
	defer tx.Rollback()

	var nextPos int
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position)+1, 0) FROM playlist_track WHERE playlist_id = ?`, playlistID).Scan(&nextPos)
	if err != nil {
		return fmt.Errorf("playlist: next position: %w", err)
	}

	now := time.Now().Unix()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO playlist_track (playlist_id, position, cache_pk, added_at, ttl_secs) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("playlist: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, pk := range cachePKs {
		if _, err := stmt.ExecContext(ctx, playlistID, nextPos+i, pk, now, defaultTTL); err != nil {
			return fmt.Errorf("playlist: insert track: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE playlist SET last_change = ? WHERE id = ?`, now, playlistID); err != nil {
		return fmt.Errorf("playlist: touch last_change: %w", err)
	}

	return tx.Commit()
}

// Tracks returns playlistID's tracks in position order.
func (s *Store) Tracks(ctx context.Context, playlistID string) ([]Track, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT playlist_id, position, cache_pk, added_at, ttl_secs
FROM playlist_track WHERE playlist_id = ? ORDER BY position ASC`, playlistID)
	if err != nil {
		return nil, fmt.Errorf("playlist: list tracks: %w", err)
	}
	defer rows.Close()

	var out []Track
	for rows.Next() {
		var t Track
		var addedAt int64
		var ttl sql.NullInt64
		if err := rows.Scan(&t.PlaylistID, &t.Position, &t.CachePK, &addedAt, &ttl); err != nil {
			return nil, err
		}
		t.AddedAt = time.Unix(addedAt, 0)
		if ttl.Valid {
			t.TTLSecs = &ttl.Int64
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Get returns a playlist's metadata row.
func (s *Store) Get(ctx context.Context, id string) (Playlist, error) {
	var p Playlist
	var coverPK sql.NullString
	var maxSize, ttl sql.NullInt64
	var lastChange int64
	err := s.db.QueryRowContext(ctx, `
SELECT id, role, title, cover_pk, max_size, default_ttl_secs, last_change
FROM playlist WHERE id = ?`, id).Scan(&p.ID, &p.Role, &p.Title, &coverPK, &maxSize, &ttl, &lastChange)
	if errors.Is(err, sql.ErrNoRows) {
		return Playlist{}, ErrNotFound
	}
	if err != nil {
		return Playlist{}, fmt.Errorf("playlist: get: %w", err)
	}
	p.CoverPK = coverPK.String
	if maxSize.Valid {
		n := int(maxSize.Int64)
		p.MaxSize = &n
	}
	if ttl.Valid {
		p.DefaultTTLSecs = &ttl.Int64
	}
	p.LastChange = time.Unix(lastChange, 0)
	return p, nil
}
