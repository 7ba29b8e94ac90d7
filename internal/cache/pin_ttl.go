// SPDX-License-Identifier: MIT

package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pmomusic/pmomusicd/internal/log"
)

// Pin marks pk as never-evictable. Fails ErrConflict if the entry
// currently has a TTL (pinned and ttl_expires_at are mutually
// exclusive, P1).
func (c *Cache) Pin(pk string) error {
	var ttl sql.NullInt64
	err := c.db.QueryRow(`SELECT ttl_expires_at FROM asset WHERE pk = ?`, pk).Scan(&ttl)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("cache: query asset: %w", err)
	}
	if ttl.Valid {
		return fmt.Errorf("%w: entry has a TTL", ErrConflict)
	}
	_, err = c.db.Exec(`UPDATE asset SET pinned = 1 WHERE pk = ?`, pk)
	return err
}

// Unpin clears the pinned flag.
func (c *Cache) Unpin(pk string) error {
	res, err := c.db.Exec(`UPDATE asset SET pinned = 0 WHERE pk = ?`, pk)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTTL sets an expiry. Fails ErrConflict if the entry is pinned.
func (c *Cache) SetTTL(pk string, expiresAt time.Time) error {
	var pinned bool
	err := c.db.QueryRow(`SELECT pinned FROM asset WHERE pk = ?`, pk).Scan(&pinned)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("cache: query asset: %w", err)
	}
	if pinned {
		return fmt.Errorf("%w: entry is pinned", ErrConflict)
	}
	_, err = c.db.Exec(`UPDATE asset SET ttl_expires_at = ? WHERE pk = ?`, expiresAt.Unix(), pk)
	return err
}

// ClearTTL removes an entry's expiry without pinning it.
func (c *Cache) ClearTTL(pk string) error {
	_, err := c.db.Exec(`UPDATE asset SET ttl_expires_at = NULL WHERE pk = ?`, pk)
	return err
}

// sweep runs the mandatory eviction order on every mutation: TTL purge
// first, then LRU-by-(last_used,hits) eviction of unpinned entries
// over the configured limit.
func (c *Cache) sweep() {
	logger := log.WithComponent("cache")

	rows, err := c.db.Query(`SELECT pk FROM asset WHERE ttl_expires_at IS NOT NULL AND ttl_expires_at <= ?`, nowUnix())
	if err != nil {
		logger.Warn().Err(err).Msg("ttl sweep query")
		return
	}
	var expired []string
	for rows.Next() {
		var pk string
		if err := rows.Scan(&pk); err == nil {
			expired = append(expired, pk)
		}
	}
	rows.Close()
	for _, pk := range expired {
		c.deleteEntry(pk)
	}

	var count int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM asset WHERE pinned = 0`).Scan(&count); err != nil {
		logger.Warn().Err(err).Msg("lru count query")
		return
	}
	if count <= c.limit {
		return
	}
	over := count - c.limit

	rows, err = c.db.Query(`SELECT pk FROM asset WHERE pinned = 0 ORDER BY last_used ASC, hits ASC LIMIT ?`, over)
	if err != nil {
		logger.Warn().Err(err).Msg("lru sweep query")
		return
	}
	var victims []string
	for rows.Next() {
		var pk string
		if err := rows.Scan(&pk); err == nil {
			victims = append(victims, pk)
		}
	}
	rows.Close()
	for _, pk := range victims {
		c.deleteEntry(pk)
	}
}

func (c *Cache) deleteEntry(pk string) {
	if path, err := c.blobPath(pk); err == nil {
		_ = os.Remove(path)
	}
	if _, err := c.db.Exec(`DELETE FROM asset WHERE pk = ?`, pk); err != nil {
		l := log.WithComponent("cache")
		l.Warn().Err(err).Str(log.FieldPK, pk).Msg("delete asset row")
	}
	if _, err := c.db.Exec(`DELETE FROM asset_meta WHERE pk = ?`, pk); err != nil {
		l := log.WithComponent("cache")
		l.Warn().Err(err).Str(log.FieldPK, pk).Msg("delete asset metadata")
	}
	c.mu.Lock()
	delete(c.provider, pk)
	c.mu.Unlock()
}
