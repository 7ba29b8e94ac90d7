// SPDX-License-Identifier: MIT

package cache

import (
	"database/sql"
	"errors"
	"fmt"
)

// SetMetadata writes one key atomically into pk's side-table overlay
// (track metadata, cover_pk cross-references, source-specific fields).
func (c *Cache) SetMetadata(pk, key, value string) error {
	_, err := c.db.Exec(`
INSERT INTO asset_meta (pk, key, value) VALUES (?, ?, ?)
ON CONFLICT(pk, key) DO UPDATE SET value = excluded.value`, pk, key, value)
	if err != nil {
		return fmt.Errorf("cache: set metadata: %w", err)
	}
	return nil
}

// Metadata reads one key from pk's side-table overlay.
func (c *Cache) Metadata(pk, key string) (string, bool, error) {
	var v string
	err := c.db.QueryRow(`SELECT value FROM asset_meta WHERE pk = ? AND key = ?`, pk, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache: get metadata: %w", err)
	}
	return v, true, nil
}

// AllMetadata returns every key/value pair stored for pk.
func (c *Cache) AllMetadata(pk string) (map[string]string, error) {
	rows, err := c.db.Query(`SELECT key, value FROM asset_meta WHERE pk = ?`, pk)
	if err != nil {
		return nil, fmt.Errorf("cache: list metadata: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Entry describes one asset row.
type Entry struct {
	PK            string
	Collection    string
	SourceID      string
	Hits          int64
	LastUsed      int64
	LazyPK        string
	Pinned        bool
	TTLExpiresAt  *int64
}

// Stat returns the asset row for pk without recording a hit.
func (c *Cache) Stat(pk string) (Entry, error) {
	var e Entry
	var lazyPK sql.NullString
	var ttl sql.NullInt64
	err := c.db.QueryRow(`
SELECT pk, collection, source_id, hits, last_used, lazy_pk, pinned, ttl_expires_at
FROM asset WHERE pk = ?`, pk).Scan(&e.PK, &e.Collection, &e.SourceID, &e.Hits, &e.LastUsed, &lazyPK, &e.Pinned, &ttl)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("cache: stat: %w", err)
	}
	e.LazyPK = lazyPK.String
	if ttl.Valid {
		e.TTLExpiresAt = &ttl.Int64
	}
	return e, nil
}
