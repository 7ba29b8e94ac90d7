// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"fmt"
)

// AddLazy registers pk (conventionally "SOURCE:id") with a provider
// that materializes its content on first read, without downloading
// anything now. metadata, if non-nil, is written to the side-table
// immediately so browse/resolve can surface it before the blob exists.
func (c *Cache) AddLazy(pk, collection string, provider LazyProvider, metadata map[string]string) error {
	c.mu.Lock()
	c.provider[pk] = provider
	c.mu.Unlock()

	_, err := c.db.Exec(`
INSERT INTO asset (pk, collection, source_id, hits, last_used, lazy_pk, pinned, ttl_expires_at)
VALUES (?, ?, '', 0, ?, ?, 0, NULL)
ON CONFLICT(pk) DO UPDATE SET lazy_pk = excluded.lazy_pk`,
		pk, collection, nowUnix(), pk)
	if err != nil {
		return fmt.Errorf("cache: register lazy entry: %w", err)
	}

	for k, v := range metadata {
		if err := c.SetMetadata(pk, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) lazyProviderFor(pk string) (LazyProvider, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.provider[pk]
	return p, ok
}

// materialize downloads a lazy entry's content via its provider,
// promoting it from lazy to materialized.
func (c *Cache) materialize(ctx context.Context, pk string, provider LazyProvider) error {
	unlock, err := c.lock.Lock(ctx, "materialize:"+pk)
	if err != nil {
		return fmt.Errorf("cache: acquire materialize lock: %w", err)
	}
	defer unlock()

	if exists, err := c.assetExists(pk); err != nil {
		return err
	} else if exists {
		return nil // another caller materialized it while we waited for the lock
	}

	v, err, _ := c.sf.Do("materialize:"+pk, func() (any, error) {
		r, _, ferr := provider(ctx, pk)
		if ferr != nil {
			return nil, fmt.Errorf("cache: lazy provider for %s: %w", pk, ferr)
		}
		defer r.Close()

		path, perr := c.blobPath(pk)
		if perr != nil {
			return nil, perr
		}
		if werr := writeAtomic(path, r); werr != nil {
			return nil, werr
		}
		_, uerr := c.db.Exec(`UPDATE asset SET lazy_pk = NULL, last_used = ? WHERE pk = ?`, nowUnix(), pk)
		if uerr != nil {
			return nil, fmt.Errorf("cache: promote lazy entry: %w", uerr)
		}
		c.sweep()
		return nil, nil
	})
	if err != nil {
		return err
	}
	_ = v
	return nil
}
