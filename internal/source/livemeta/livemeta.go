// SPDX-License-Identifier: MIT

// Package livemeta implements the live-metadata pattern shared by radio
// sources: a per-station-slug TTL cache whose refresh loop is a thin
// 1 Hz tick that simply calls Get, letting the TTL and the update
// callback do all the work.
package livemeta

import (
	"context"
	"sync"
	"time"

	"github.com/pmomusic/pmomusicd/internal/log"
	"github.com/pmomusic/pmomusicd/internal/source"
)

const defaultTTL = 30 * time.Second

// Fetcher retrieves current metadata for a station slug from the
// upstream source-specific API.
type Fetcher func(ctx context.Context, slug string) (source.TrackMetadata, time.Duration, error)

type entry struct {
	meta      source.TrackMetadata
	fetchedAt time.Time
	ttl       time.Duration
}

// Cache is a per-slug TTL cache with change notification.
type Cache struct {
	fetch   Fetcher
	notify  func(slug string)
	counter *source.UpdateIDCounter

	mu      sync.Mutex
	entries map[string]entry
}

// New constructs a live-metadata cache. notify is invoked (with the
// slug as object id) whenever a refresh observes a change; counter is
// the source's shared update_id counter.
func New(fetch Fetcher, notify func(slug string), counter *source.UpdateIDCounter) *Cache {
	return &Cache{
		fetch:   fetch,
		notify:  notify,
		counter: counter,
		entries: make(map[string]entry),
	}
}

// Get returns the cached metadata if still fresh, otherwise fetches,
// updates the cache, and fires notify on change.
func (c *Cache) Get(ctx context.Context, slug string) (source.TrackMetadata, error) {
	c.mu.Lock()
	e, ok := c.entries[slug]
	c.mu.Unlock()

	if ok && time.Since(e.fetchedAt) < e.ttl {
		return e.meta, nil
	}

	meta, ttl, err := c.fetch(ctx, slug)
	if err != nil {
		if ok {
			// Serve the stale value rather than fail a poll tick; the
			// refresh loop will retry on the next tick.
			return e.meta, nil
		}
		return source.TrackMetadata{}, err
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	changed := !ok || e.meta != meta
	c.mu.Lock()
	c.entries[slug] = entry{meta: meta, fetchedAt: time.Now(), ttl: ttl}
	c.mu.Unlock()

	if changed {
		if c.counter != nil {
			c.counter.Next()
		}
		if c.notify != nil {
			c.notify(slug)
		}
	}
	return meta, nil
}

// RefreshLoop ticks Get at 1 Hz for every slug in slugs until ctx is
// cancelled, logging (not propagating) fetch errors.
func (c *Cache) RefreshLoop(ctx context.Context, slugs []string) {
	logger := log.WithComponent("livemeta")
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, slug := range slugs {
				if _, err := c.Get(ctx, slug); err != nil {
					logger.Debug().Err(err).Str("slug", slug).Msg("live metadata refresh failed")
				}
			}
		}
	}
}
