// SPDX-License-Identifier: MIT

// Package source defines the MusicSource contract every catalog
// (Qobuz, Radio Paradise, Radio France, local files) implements:
// browsing, URI resolution, cache binding, and live-metadata update
// notification.
package source

import (
	"context"
	"sync"
	"time"

	"github.com/pmomusic/pmomusicd/internal/didl"
)

// BrowseKind tags the shape of a BrowseResult.
type BrowseKind int

const (
	KindContainers BrowseKind = iota
	KindItems
	KindMixed
	KindSingleItem
)

// BrowseResult is what Browse returns for one object_id.
type BrowseResult struct {
	Kind       BrowseKind
	Containers []didl.Object
	Items      []didl.Object
	Item       *didl.Object // set iff Kind == KindSingleItem
}

// TrackMetadata describes one track; optional fields are
// nil/zero-value rather than empty strings when absent.
type TrackMetadata struct {
	Title       string
	Artist      string
	Album       string
	DurationMs  *int64
	TrackNo     *int
	TrackTotal  *int
	DiscNo      *int
	Year        *int
	Genre       string
	SampleRate  *int
	Channels    *int
	Bitrate     *int
	CoverPK     string
}

// UpdateCallback is invoked with the object_id whose metadata changed.
type UpdateCallback func(objectID string)

// MusicSource is the contract every catalog aggregator implements.
type MusicSource interface {
	Name() string
	ID() string
	DefaultImage() []byte

	// RootContainer returns the synthetic root container. It MUST NOT
	// hit the network if the root is already cached.
	RootContainer(ctx context.Context) (didl.Object, error)

	Browse(ctx context.Context, objectID string) (BrowseResult, error)

	// ResolveURI returns a concrete, fetchable HTTP(S) URL. Resolution
	// may be side-effectful (e.g. refreshing a session token).
	ResolveURI(ctx context.Context, objectID string) (string, error)

	// SupportsFIFO reports whether this source's items form a live
	// append/remove queue (radio history) rather than a static catalog.
	SupportsFIFO() bool

	UpdateID() uint64
	LastChange() time.Time

	// SubscribeToUpdates registers cb and returns an unsubscribe func.
	SubscribeToUpdates(cb UpdateCallback) (unsubscribe func())
}

// UpdateIDCounter serializes update_id increments per source, so two
// refresh callbacks firing within the same tick never tear or reorder
// the counter.
type UpdateIDCounter struct {
	mu        sync.Mutex
	value     uint64
	changedAt time.Time
}

// Next increments and returns the new update_id, recording the instant
// of change.
func (u *UpdateIDCounter) Next() uint64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.value++
	u.changedAt = time.Now()
	return u.value
}

// Value returns the current update_id without mutating it.
func (u *UpdateIDCounter) Value() uint64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.value
}

// ChangedAt returns the instant of the last increment.
func (u *UpdateIDCounter) ChangedAt() time.Time {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.changedAt
}

// Subscribers is a small helper embedding the callback registry every
// MusicSource implementation needs for SubscribeToUpdates/notify.
type Subscribers struct {
	mu   sync.Mutex
	next int
	cbs  map[int]UpdateCallback
}

func (s *Subscribers) Subscribe(cb UpdateCallback) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cbs == nil {
		s.cbs = make(map[int]UpdateCallback)
	}
	id := s.next
	s.next++
	s.cbs[id] = cb
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.cbs, id)
	}
}

// Notify invokes every registered callback with objectID.
func (s *Subscribers) Notify(objectID string) {
	s.mu.Lock()
	cbs := make([]UpdateCallback, 0, len(s.cbs))
	for _, cb := range s.cbs {
		cbs = append(cbs, cb)
	}
	s.mu.Unlock()
	for _, cb := range cbs {
		cb(objectID)
	}
}
