// SPDX-License-Identifier: MIT

// Package openhome implements the renderer.Backend contract for the
// OpenHome playlist protocol family (Linn et al.): stable per-track
// ids and Insert/DeleteId/DeleteAll playlist semantics, distinct from
// AVTransport's single-current-URI model. The SOAP invocation is
// isolated behind the Transport interface; Client implements it over
// goupnp's generic SOAPClient (the av-openhome-org URNs have no
// generated dcps bindings).
package openhome

import (
	"context"
	"fmt"
	"sync"

	"github.com/pmomusic/pmomusicd/internal/renderer"
)

// Transport is the SOAP boundary to an OpenHome device's
// Playlist/Volume/Time services. Client implements it over goupnp's
// generic SOAPClient; any other implementation can stand in for it.
type Transport interface {
	PlaylistRead(ctx context.Context) (ids []uint32, currentID uint32, err error)
	PlaylistReadItem(ctx context.Context, id uint32) (uri, didl string, err error)
	PlaylistInsert(ctx context.Context, afterID uint32, uri, didl string) (newID uint32, err error)
	PlaylistDeleteID(ctx context.Context, id uint32) error
	PlaylistDeleteAll(ctx context.Context) error
	PlaylistSeekID(ctx context.Context, id uint32) error

	TransportState(ctx context.Context) (string, error) // "Playing"/"Paused"/"Stopped"/"Buffering"
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Seek(ctx context.Context, ms int64) error

	Time(ctx context.Context) (elapsedMs, durationMs int64, err error)

	Volume(ctx context.Context) (int, error) // 0..100
	SetVolume(ctx context.Context, v int) error
	Mute(ctx context.Context) (bool, error)
	SetMute(ctx context.Context, m bool) error
}

// Backend adapts a Transport to renderer.Backend, owning the id→item
// mapping needed to answer QueueSnapshot without a second round-trip
// per track (OpenHome's PlaylistRead returns ids only; metadata comes
// from PlaylistReadItem, cached here).
type Backend struct {
	t Transport

	mu    sync.Mutex
	items map[uint32]renderer.PlaybackItem
}

// New wraps a Transport.
func New(t Transport) *Backend {
	return &Backend{t: t, items: make(map[uint32]renderer.PlaybackItem)}
}

func (b *Backend) Kind() string { return "openhome" }

func (b *Backend) Capabilities() renderer.Capabilities {
	return renderer.Capabilities{PushNotify: false}
}

func (b *Backend) CurrentState(ctx context.Context) (renderer.TransportState, error) {
	s, err := b.t.TransportState(ctx)
	if err != nil {
		return renderer.StateNoMedia, fmt.Errorf("openhome: transport state: %w", err)
	}
	switch s {
	case "Playing":
		return renderer.StatePlaying, nil
	case "Paused":
		return renderer.StatePaused, nil
	case "Buffering":
		return renderer.StateTransitioning, nil
	case "Stopped":
		return renderer.StateStopped, nil
	default:
		return renderer.StateNoMedia, nil
	}
}

func (b *Backend) CurrentPosition(ctx context.Context) (renderer.Position, error) {
	ids, currentID, err := b.t.PlaylistRead(ctx)
	if err != nil {
		return renderer.Position{}, fmt.Errorf("openhome: playlist read: %w", err)
	}
	elapsed, duration, err := b.t.Time(ctx)
	if err != nil {
		return renderer.Position{}, fmt.Errorf("openhome: time: %w", err)
	}
	pos := renderer.Position{}
	for i, id := range ids {
		if id == currentID {
			idx := i
			pos.TrackIndex = &idx
			break
		}
	}
	pos.ElapsedMs = &elapsed
	pos.DurationMs = &duration
	return pos, nil
}

func (b *Backend) Volume(ctx context.Context) (float64, error) {
	v, err := b.t.Volume(ctx)
	if err != nil {
		return 0, err
	}
	return float64(v) / 100.0, nil
}

func (b *Backend) Mute(ctx context.Context) (bool, error) { return b.t.Mute(ctx) }

func (b *Backend) SetVolume(ctx context.Context, v float64) error {
	return b.t.SetVolume(ctx, int(v*100))
}

func (b *Backend) SetMute(ctx context.Context, m bool) error { return b.t.SetMute(ctx, m) }

func (b *Backend) Play(ctx context.Context) error     { return b.t.Play(ctx) }
func (b *Backend) Pause(ctx context.Context) error    { return b.t.Pause(ctx) }
func (b *Backend) Stop(ctx context.Context) error     { return b.t.Stop(ctx) }
func (b *Backend) Seek(ctx context.Context, ms int64) error { return b.t.Seek(ctx, ms) }

func (b *Backend) Next(ctx context.Context) error {
	ids, currentID, err := b.t.PlaylistRead(ctx)
	if err != nil {
		return err
	}
	for i, id := range ids {
		if id == currentID && i+1 < len(ids) {
			return b.t.PlaylistSeekID(ctx, ids[i+1])
		}
	}
	return renderer.ErrNotSupported
}

func (b *Backend) Previous(ctx context.Context) error {
	ids, currentID, err := b.t.PlaylistRead(ctx)
	if err != nil {
		return err
	}
	for i, id := range ids {
		if id == currentID && i > 0 {
			return b.t.PlaylistSeekID(ctx, ids[i-1])
		}
	}
	return renderer.ErrNotSupported
}

func (b *Backend) QueueSnapshot(ctx context.Context) (renderer.QueueSnapshot, error) {
	ids, currentID, err := b.t.PlaylistRead(ctx)
	if err != nil {
		return renderer.QueueSnapshot{}, fmt.Errorf("openhome: playlist read: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	items := make([]renderer.PlaybackItem, 0, len(ids))
	live := make(map[uint32]bool, len(ids))
	var currentIndex *int
	for i, id := range ids {
		live[id] = true
		item, ok := b.items[id]
		if !ok {
			uri, didl, err := b.t.PlaylistReadItem(ctx, id)
			if err != nil {
				continue
			}
			item = renderer.PlaybackItem{BackendID: id, URI: uri, DIDLID: didl}
			b.items[id] = item
		}
		items = append(items, item)
		if id == currentID {
			idx := i
			currentIndex = &idx
		}
	}
	for id := range b.items {
		if !live[id] {
			delete(b.items, id)
		}
	}
	return renderer.QueueSnapshot{Items: items, CurrentIndex: currentIndex}, nil
}

func (b *Backend) Enqueue(ctx context.Context, items []renderer.PlaybackItem, afterIndex *int) error {
	afterID := uint32(0)
	if afterIndex != nil {
		ids, _, err := b.t.PlaylistRead(ctx)
		if err == nil && *afterIndex >= 0 && *afterIndex < len(ids) {
			afterID = ids[*afterIndex]
		}
	}
	for _, it := range items {
		id, err := b.t.PlaylistInsert(ctx, afterID, it.URI, it.DIDLID)
		if err != nil {
			return fmt.Errorf("openhome: playlist insert: %w", err)
		}
		b.mu.Lock()
		it.BackendID = id
		b.items[id] = it
		b.mu.Unlock()
		afterID = id
	}
	return nil
}

func (b *Backend) ReplaceQueue(ctx context.Context, items []renderer.PlaybackItem, startIndex int) error {
	if err := b.DeleteAll(ctx); err != nil {
		return err
	}
	if err := b.Enqueue(ctx, items, nil); err != nil {
		return err
	}
	if startIndex > 0 {
		ids, _, err := b.t.PlaylistRead(ctx)
		if err == nil && startIndex < len(ids) {
			return b.t.PlaylistSeekID(ctx, ids[startIndex])
		}
	}
	return nil
}

func (b *Backend) DeleteAll(ctx context.Context) error {
	if err := b.t.PlaylistDeleteAll(ctx); err != nil {
		return fmt.Errorf("openhome: playlist delete all: %w", err)
	}
	b.mu.Lock()
	b.items = make(map[uint32]renderer.PlaybackItem)
	b.mu.Unlock()
	return nil
}

func (b *Backend) DeleteID(ctx context.Context, backendID uint32) error {
	if err := b.t.PlaylistDeleteID(ctx, backendID); err != nil {
		return fmt.Errorf("openhome: playlist delete id: %w", err)
	}
	b.mu.Lock()
	delete(b.items, backendID)
	b.mu.Unlock()
	return nil
}
