// SPDX-License-Identifier: MIT

// Package linkplay implements the renderer.Backend contract for
// LinkPlay/Arylic-class devices: an HTTP/JSON polling API
// ("getPlayerStatus"-style) rather than a SOAP control point. The
// HTTP call itself is isolated behind the Transport interface
// (mirroring internal/renderer/openhome's transport-boundary
// pattern); HTTPTransport implements it against httpapi.asp.
package linkplay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pmomusic/pmomusicd/internal/renderer"
)

// PlayerStatus is the polled device status this backend builds its
// logical state from.
type PlayerStatus struct {
	State      string // "play", "pause", "stop", "load" (buffering)
	CurIndex   int    // 0-based position in the device's own queue
	ElapsedMs  int64
	DurationMs int64
	VolumePct  int // 0..100
	Muted      bool
}

// QueueItem is one entry of the device's own queue representation.
type QueueItem struct {
	BackendID uint32
	URI       string
	DIDLID    string
}

// Transport is the HTTP/JSON boundary a real LinkPlay/Arylic driver
// implements.
type Transport interface {
	Status(ctx context.Context) (PlayerStatus, error)
	Queue(ctx context.Context) ([]QueueItem, error)

	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	Seek(ctx context.Context, ms int64) error

	SetVolume(ctx context.Context, pct int) error
	SetMute(ctx context.Context, m bool) error

	Enqueue(ctx context.Context, items []QueueItem, afterIndex *int) error
	ReplaceQueue(ctx context.Context, items []QueueItem, startIndex int) error
	DeleteAll(ctx context.Context) error
	DeleteID(ctx context.Context, backendID uint32) error
}

// Backend adapts a Transport to renderer.Backend, applying a
// known-buggy-firmware compensation: some
// Arylic/LinkPlay devices report "stop" during a brief seek. We defer
// the logical Stopped transition by one tick if position is still
// advancing, rather than reporting a spurious stop to watchers.
type Backend struct {
	t Transport

	mu             sync.Mutex
	lastElapsedMs  int64
	lastObservedAt time.Time
	pendingStop    bool
}

// New wraps a Transport.
func New(t Transport) *Backend {
	return &Backend{t: t}
}

func (b *Backend) Kind() string { return "linkplay" }

func (b *Backend) Capabilities() renderer.Capabilities {
	return renderer.Capabilities{PushNotify: false}
}

func (b *Backend) CurrentState(ctx context.Context) (renderer.TransportState, error) {
	st, err := b.t.Status(ctx)
	if err != nil {
		return renderer.StateNoMedia, fmt.Errorf("linkplay: status: %w", err)
	}
	return b.compensatedState(st), nil
}

// compensatedState maps the raw firmware state to the logical one,
// deferring a reported "stop" by one tick when the elapsed position is
// still advancing (the seek-glitch heuristic).
func (b *Backend) compensatedState(st PlayerStatus) renderer.TransportState {
	b.mu.Lock()
	defer b.mu.Unlock()

	advancing := st.ElapsedMs > b.lastElapsedMs
	b.lastElapsedMs = st.ElapsedMs
	b.lastObservedAt = time.Now()

	switch st.State {
	case "play":
		b.pendingStop = false
		return renderer.StatePlaying
	case "pause":
		b.pendingStop = false
		return renderer.StatePaused
	case "load":
		b.pendingStop = false
		return renderer.StateTransitioning
	case "stop":
		if advancing && !b.pendingStop {
			// First tick reporting stop while position still moved:
			// treat as a transient seek glitch, not a real stop.
			b.pendingStop = true
			return renderer.StateTransitioning
		}
		b.pendingStop = false
		return renderer.StateStopped
	default:
		return renderer.StateNoMedia
	}
}

func (b *Backend) CurrentPosition(ctx context.Context) (renderer.Position, error) {
	st, err := b.t.Status(ctx)
	if err != nil {
		return renderer.Position{}, fmt.Errorf("linkplay: status: %w", err)
	}
	idx := st.CurIndex
	elapsed := st.ElapsedMs
	duration := st.DurationMs
	return renderer.Position{TrackIndex: &idx, ElapsedMs: &elapsed, DurationMs: &duration}, nil
}

func (b *Backend) Volume(ctx context.Context) (float64, error) {
	st, err := b.t.Status(ctx)
	if err != nil {
		return 0, err
	}
	return float64(st.VolumePct) / 100.0, nil
}

func (b *Backend) Mute(ctx context.Context) (bool, error) {
	st, err := b.t.Status(ctx)
	if err != nil {
		return false, err
	}
	return st.Muted, nil
}

func (b *Backend) SetVolume(ctx context.Context, v float64) error {
	return b.t.SetVolume(ctx, int(v*100))
}

func (b *Backend) SetMute(ctx context.Context, m bool) error { return b.t.SetMute(ctx, m) }

func (b *Backend) Play(ctx context.Context) error            { return b.t.Play(ctx) }
func (b *Backend) Pause(ctx context.Context) error            { return b.t.Pause(ctx) }
func (b *Backend) Stop(ctx context.Context) error             { return b.t.Stop(ctx) }
func (b *Backend) Next(ctx context.Context) error              { return b.t.Next(ctx) }
func (b *Backend) Previous(ctx context.Context) error          { return b.t.Previous(ctx) }
func (b *Backend) Seek(ctx context.Context, ms int64) error    { return b.t.Seek(ctx, ms) }

func (b *Backend) QueueSnapshot(ctx context.Context) (renderer.QueueSnapshot, error) {
	st, err := b.t.Status(ctx)
	if err != nil {
		return renderer.QueueSnapshot{}, fmt.Errorf("linkplay: status: %w", err)
	}
	qi, err := b.t.Queue(ctx)
	if err != nil {
		return renderer.QueueSnapshot{}, fmt.Errorf("linkplay: queue: %w", err)
	}

	items := make([]renderer.PlaybackItem, 0, len(qi))
	for _, it := range qi {
		items = append(items, renderer.PlaybackItem{BackendID: it.BackendID, URI: it.URI, DIDLID: it.DIDLID})
	}
	var currentIndex *int
	if st.CurIndex >= 0 && st.CurIndex < len(items) {
		idx := st.CurIndex
		currentIndex = &idx
	}
	return renderer.QueueSnapshot{Items: items, CurrentIndex: currentIndex}.Normalize("linkplay"), nil
}

func toQueueItems(items []renderer.PlaybackItem) []QueueItem {
	out := make([]QueueItem, 0, len(items))
	for _, it := range items {
		out = append(out, QueueItem{BackendID: it.BackendID, URI: it.URI, DIDLID: it.DIDLID})
	}
	return out
}

func (b *Backend) Enqueue(ctx context.Context, items []renderer.PlaybackItem, afterIndex *int) error {
	return b.t.Enqueue(ctx, toQueueItems(items), afterIndex)
}

func (b *Backend) ReplaceQueue(ctx context.Context, items []renderer.PlaybackItem, startIndex int) error {
	return b.t.ReplaceQueue(ctx, toQueueItems(items), startIndex)
}

func (b *Backend) DeleteAll(ctx context.Context) error {
	return b.t.DeleteAll(ctx)
}

func (b *Backend) DeleteID(ctx context.Context, backendID uint32) error {
	return b.t.DeleteID(ctx, backendID)
}
