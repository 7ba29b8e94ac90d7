// SPDX-License-Identifier: MIT

// Package renderer implements the polymorphic renderer/queue engine:
// the Backend abstraction over OpenHome/AVTransport/
// LinkPlay devices, per-renderer queue reconciliation, playlist
// binding, the per-renderer watcher loop, and the sleep timer.
package renderer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pmomusic/pmomusicd/internal/bus"
	"github.com/pmomusic/pmomusicd/internal/log"
	"github.com/pmomusic/pmomusicd/internal/renderer/fsm"
	"github.com/pmomusic/pmomusicd/internal/source"
)

// TransportState is the logical playback state exposed to control
// points, after backend-specific compensation.
type TransportState int

const (
	StateNoMedia TransportState = iota
	StateStopped
	StatePlaying
	StatePaused
	StateTransitioning
)

func (s TransportState) String() string {
	switch s {
	case StateNoMedia:
		return "NoMedia"
	case StateStopped:
		return "Stopped"
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	case StateTransitioning:
		return "Transitioning"
	default:
		return "Unknown"
	}
}

// Position is the backend's reported playback position.
type Position struct {
	TrackIndex *int
	ElapsedMs  *int64
	DurationMs *int64
}

// Capabilities describes what a backend can do without polling for it.
type Capabilities struct {
	PushNotify bool // backend pushes state changes rather than requiring polling
}

// PlaybackItem is one entry of a renderer's queue. Two items share
// identity iff their
// URI matches (both non-empty) or their DIDL id matches (both
// non-empty); see identityMatch in reconcile.go.
type PlaybackItem struct {
	BackendID uint32
	URI       string
	DIDLID    string
	Metadata  *source.TrackMetadata
	AddedAt   time.Time
}

// SameIdentity reports whether p and other denote the same logical
// track per the stable identity rule.
func (p PlaybackItem) SameIdentity(other PlaybackItem) bool {
	return identityMatch(p, other)
}

// QueueSnapshot is the backend queue as last observed. CurrentIndex
// is nil when nothing is current, or out of range (a misbehaving
// backend).
type QueueSnapshot struct {
	Items        []PlaybackItem
	CurrentIndex *int
}

// Normalize degrades an out-of-range CurrentIndex to nil with a
// diagnostic instead of letting it panic an index downstream.
func (q QueueSnapshot) Normalize(rendererID string) QueueSnapshot {
	if q.CurrentIndex == nil {
		return q
	}
	if *q.CurrentIndex < 0 || *q.CurrentIndex >= len(q.Items) {
		l := log.WithComponent("renderer")
		l.Warn().
			Str(log.FieldRendererID, rendererID).
			Int("current_index", *q.CurrentIndex).
			Int("queue_len", len(q.Items)).
			Msg("backend reported out-of-range current_index, degrading to none")
		return QueueSnapshot{Items: q.Items, CurrentIndex: nil}
	}
	return q
}

// PlaylistBinding attaches a server container as a renderer's queue
// source. A renderer has at most one.
type PlaylistBinding struct {
	ServerID          string
	ContainerID       string
	HasSeenUpdate     bool
	PendingRefresh    bool
	AutoPlayOnRefresh bool
}

// SleepTimer is a per-renderer optional countdown; the watcher emits
// TimerTick/TimerExpired on it and CancelSleepTimer emits TimerCancelled.
type SleepTimer struct {
	DurationS int
	StartedAt time.Time
}

// Remaining returns the time left before expiry, clamped to zero.
func (t SleepTimer) Remaining(now time.Time) time.Duration {
	deadline := t.StartedAt.Add(time.Duration(t.DurationS) * time.Second)
	if now.After(deadline) {
		return 0
	}
	return deadline.Sub(now)
}

// Backend is the polymorphic interface every renderer protocol family
// (OpenHome, AVTransport, LinkPlay) implements. All operations accept
// a context for cancellation/deadline.
type Backend interface {
	Kind() string
	Capabilities() Capabilities

	CurrentState(ctx context.Context) (TransportState, error)
	CurrentPosition(ctx context.Context) (Position, error)

	Volume(ctx context.Context) (float64, error)
	Mute(ctx context.Context) (bool, error)
	SetVolume(ctx context.Context, v float64) error
	SetMute(ctx context.Context, m bool) error

	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	Seek(ctx context.Context, ms int64) error

	QueueSnapshot(ctx context.Context) (QueueSnapshot, error)
	Enqueue(ctx context.Context, items []PlaybackItem, afterIndex *int) error
	ReplaceQueue(ctx context.Context, items []PlaybackItem, startIndex int) error
	DeleteAll(ctx context.Context) error
	DeleteID(ctx context.Context, backendID uint32) error
}

// Error kinds that this package's callers care about.
var (
	ErrBackendRejected = errors.New("renderer: backend rejected operation")
	ErrNotSupported    = errors.New("renderer: capability not supported")
)

const (
	tickInterval       = 500 * time.Millisecond
	volumeTickEvery    = 2 // volume/mute polled every 2 ticks = 1s
	watcherStopGrace   = 2 * time.Second
	defaultRefreshSecs = 60
)

// Renderer is one discovered device with its backend, last-known
// queue, metadata overlay, playlist binding, sleep timer, and watcher
// task. State is guarded by a per-renderer RWLock.
type Renderer struct {
	ID      string
	Name    string
	Backend Backend

	mu            sync.RWMutex
	lastSnapshot  QueueSnapshot
	lastState     TransportState
	lastVolume    float64
	lastMute      bool
	metadataCache map[uint32]*source.TrackMetadata
	binding       *PlaylistBinding
	sleepTimer    *SleepTimer
	timerFSM      *fsm.Machine[timerState, timerEvent]
	online        bool

	reconcileMu sync.Mutex // serializes reconciliations for this renderer

	bus   *bus.Bus
	topic string

	cancel    context.CancelFunc
	done      chan struct{}
	watching  bool
	watchMu   sync.Mutex
	tickCount int
}

// New constructs a Renderer but does not start its watcher; callers
// construct via Registry.Upsert, which starts the watcher
// immediately.
func New(id, name string, backend Backend, b *bus.Bus) *Renderer {
	return &Renderer{
		ID:            id,
		Name:          name,
		Backend:       backend,
		metadataCache: make(map[uint32]*source.TrackMetadata),
		timerFSM:      newTimerFSM(),
		bus:           b,
		topic:         "renderer." + id,
	}
}

// Sleep-timer lifecycle, run through the shared transition-table
// machine: setting while running rebases, cancel and expiry are only
// legal while running.
type (
	timerState string
	timerEvent string
)

const (
	timerIdle    timerState = "idle"
	timerRunning timerState = "running"

	timerSet    timerEvent = "set"
	timerCancel timerEvent = "cancel"
	timerExpire timerEvent = "expire"
)

func newTimerFSM() *fsm.Machine[timerState, timerEvent] {
	m, err := fsm.New(timerIdle, []fsm.Transition[timerState, timerEvent]{
		{From: timerIdle, Event: timerSet, To: timerRunning},
		{From: timerRunning, Event: timerSet, To: timerRunning},
		{From: timerRunning, Event: timerCancel, To: timerIdle},
		{From: timerRunning, Event: timerExpire, To: timerIdle},
	})
	if err != nil {
		panic(err) // static table, unreachable
	}
	return m
}

// Topic returns the bus topic this renderer publishes events on.
func (r *Renderer) Topic() string { return r.topic }

// IsWatching reports whether the watcher task is currently running.
func (r *Renderer) IsWatching() bool {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()
	return r.watching
}

// IsOnline reports the last-seen presence state.
func (r *Renderer) IsOnline() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.online
}

// StartWatching starts the per-renderer watcher task if not already
// running. Idempotent.
func (r *Renderer) StartWatching(ctx context.Context) {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()
	if r.watching {
		return
	}
	wctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.watching = true
	r.mu.Lock()
	r.online = true
	r.mu.Unlock()

	go func() {
		defer close(r.done)
		log.Recover("renderer.watcher", func() {
			r.watchLoop(wctx)
		})
	}()
}

// StopWatching cancels the watcher task and waits up to a 2s grace
// period for it to terminate. Idempotent.
func (r *Renderer) StopWatching() {
	r.watchMu.Lock()
	if !r.watching {
		r.watchMu.Unlock()
		return
	}
	cancel := r.cancel
	done := r.done
	r.watching = false
	r.watchMu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(watcherStopGrace):
		l := log.WithComponent("renderer")
		l.Warn().
			Str(log.FieldRendererID, r.ID).
			Msg("watcher did not stop within grace period")
	}
}

// HasBeenSeenNow marks the renderer present. If it was previously
// offline (watcher stopped), the watcher restarts without needing a
// manual rediscovery.
func (r *Renderer) HasBeenSeenNow(ctx context.Context) {
	r.mu.Lock()
	wasOnline := r.online
	r.online = true
	r.mu.Unlock()
	if !wasOnline || !r.IsWatching() {
		r.StartWatching(ctx)
	}
}

// MarkAsOffline stops the watcher and marks the renderer absent.
func (r *Renderer) MarkAsOffline() {
	r.mu.Lock()
	r.online = false
	r.mu.Unlock()
	r.StopWatching()
}

func (r *Renderer) watchLoop(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tickCount++
			r.tick(ctx, r.tickCount%volumeTickEvery == 0)
		}
	}
}

func (r *Renderer) tick(ctx context.Context, pollVolume bool) {
	state, err := r.Backend.CurrentState(ctx)
	if err != nil {
		r.publish("Internal", err.Error())
		return
	}
	pos, err := r.Backend.CurrentPosition(ctx)
	if err != nil {
		r.publish("Internal", err.Error())
		return
	}
	snap, err := r.Backend.QueueSnapshot(ctx)
	if err != nil {
		r.publish("Internal", err.Error())
		return
	}
	snap = snap.Normalize(r.ID)

	r.mu.Lock()
	prevState := r.lastState
	prevSnap := r.lastSnapshot
	r.lastState = mapState(r.Backend, state, pos, prevState)
	r.lastSnapshot = snap
	r.mu.Unlock()

	if r.lastState != prevState {
		r.publish("StateChanged", stateChangeEvent{Old: prevState, New: r.lastState})
	}
	r.publish("PositionChanged", pos)
	if !sameTrack(prevSnap, snap) {
		r.publish("TrackChanged", snap.CurrentIndex)
	}
	if !sameQueue(prevSnap, snap) {
		r.publish("QueueUpdated", snap)
		r.clearStaleMetadata(prevSnap, snap)
	}

	if pollVolume {
		if v, err := r.Backend.Volume(ctx); err == nil {
			r.mu.Lock()
			r.lastVolume = v
			r.mu.Unlock()
		}
		if m, err := r.Backend.Mute(ctx); err == nil {
			r.mu.Lock()
			r.lastMute = m
			r.mu.Unlock()
		}
	}

	r.driveAutoAdvance(ctx, snap, pos)
	r.tickSleepTimer(ctx)
}

// mapState applies the known-buggy-device compensation table: some
// Arylic/LinkPlay firmwares report Stopped during brief seeks. A
// Stopped report right after Playing, with a nonzero elapsed position,
// is mapped to Playing while the backend's SuspectSeekGlitch() reports
// true; backends without that method are passed through unchanged.
func mapState(backend Backend, reported TransportState, pos Position, prev TransportState) TransportState {
	if reported == StateStopped && prev == StatePlaying && pos.ElapsedMs != nil && *pos.ElapsedMs > 0 {
		if lp, ok := backend.(interface{ SuspectSeekGlitch() bool }); ok && lp.SuspectSeekGlitch() {
			return StatePlaying
		}
	}
	return reported
}

func sameTrack(a, b QueueSnapshot) bool {
	ai, bi := a.CurrentIndex, b.CurrentIndex
	if (ai == nil) != (bi == nil) {
		return false
	}
	if ai != nil && *ai != *bi {
		return false
	}
	if ai == nil {
		return true
	}
	if *ai >= len(a.Items) || *bi >= len(b.Items) {
		return false
	}
	return a.Items[*ai].SameIdentity(b.Items[*bi])
}

func sameQueue(a, b QueueSnapshot) bool {
	if len(a.Items) != len(b.Items) {
		return false
	}
	for i := range a.Items {
		if a.Items[i].BackendID != b.Items[i].BackendID || !a.Items[i].SameIdentity(b.Items[i]) {
			return false
		}
	}
	return true
}

// clearStaleMetadata drops metadata-cache entries for backend ids no
// longer present in the new snapshot ("the cache is
// ... cleared on delete_all/delete_id").
func (r *Renderer) clearStaleMetadata(prev, next QueueSnapshot) {
	live := make(map[uint32]bool, len(next.Items))
	for _, it := range next.Items {
		live[it.BackendID] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range prev.Items {
		if !live[it.BackendID] {
			delete(r.metadataCache, it.BackendID)
		}
	}
}

// driveAutoAdvance calls Next when the current track has reached its
// end and a successor exists in the queue.
func (r *Renderer) driveAutoAdvance(ctx context.Context, snap QueueSnapshot, pos Position) {
	if snap.CurrentIndex == nil || pos.ElapsedMs == nil || pos.DurationMs == nil {
		return
	}
	if *pos.DurationMs <= 0 || *pos.ElapsedMs < *pos.DurationMs {
		return
	}
	if *snap.CurrentIndex+1 >= len(snap.Items) {
		return
	}
	if err := r.Backend.Next(ctx); err != nil {
		l := log.WithComponent("renderer")
		l.Warn().
			Str(log.FieldRendererID, r.ID).Err(err).Msg("auto-advance next failed")
	}
}

func (r *Renderer) tickSleepTimer(ctx context.Context) {
	r.mu.Lock()
	timer := r.sleepTimer
	r.mu.Unlock()
	if timer == nil {
		return
	}
	remaining := timer.Remaining(time.Now())
	if remaining <= 0 {
		if _, err := r.timerFSM.Fire(ctx, timerExpire); err != nil {
			return // already cancelled on another path
		}
		r.mu.Lock()
		r.sleepTimer = nil
		r.mu.Unlock()
		if err := r.Backend.Stop(ctx); err != nil {
			l := log.WithComponent("renderer")
			l.Warn().Str(log.FieldRendererID, r.ID).Err(err).Msg("sleep timer stop failed")
		}
		r.publish("TimerExpired", nil)
		return
	}
	r.publish("TimerTick", remaining)
}

// SetSleepTimer starts or rebases the sleep timer. Updating the
// duration while active rebases StartedAt to now.
func (r *Renderer) SetSleepTimer(durationS int) {
	if _, err := r.timerFSM.Fire(context.Background(), timerSet); err != nil {
		return
	}
	r.mu.Lock()
	r.sleepTimer = &SleepTimer{DurationS: durationS, StartedAt: time.Now()}
	r.mu.Unlock()
}

// CancelSleepTimer clears the sleep timer and emits TimerCancelled.
// Cancelling an idle timer is a no-op.
func (r *Renderer) CancelSleepTimer() {
	if _, err := r.timerFSM.Fire(context.Background(), timerCancel); err != nil {
		return
	}
	r.mu.Lock()
	r.sleepTimer = nil
	r.mu.Unlock()
	r.publish("TimerCancelled", nil)
}

type stateChangeEvent struct {
	Old TransportState
	New TransportState
}

func (r *Renderer) publish(kind string, payload any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(bus.Event{Topic: r.topic, Kind: kind, Payload: payload})
}

// Snapshot returns the last-observed queue snapshot.
func (r *Renderer) Snapshot() QueueSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSnapshot
}

// Binding returns the current playlist binding, if any.
func (r *Renderer) Binding() *PlaylistBinding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.binding
}

// AttachPlaylist records a server container as this renderer's queue
// source and performs one reconciliation immediately. Clearing the
// device queue here is advisory: a
// BackendRejected DeleteAll (e.g. OpenHome mid-playback) is logged and
// swallowed since the reconciliation below replaces contents anyway.
func (r *Renderer) AttachPlaylist(ctx context.Context, serverID, containerID string, items []PlaybackItem, autoPlay bool) error {
	if err := r.clearForPlaylistAttach(ctx); err != nil {
		l := log.WithComponent("renderer")
		l.Warn().
			Str(log.FieldRendererID, r.ID).Err(err).
			Msg("clear_queue during playlist attach was rejected; continuing")
	}

	r.mu.Lock()
	r.binding = &PlaylistBinding{ServerID: serverID, ContainerID: containerID, AutoPlayOnRefresh: autoPlay}
	r.mu.Unlock()

	return r.RefreshBinding(ctx, items)
}

func (r *Renderer) clearForPlaylistAttach(ctx context.Context) error {
	err := r.Backend.DeleteAll(ctx)
	if err != nil {
		return ErrBackendRejected
	}
	return nil
}

// TransferBinding copies a playlist binding to this renderer from
// another without re-invoking Attach (which would re-clear and
// re-fetch): pending_refresh is set false
func (r *Renderer) TransferBinding(b PlaylistBinding) {
	b.PendingRefresh = false
	r.mu.Lock()
	r.binding = &b
	r.mu.Unlock()
}

// RefreshBinding reconciles items into the backend's queue, serialized
// per renderer, and marks the binding as having seen at least one
// update.
func (r *Renderer) RefreshBinding(ctx context.Context, items []PlaybackItem) error {
	r.reconcileMu.Lock()
	defer r.reconcileMu.Unlock()

	current, err := r.Backend.QueueSnapshot(ctx)
	if err != nil {
		return err
	}
	current = current.Normalize(r.ID)

	next, ops := Reconcile(current, items)

	if err := applyOps(ctx, r.Backend, ops); err != nil {
		return err
	}

	r.mu.Lock()
	r.lastSnapshot = next
	if r.binding != nil {
		r.binding.HasSeenUpdate = true
		r.binding.PendingRefresh = false
	}
	r.mu.Unlock()

	r.publish("QueueUpdated", next)
	r.publish("BindingChanged", r.Binding())
	return nil
}

// ClearBindingOnManualEdit drops the playlist binding; manual
// enqueue/delete calls SHOULD invoke this
func (r *Renderer) ClearBindingOnManualEdit() {
	r.mu.Lock()
	had := r.binding != nil
	r.binding = nil
	r.mu.Unlock()
	if had {
		r.publish("BindingChanged", (*PlaylistBinding)(nil))
	}
}

func applyOps(ctx context.Context, backend Backend, ops []DiffOp) error {
	for _, op := range ops {
		switch op.Kind {
		case OpDelete:
			if err := backend.DeleteID(ctx, op.Item.BackendID); err != nil {
				return err
			}
		case OpInsert:
			if err := backend.Enqueue(ctx, []PlaybackItem{op.Item}, nil); err != nil {
				return err
			}
		case OpKeep:
			// no backend call needed; identity preserved in place.
		}
	}
	return nil
}
