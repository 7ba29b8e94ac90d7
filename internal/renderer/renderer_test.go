// SPDX-License-Identifier: MIT

package renderer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmomusic/pmomusicd/internal/bus"
)

// fakeBackend is a minimal in-memory Backend used to drive the
// watcher loop and reconciliation without a real device.
type fakeBackend struct {
	mu    sync.Mutex
	state TransportState
	pos   Position
	queue QueueSnapshot
	vol   float64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{state: StateStopped}
}

func (f *fakeBackend) Kind() string                   { return "fake" }
func (f *fakeBackend) Capabilities() Capabilities      { return Capabilities{} }
func (f *fakeBackend) CurrentState(context.Context) (TransportState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}
func (f *fakeBackend) CurrentPosition(context.Context) (Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos, nil
}
func (f *fakeBackend) Volume(context.Context) (float64, error) { return f.vol, nil }
func (f *fakeBackend) Mute(context.Context) (bool, error)      { return false, nil }
func (f *fakeBackend) SetVolume(_ context.Context, v float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vol = v
	return nil
}
func (f *fakeBackend) SetMute(context.Context, bool) error { return nil }
func (f *fakeBackend) Play(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StatePlaying
	return nil
}
func (f *fakeBackend) Pause(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StatePaused
	return nil
}
func (f *fakeBackend) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateStopped
	return nil
}
func (f *fakeBackend) Next(context.Context) error     { return nil }
func (f *fakeBackend) Previous(context.Context) error { return nil }
func (f *fakeBackend) Seek(context.Context, int64) error { return nil }
func (f *fakeBackend) QueueSnapshot(context.Context) (QueueSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queue, nil
}
func (f *fakeBackend) Enqueue(_ context.Context, items []PlaybackItem, _ *int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue.Items = append(f.queue.Items, items...)
	return nil
}
func (f *fakeBackend) ReplaceQueue(_ context.Context, items []PlaybackItem, start int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = QueueSnapshot{Items: items, CurrentIndex: &start}
	return nil
}
func (f *fakeBackend) DeleteAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = QueueSnapshot{}
	return nil
}
func (f *fakeBackend) DeleteID(_ context.Context, id uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.queue.Items[:0]
	for _, it := range f.queue.Items {
		if it.BackendID != id {
			out = append(out, it)
		}
	}
	f.queue.Items = out
	return nil
}

// The watcher restarts on re-appearance without a
// manual rediscovery.
func TestRenderer_WatcherRestartsOnReappearance(t *testing.T) {
	b := bus.New()
	r := New("r1", "Test Renderer", newFakeBackend(), b)

	ctx := context.Background()
	r.StartWatching(ctx)
	assert.True(t, r.IsWatching())

	r.MarkAsOffline()
	assert.False(t, r.IsWatching())

	r.HasBeenSeenNow(ctx)
	assert.True(t, r.IsWatching())

	r.StopWatching()
	assert.False(t, r.IsWatching())
}

func TestRegistry_UpsertStartsWatcherOnce(t *testing.T) {
	b := bus.New()
	reg := NewRegistry(b)
	ctx := context.Background()

	backend := newFakeBackend()
	r1 := reg.Upsert(ctx, "r1", "One", backend)
	require.True(t, r1.IsWatching())

	r2 := reg.Upsert(ctx, "r1", "One", backend)
	assert.Same(t, r1, r2)
	assert.True(t, r2.IsWatching())

	reg.Remove("r1")
	_, ok := reg.Get("r1")
	assert.False(t, ok)
}

func TestRenderer_SleepTimerExpiresAndStops(t *testing.T) {
	b := bus.New()
	backend := newFakeBackend()
	r := New("r1", "Test", backend, b)
	ctx := context.Background()
	require.NoError(t, backend.Play(ctx))

	sub := b.Subscribe(r.Topic())
	defer sub.Close()

	r.SetSleepTimer(0) // expires immediately on first tick
	r.tickSleepTimer(ctx)

	select {
	case ev := <-sub.C():
		assert.Equal(t, "TimerExpired", ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected TimerExpired event")
	}

	state, err := backend.CurrentState(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateStopped, state)
}

func TestRenderer_SleepTimerCancel(t *testing.T) {
	b := bus.New()
	r := New("r1", "Test", newFakeBackend(), b)

	sub := b.Subscribe(r.Topic())
	defer sub.Close()

	// Cancelling an idle timer is a no-op and emits nothing.
	r.CancelSleepTimer()
	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected event: %+v", ev)
	default:
	}

	r.SetSleepTimer(3600)
	r.CancelSleepTimer()
	select {
	case ev := <-sub.C():
		assert.Equal(t, "TimerCancelled", ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected TimerCancelled event")
	}

	// A cancelled timer no longer ticks.
	r.tickSleepTimer(context.Background())
	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected event after cancel: %+v", ev)
	default:
	}
}

func TestRenderer_AttachAndRefreshBinding(t *testing.T) {
	b := bus.New()
	backend := newFakeBackend()
	r := New("r1", "Test", backend, b)
	ctx := context.Background()

	items := []PlaybackItem{{URI: "http://x/a", DIDLID: "A"}}
	require.NoError(t, r.AttachPlaylist(ctx, "qobuz", "album1", items, false))

	binding := r.Binding()
	require.NotNil(t, binding)
	assert.True(t, binding.HasSeenUpdate)
	assert.Equal(t, "album1", binding.ContainerID)

	// Manual edit clears the binding.
	require.NoError(t, r.Enqueue(ctx, []PlaybackItem{{URI: "http://x/b"}}, nil))
	assert.Nil(t, r.Binding())
}
