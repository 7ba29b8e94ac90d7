// SPDX-License-Identifier: MIT

package renderer

import (
	"context"
	"testing"

	"go.uber.org/goleak"

	"github.com/pmomusic/pmomusicd/internal/bus"
)

// The watcher contract promises termination within the stop grace
// period; a leaked watcher goroutine would accumulate one task per
// renderer churn across the daemon's lifetime.
func TestWatcher_StopLeavesNoGoroutine(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := bus.New()
	r := New("r-leak", "Leak Test", newFakeBackend(), b)

	r.StartWatching(context.Background())
	r.StopWatching()
}

func TestRegistry_RemoveStopsWatcher(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := bus.New()
	reg := NewRegistry(b)
	reg.Upsert(context.Background(), "r1", "One", newFakeBackend())
	reg.Upsert(context.Background(), "r2", "Two", newFakeBackend())

	reg.Remove("r1")
	reg.Remove("r2")
}
