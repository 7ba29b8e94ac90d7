// SPDX-License-Identifier: MIT

package renderer

import (
	"context"
	"sync"

	"github.com/pmomusic/pmomusicd/internal/bus"
)

// Registry is the single-writer, many-reader renderer table.
// Renderers are created on first SSDP sighting and destroyed
// only on explicit removal; presence transitions go through
// HasBeenSeenNow/MarkAsOffline instead.
type Registry struct {
	mu        sync.RWMutex
	renderers map[string]*Renderer
	bus       *bus.Bus
}

// NewRegistry constructs an empty registry publishing renderer events
// on b.
func NewRegistry(b *bus.Bus) *Registry {
	return &Registry{renderers: make(map[string]*Renderer), bus: b}
}

// Upsert returns the renderer for id, constructing and starting its
// watcher if this is the first sighting; otherwise marks it seen (see
// HasBeenSeenNow).
func (reg *Registry) Upsert(ctx context.Context, id, name string, backend Backend) *Renderer {
	reg.mu.Lock()
	r, ok := reg.renderers[id]
	if !ok {
		r = New(id, name, backend, reg.bus)
		reg.renderers[id] = r
	}
	reg.mu.Unlock()

	if !ok {
		r.StartWatching(ctx)
	} else {
		r.HasBeenSeenNow(ctx)
	}
	return r
}

// Get looks up a renderer by id.
func (reg *Registry) Get(id string) (*Renderer, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.renderers[id]
	return r, ok
}

// List returns a snapshot slice of all registered renderers.
func (reg *Registry) List() []*Renderer {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Renderer, 0, len(reg.renderers))
	for _, r := range reg.renderers {
		out = append(out, r)
	}
	return out
}

// MarkOffline stops id's watcher and flags it absent, on SSDP ByeBye.
func (reg *Registry) MarkOffline(id string) {
	reg.mu.RLock()
	r, ok := reg.renderers[id]
	reg.mu.RUnlock()
	if ok {
		r.MarkAsOffline()
	}
}

// Remove stops id's watcher and deletes it from the registry. This is
// the only path that destroys a Renderer (lifecycle).
func (reg *Registry) Remove(id string) {
	reg.mu.Lock()
	r, ok := reg.renderers[id]
	delete(reg.renderers, id)
	reg.mu.Unlock()
	if ok {
		r.StopWatching()
	}
}

// TransferQueue copies renderer `from`'s binding and queue items onto
// `to` without re-invoking AttachPlaylist (which would re-clear and
// re-fetch).
func (reg *Registry) TransferQueue(ctx context.Context, from, to string) error {
	src, ok := reg.Get(from)
	if !ok {
		return ErrNotSupported
	}
	dst, ok := reg.Get(to)
	if !ok {
		return ErrNotSupported
	}

	snap := src.Snapshot()
	if err := dst.ReplaceQueue(ctx, snap.Items, indexOrZero(snap.CurrentIndex)); err != nil {
		return err
	}
	if b := src.Binding(); b != nil {
		dst.TransferBinding(*b)
	}
	return nil
}

func indexOrZero(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}
