// SPDX-License-Identifier: MIT

package renderer

import (
	"context"

	"github.com/pmomusic/pmomusicd/internal/source"
)

// Control-point facade: thin wrappers over Backend that clear the
// playlist binding on manual queue edits, without forcing every
// backend implementation to know about bindings.

func (r *Renderer) Play(ctx context.Context) error  { return r.Backend.Play(ctx) }
func (r *Renderer) Pause(ctx context.Context) error { return r.Backend.Pause(ctx) }
func (r *Renderer) Stop(ctx context.Context) error  { return r.Backend.Stop(ctx) }
func (r *Renderer) Next(ctx context.Context) error  { return r.Backend.Next(ctx) }
func (r *Renderer) Previous(ctx context.Context) error {
	return r.Backend.Previous(ctx)
}
func (r *Renderer) Seek(ctx context.Context, ms int64) error { return r.Backend.Seek(ctx, ms) }

func (r *Renderer) Volume(ctx context.Context) (float64, error) { return r.Backend.Volume(ctx) }
func (r *Renderer) SetVolume(ctx context.Context, v float64) error {
	return r.Backend.SetVolume(ctx, v)
}
func (r *Renderer) Mute(ctx context.Context) (bool, error) { return r.Backend.Mute(ctx) }
func (r *Renderer) SetMute(ctx context.Context, m bool) error {
	return r.Backend.SetMute(ctx, m)
}

// Enqueue is a manual queue edit: it clears any playlist binding.
func (r *Renderer) Enqueue(ctx context.Context, items []PlaybackItem, afterIndex *int) error {
	if err := r.Backend.Enqueue(ctx, items, afterIndex); err != nil {
		return err
	}
	r.ClearBindingOnManualEdit()
	return nil
}

// ReplaceQueue is a manual queue edit: it clears any playlist binding.
func (r *Renderer) ReplaceQueue(ctx context.Context, items []PlaybackItem, startIndex int) error {
	if err := r.Backend.ReplaceQueue(ctx, items, startIndex); err != nil {
		return err
	}
	r.ClearBindingOnManualEdit()
	return nil
}

// DeleteAll is a manual queue edit: it clears any playlist binding and
// the per-track metadata overlay.
func (r *Renderer) DeleteAll(ctx context.Context) error {
	if err := r.Backend.DeleteAll(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	r.metadataCache = make(map[uint32]*source.TrackMetadata)
	r.mu.Unlock()
	r.ClearBindingOnManualEdit()
	return nil
}

// DeleteID is a manual queue edit: it clears any playlist binding and
// that track's metadata overlay entry.
func (r *Renderer) DeleteID(ctx context.Context, backendID uint32) error {
	if err := r.Backend.DeleteID(ctx, backendID); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.metadataCache, backendID)
	r.mu.Unlock()
	r.ClearBindingOnManualEdit()
	return nil
}

// SetTrackMetadata overlays metadata for a backend id so a control
// point can refresh metadata even when the backend forbids per-item
// mutation.
func (r *Renderer) SetTrackMetadata(backendID uint32, md *source.TrackMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadataCache[backendID] = md
}

// TrackMetadata returns the overlaid metadata for a backend id, if any.
func (r *Renderer) TrackMetadata(backendID uint32) (*source.TrackMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	md, ok := r.metadataCache[backendID]
	return md, ok
}
