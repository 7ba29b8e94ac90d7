// SPDX-License-Identifier: MIT

package audio

import (
	"context"
	"sync/atomic"

	"github.com/pmomusic/pmomusicd/internal/bus"
)

// VolumeChangeEvent is published on the VolumeNode's bus topic
// whenever its effective local gain changes.
type VolumeChangeEvent struct {
	NodeID string
	Volume float64 // the node's own (local) volume, 0.0..1.0
}

// VolumeNode multiplies chunk.Gain by its local volume (and, if bound
// to a master, the master's current volume too) without copying
// sample data; the gain rides the chunk until a sink materializes it.
type VolumeNode struct {
	ID  string
	Bus *bus.Bus

	local  atomic.Uint32 // float32 bits, 0.0..1.0
	master *MasterVolume // nil if unbound
}

// NewVolumeNode constructs a node starting at full local volume.
func NewVolumeNode(id string, b *bus.Bus) *VolumeNode {
	n := &VolumeNode{ID: id, Bus: b}
	n.local.Store(float32Bits(1.0))
	return n
}

// SetVolume sets this node's local volume (0.0..1.0) and publishes a
// VolumeChangeEvent.
func (n *VolumeNode) SetVolume(v float64) {
	v = clamp01(v)
	n.local.Store(float32Bits(v))
	if n.Bus != nil {
		n.Bus.Publish(bus.Event{Topic: "audio." + n.ID, Kind: "VolumeChanged", Payload: VolumeChangeEvent{NodeID: n.ID, Volume: v}})
	}
}

// Volume returns the node's own local volume.
func (n *VolumeNode) Volume() float64 {
	return float64(bitsFloat32(n.local.Load()))
}

// BindMaster subscribes this node's effective gain to a shared
// MasterVolume, so effective gain becomes master*local until unbound.
func (n *VolumeNode) BindMaster(m *MasterVolume) {
	n.master = m
}

func (n *VolumeNode) effectiveGain() float32 {
	g := bitsFloat32(n.local.Load())
	if n.master != nil {
		g *= float32(n.master.Volume())
	}
	return g
}

func (n *VolumeNode) Run(ctx context.Context, in Edge, out Edge) error {
	for {
		select {
		case <-ctx.Done():
			Drain(in)
			return ctx.Err()
		case seg, ok := <-in:
			if !ok {
				return nil
			}
			if seg.Kind == SegmentChunk {
				seg = ChunkSegment(seg.Chunk.WithModifiedGain(n.effectiveGain()))
			}
			if err := out.Send(ctx, seg); err != nil {
				return err
			}
		}
	}
}

// MasterVolume is a shared volume source one or more VolumeNodes can
// bind to; a bound node's effective gain is master x local.
type MasterVolume struct {
	Bus   *bus.Bus
	ID    string
	value atomic.Uint32
}

// NewMasterVolume constructs a master starting at full volume.
func NewMasterVolume(id string, b *bus.Bus) *MasterVolume {
	m := &MasterVolume{ID: id, Bus: b}
	m.value.Store(float32Bits(1.0))
	return m
}

// SetVolume publishes a new master volume (0.0..1.0) to every bound
// VolumeNode and any bus subscribers.
func (m *MasterVolume) SetVolume(v float64) {
	v = clamp01(v)
	m.value.Store(float32Bits(v))
	if m.Bus != nil {
		m.Bus.Publish(bus.Event{Topic: "audio.master." + m.ID, Kind: "VolumeChanged", Payload: VolumeChangeEvent{NodeID: m.ID, Volume: v}})
	}
}

// Volume returns the master's current volume.
func (m *MasterVolume) Volume() float64 {
	return float64(bitsFloat32(m.value.Load()))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func float32Bits(v float64) uint32 {
	return mathFloat32bits(float32(v))
}
