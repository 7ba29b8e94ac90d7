// SPDX-License-Identifier: MIT

// Package audio implements the playback node graph: SourceNode ->
// ResamplingNode -> VolumeNode -> Sink(s), connected by bounded
// channels, each node its own cooperative task.
// Chunks are shared immutable stereo PCM frames carrying a lazy gain
// factor; fan-out clones the pointer, not the samples, so branches
// apply their own gain without cost to other branches.
package audio

import "fmt"

// Chunk is an immutable stereo PCM frame. Two channels always carry
// the same sample count (left/right length invariant).
type Chunk struct {
	FrameIndex uint64
	Left       []float32
	Right      []float32
	SampleRate int
	Gain       float32
}

// NewChunk constructs a Chunk with Gain defaulted to 1.0, enforcing
// the left/right length invariant.
func NewChunk(frameIndex uint64, left, right []float32, sampleRate int) (*Chunk, error) {
	if len(left) != len(right) {
		return nil, fmt.Errorf("audio: chunk left/right length mismatch: %d != %d", len(left), len(right))
	}
	return &Chunk{FrameIndex: frameIndex, Left: left, Right: right, SampleRate: sampleRate, Gain: 1.0}, nil
}

// Frames reports the sample-frame count of this chunk.
func (c *Chunk) Frames() int { return len(c.Left) }

// WithModifiedGain returns a new Chunk wrapper sharing the same
// sample slices with Gain multiplied by factor. O(1): no sample data
// is copied.
func (c *Chunk) WithModifiedGain(factor float32) *Chunk {
	return &Chunk{
		FrameIndex: c.FrameIndex,
		Left:       c.Left,
		Right:      c.Right,
		SampleRate: c.SampleRate,
		Gain:       c.Gain * factor,
	}
}

// ApplyGain materializes the current gain into new sample slices,
// returning a chunk with Gain reset to 1.0. O(n): always copies.
func (c *Chunk) ApplyGain() *Chunk {
	if c.Gain == 1.0 {
		left := append([]float32(nil), c.Left...)
		right := append([]float32(nil), c.Right...)
		return &Chunk{FrameIndex: c.FrameIndex, Left: left, Right: right, SampleRate: c.SampleRate, Gain: 1.0}
	}
	left := make([]float32, len(c.Left))
	right := make([]float32, len(c.Right))
	for i := range c.Left {
		left[i] = c.Left[i] * c.Gain
		right[i] = c.Right[i] * c.Gain
	}
	return &Chunk{FrameIndex: c.FrameIndex, Left: left, Right: right, SampleRate: c.SampleRate, Gain: 1.0}
}

// SyncMarkerKind tags the variant of a SyncMarker.
type SyncMarkerKind int

const (
	SyncTrackBoundary SyncMarkerKind = iota
	SyncEndOfStream
	SyncFormatChange
)

// TrackBoundaryMetadata is carried by a SyncTrackBoundary marker.
type TrackBoundaryMetadata struct {
	Title  string
	Artist string
	Album  string
}

// SyncMarker is an in-band control message interleaved with Chunks on
// a pipeline edge.
type SyncMarker struct {
	Kind       SyncMarkerKind
	Boundary   *TrackBoundaryMetadata // set iff Kind == SyncTrackBoundary
	SampleRate int                    // set iff Kind == SyncFormatChange
	BitDepth   int                    // set iff Kind == SyncFormatChange
}

// SegmentKind tags the variant of a Segment.
type SegmentKind int

const (
	SegmentChunk SegmentKind = iota
	SegmentSync
)

// Segment is the unit that travels a pipeline edge: either audio data
// or an in-band marker.
type Segment struct {
	Kind  SegmentKind
	Chunk *Chunk      // set iff Kind == SegmentChunk
	Sync  *SyncMarker // set iff Kind == SegmentSync
}

// ChunkSegment wraps a Chunk as a Segment.
func ChunkSegment(c *Chunk) Segment { return Segment{Kind: SegmentChunk, Chunk: c} }

// SyncSegment wraps a SyncMarker as a Segment.
func SyncSegment(m SyncMarker) Segment { return Segment{Kind: SegmentSync, Sync: &m} }
