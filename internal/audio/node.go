// SPDX-License-Identifier: MIT

package audio

import (
	"context"
	"time"
)

// Edge is the bounded async channel connecting two pipeline nodes.
// Capacity is buffer-seconds * chunks-per-second; producers await
// capacity rather than dropping.
type Edge chan Segment

// NewEdge constructs an edge sized for bufferSeconds of audio at the
// given chunk rate.
func NewEdge(bufferSeconds float64, chunksPerSecond int) Edge {
	capacity := int(bufferSeconds * float64(chunksPerSecond))
	if capacity < 1 {
		capacity = 1
	}
	return make(Edge, capacity)
}

// Send delivers seg on e, blocking until capacity is available or ctx
// is cancelled.
func (e Edge) Send(ctx context.Context, seg Segment) error {
	select {
	case e <- seg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Node is the common shape of every pipeline stage's run loop: it
// consumes from in (nil for a SourceNode) and produces onto out,
// until ctx is cancelled, then drains its input and signals done.
type Node interface {
	Run(ctx context.Context, in Edge, out Edge) error
}

// Drain consumes and discards every segment still buffered on e,
// without blocking once e is empty. Used by a cancelled node to empty
// its input before returning, per the cancellation contract.
func Drain(e Edge) {
	for {
		select {
		case <-e:
		default:
			return
		}
	}
}

// chunksPerSecondFor returns the nominal chunk rate for a pipeline
// operating at sampleRate with framesPerChunk-sample chunks, used to
// size edge buffers.
func chunksPerSecondFor(sampleRate, framesPerChunk int) int {
	if framesPerChunk <= 0 {
		framesPerChunk = 1
	}
	n := sampleRate / framesPerChunk
	if n < 1 {
		n = 1
	}
	return n
}

const defaultNodeTickBudget = 50 * time.Millisecond
