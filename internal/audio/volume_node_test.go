// SPDX-License-Identifier: MIT

package audio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmomusic/pmomusicd/internal/bus"
)

// Master=0.5 with slave local=0.8 must emit chunks carrying gain
// ~0.4; raising master to 1.0 must move emitted gain to ~0.8.
func TestVolumeNode_MasterSlavePropagation(t *testing.T) {
	b := bus.New()
	master := NewMasterVolume("master-1", b)
	master.SetVolume(0.5)

	node := NewVolumeNode("slave-1", b)
	node.SetVolume(0.8)
	node.BindMaster(master)

	in := NewEdge(1, 10)
	out := NewEdge(1, 10)

	c, err := NewChunk(0, []float32{1}, []float32{1}, 44100)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- node.Run(ctx, in, out) }()

	in <- ChunkSegment(c)
	seg := <-out
	assert.InDelta(t, 0.4, float64(seg.Chunk.Gain), 1e-4)

	master.SetVolume(1.0)
	in <- ChunkSegment(c)
	seg = <-out
	assert.InDelta(t, 0.8, float64(seg.Chunk.Gain), 1e-4)

	close(in)
	cancel()
	<-done
}
