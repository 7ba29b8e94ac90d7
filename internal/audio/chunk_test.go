// SPDX-License-Identifier: MIT

package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk_WithModifiedGainIsAssociative(t *testing.T) {
	c, err := NewChunk(0, []float32{1, 0.5, -1}, []float32{-0.5, 0.25, 1}, 44100)
	require.NoError(t, err)

	combined := c.WithModifiedGain(0.6).WithModifiedGain(0.5).ApplyGain()
	direct := c.WithModifiedGain(0.3).ApplyGain()

	require.Len(t, combined.Left, len(direct.Left))
	for i := range combined.Left {
		assert.InDelta(t, direct.Left[i], combined.Left[i], 1e-5)
		assert.InDelta(t, direct.Right[i], combined.Right[i], 1e-5)
	}
}

func TestChunk_WithModifiedGainDoesNotCopySamples(t *testing.T) {
	c, err := NewChunk(0, []float32{1, 2}, []float32{3, 4}, 48000)
	require.NoError(t, err)

	wrapped := c.WithModifiedGain(0.5)
	assert.Same(t, &c.Left[0], &wrapped.Left[0])
	assert.Equal(t, float32(0.5), wrapped.Gain)
}

func TestChunk_ApplyGainMaterializes(t *testing.T) {
	c, err := NewChunk(0, []float32{1, 1}, []float32{1, 1}, 48000)
	require.NoError(t, err)

	g := c.WithModifiedGain(0.5).ApplyGain()
	assert.Equal(t, float32(1.0), g.Gain)
	assert.Equal(t, float32(0.5), g.Left[0])
	assert.Equal(t, float32(0.5), g.Right[1])
}

func TestNewChunk_RejectsLengthMismatch(t *testing.T) {
	_, err := NewChunk(0, []float32{1}, []float32{1, 2}, 44100)
	assert.Error(t, err)
}
