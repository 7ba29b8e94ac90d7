// SPDX-License-Identifier: MIT

package audio

import (
	"context"
	"errors"
	"io"

	"github.com/pmomusic/pmomusicd/internal/log"
)

// Decoder produces raw stereo float32 frames from a source stream.
// ReadFrames fills left/right (equal length) and returns the number of
// frames actually read; io.EOF signals the stream is exhausted.
type Decoder interface {
	SampleRate() int
	ReadFrames(left, right []float32) (n int, err error)
	Close() error
}

// SourceNode produces Segments from a Decoder: a SyncFormatChange
// marker naming the decoder's sample rate, then a stream of Chunks,
// then a SyncEndOfStream marker.
type SourceNode struct {
	dec          Decoder
	framesPerChunk int
}

// NewSourceNode wraps dec, emitting chunks of framesPerChunk frames.
func NewSourceNode(dec Decoder, framesPerChunk int) *SourceNode {
	if framesPerChunk <= 0 {
		framesPerChunk = 4096
	}
	return &SourceNode{dec: dec, framesPerChunk: framesPerChunk}
}

func (n *SourceNode) Run(ctx context.Context, _ Edge, out Edge) error {
	logger := log.WithComponent("audio.source")
	defer n.dec.Close()

	if err := out.Send(ctx, SyncSegment(SyncMarker{Kind: SyncFormatChange, SampleRate: n.dec.SampleRate()})); err != nil {
		return err
	}

	var frameIndex uint64
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		left := make([]float32, n.framesPerChunk)
		right := make([]float32, n.framesPerChunk)
		read, err := n.dec.ReadFrames(left, right)
		if read > 0 {
			chunk, cerr := NewChunk(frameIndex, left[:read], right[:read], n.dec.SampleRate())
			if cerr != nil {
				return cerr
			}
			if serr := out.Send(ctx, ChunkSegment(chunk)); serr != nil {
				return serr
			}
			frameIndex += uint64(read)
		}
		if errors.Is(err, io.EOF) {
			return out.Send(ctx, SyncSegment(SyncMarker{Kind: SyncEndOfStream}))
		}
		if err != nil {
			logger.Error().Err(err).Msg("decoder read failed")
			return err
		}
	}
}
