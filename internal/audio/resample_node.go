// SPDX-License-Identifier: MIT

package audio

import "context"

// Resampler converts one chunk's worth of frames from srcRate to
// dstRate. Concrete sample-rate-conversion math lives below the chunk
// abstraction, in the decoders/transcoders this module consumes;
// LinearResampler is a small linear-interpolation
// implementation adequate for the node graph's own tests.
type Resampler interface {
	Resample(left, right []float32, srcRate, dstRate int) (outLeft, outRight []float32)
}

// LinearResampler performs linear-interpolated resampling.
type LinearResampler struct{}

func (LinearResampler) Resample(left, right []float32, srcRate, dstRate int) ([]float32, []float32) {
	if srcRate == dstRate || len(left) == 0 {
		return left, right
	}
	outLen := int(float64(len(left)) * float64(dstRate) / float64(srcRate))
	if outLen < 1 {
		outLen = 1
	}
	outLeft := make([]float32, outLen)
	outRight := make([]float32, outLen)
	ratio := float64(len(left)-1) / float64(outLen-1)
	if outLen == 1 {
		ratio = 0
	}
	for i := 0; i < outLen; i++ {
		srcPos := float64(i) * ratio
		i0 := int(srcPos)
		i1 := i0 + 1
		if i1 >= len(left) {
			i1 = len(left) - 1
		}
		frac := float32(srcPos - float64(i0))
		outLeft[i] = left[i0] + (left[i1]-left[i0])*frac
		outRight[i] = right[i0] + (right[i1]-right[i0])*frac
	}
	return outLeft, outRight
}

// ResamplingNode converts incoming chunks to TargetRate, emitting a
// SyncFormatChange marker whenever the observed input rate changes.
type ResamplingNode struct {
	TargetRate int
	Resampler  Resampler

	lastSrcRate int
}

// NewResamplingNode constructs a node targeting targetRate with the
// linear resampler.
func NewResamplingNode(targetRate int) *ResamplingNode {
	return &ResamplingNode{TargetRate: targetRate, Resampler: LinearResampler{}}
}

func (n *ResamplingNode) Run(ctx context.Context, in Edge, out Edge) error {
	var frameIndex uint64
	for {
		select {
		case <-ctx.Done():
			Drain(in)
			return ctx.Err()
		case seg, ok := <-in:
			if !ok {
				return nil
			}
			switch seg.Kind {
			case SegmentSync:
				if seg.Sync.Kind == SyncFormatChange {
					n.lastSrcRate = seg.Sync.SampleRate
				}
				if err := out.Send(ctx, seg); err != nil {
					return err
				}
			case SegmentChunk:
				c := seg.Chunk
				if n.lastSrcRate == 0 {
					n.lastSrcRate = c.SampleRate
				}
				if c.SampleRate != n.lastSrcRate {
					n.lastSrcRate = c.SampleRate
					if err := out.Send(ctx, SyncSegment(SyncMarker{Kind: SyncFormatChange, SampleRate: n.TargetRate})); err != nil {
						return err
					}
				}
				left, right := n.Resampler.Resample(c.Left, c.Right, c.SampleRate, n.TargetRate)
				resampled := &Chunk{FrameIndex: frameIndex, Left: left, Right: right, SampleRate: n.TargetRate, Gain: c.Gain}
				frameIndex += uint64(len(left))
				if err := out.Send(ctx, ChunkSegment(resampled)); err != nil {
					return err
				}
			}
		}
	}
}
