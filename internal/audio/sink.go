// SPDX-License-Identifier: MIT

package audio

import "context"

// Sink is a terminal pipeline node: it materializes gain (the lazy
// gain rule ends here, or at any node that must inspect samples) and
// writes the result somewhere outside the graph.
type Sink interface {
	Node
}

// SourceNameUpdateEvent is published when the current track's display
// name changes, letting a DiskSink derive a filename from it.
type SourceNameUpdateEvent struct {
	Name string
}

// DrainSink is the shared consume-until-closed-or-cancelled loop every
// concrete sink's Run wraps, materializing each chunk's gain before
// handing it to write. onSync may be nil.
func DrainSink(ctx context.Context, in Edge, write func(c *Chunk) error, onSync func(m SyncMarker) error) error {
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
			case SegmentChunk:
				if err := write(seg.Chunk.ApplyGain()); err != nil {
					return err
				}
			case SegmentSync:
				if onSync != nil {
					if err := onSync(*seg.Sync); err != nil {
						return err
					}
				}
				if seg.Sync.Kind == SyncEndOfStream {
					return nil
				}
			}
		}
	}
}
