// SPDX-License-Identifier: MIT

// Package chromecast implements the ChromecastSink node: Cast
// playback is URI-based (the device fetches media itself rather than
// accepting a raw PCM stream), so this sink's job is to hand the
// already-cached/HTTP-served URI to a Cast receiver app and then
// drain-and-discard the pipeline's own chunk stream, which exists only
// so this sink participates in the same graph shape as the others.
// Real device discovery and the CASTV2 control channel are a local
// network round-trip outside this module's test reach, so the control
// channel is isolated behind the Receiver interface.
package chromecast

import (
	"context"

	"github.com/pmomusic/pmomusicd/internal/audio"
)

// Receiver is the CASTV2 control-channel boundary a real Chromecast
// driver implements.
type Receiver interface {
	LoadMedia(ctx context.Context, uri, contentType string) error
	Stop(ctx context.Context) error
}

// Sink hands URI off to a Receiver once, then discards chunks; it
// never re-encodes the pipeline's PCM for playback.
type Sink struct {
	Receiver    Receiver
	URI         string
	ContentType string

	loaded bool
}

// New constructs a Chromecast sink that will load uri on first chunk.
func New(r Receiver, uri, contentType string) *Sink {
	return &Sink{Receiver: r, URI: uri, ContentType: contentType}
}

func (s *Sink) Run(ctx context.Context, in audio.Edge, _ audio.Edge) error {
	return audio.DrainSink(ctx, in,
		func(c *audio.Chunk) error {
			if !s.loaded {
				s.loaded = true
				return s.Receiver.LoadMedia(ctx, s.URI, s.ContentType)
			}
			return nil
		},
		func(m audio.SyncMarker) error {
			if m.Kind == audio.SyncEndOfStream {
				return s.Receiver.Stop(ctx)
			}
			return nil
		},
	)
}
