// SPDX-License-Identifier: MIT

// Package local implements the AudioSink node: local device output via
// a host audio API (ALSA/CoreAudio/WASAPI). CGo bindings to those
// APIs are outside a pure-Go module's reach, so the host boundary is a
// HostOutput interface; the in-repo default NullOutput discards frames
// for portability.
package local

import (
	"context"

	"github.com/pmomusic/pmomusicd/internal/audio"
)

// HostOutput is the platform audio API boundary (ALSA/CoreAudio/WASAPI
// in a real deployment, selected at build time by the host).
type HostOutput interface {
	Write(left, right []float32, sampleRate int) error
	Close() error
}

// NullOutput discards every frame; used where no host audio device is
// available or desired (headless renderers, tests).
type NullOutput struct{}

func (NullOutput) Write(left, right []float32, sampleRate int) error { return nil }
func (NullOutput) Close() error                                      { return nil }

// Sink is the AudioSink node.
type Sink struct {
	Host HostOutput
}

// New constructs a local audio sink over host. A nil host defaults to
// NullOutput.
func New(host HostOutput) *Sink {
	if host == nil {
		host = NullOutput{}
	}
	return &Sink{Host: host}
}

func (s *Sink) Run(ctx context.Context, in audio.Edge, _ audio.Edge) error {
	defer s.Host.Close()
	return audio.DrainSink(ctx, in, func(c *audio.Chunk) error {
		return s.Host.Write(c.Left, c.Right, c.SampleRate)
	}, nil)
}
