// SPDX-License-Identifier: MIT

// Package disk implements the DiskSink node: writes WAV PCM to a
// file, optionally deriving the filename from the current track's
// SourceNameUpdateEvent. FLAC encoding is an external transcoding
// concern; this sink writes canonical 16-bit PCM WAV.
package disk

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"context"

	"github.com/pmomusic/pmomusicd/internal/audio"
)

// Sink writes a WAV stream to Dir, naming the file from the most
// recently observed SourceNameUpdateEvent (falling back to a fixed
// name when none has been seen yet).
type Sink struct {
	Dir         string
	DefaultName string

	name atomic.Value // string
	f    *os.File
	w    io.Writer

	sampleRate int
	channels   int
	bytesWritten int64
}

// New constructs a disk sink writing into dir.
func New(dir, defaultName string) *Sink {
	s := &Sink{Dir: dir, DefaultName: defaultName, channels: 2}
	s.name.Store(defaultName)
	return s
}

// OnSourceNameUpdate updates the filename used for the next file this
// sink opens (a format change re-opens the file).
func (s *Sink) OnSourceNameUpdate(ev audio.SourceNameUpdateEvent) {
	if ev.Name != "" {
		s.name.Store(ev.Name)
	}
}

func (s *Sink) currentName() string {
	if n, ok := s.name.Load().(string); ok && n != "" {
		return n
	}
	return s.DefaultName
}

func (s *Sink) openFor(sampleRate int) error {
	if s.f != nil {
		s.finalizeHeader()
		s.f.Close()
	}
	path := filepath.Join(s.Dir, s.currentName()+".wav")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("disk sink: create %s: %w", path, err)
	}
	s.f = f
	s.w = f
	s.sampleRate = sampleRate
	s.bytesWritten = 0
	return writeWAVPlaceholderHeader(f, sampleRate, s.channels)
}

func (s *Sink) Run(ctx context.Context, in audio.Edge, _ audio.Edge) error {
	defer func() {
		if s.f != nil {
			s.finalizeHeader()
			s.f.Close()
		}
	}()

	return audio.DrainSink(ctx, in,
		func(c *audio.Chunk) error {
			if s.f == nil || c.SampleRate != s.sampleRate {
				if err := s.openFor(c.SampleRate); err != nil {
					return err
				}
			}
			return s.writeFrames(c.Left, c.Right)
		},
		func(m audio.SyncMarker) error {
			if m.Kind == audio.SyncFormatChange && s.f != nil {
				return s.openFor(m.SampleRate)
			}
			return nil
		},
	)
}

func (s *Sink) writeFrames(left, right []float32) error {
	buf := make([]byte, len(left)*4)
	for i := range left {
		binary.LittleEndian.PutUint16(buf[i*4:], floatToPCM16(left[i]))
		binary.LittleEndian.PutUint16(buf[i*4+2:], floatToPCM16(right[i]))
	}
	n, err := s.w.Write(buf)
	s.bytesWritten += int64(n)
	return err
}

func floatToPCM16(v float32) uint16 {
	if v > 1 {
		v = 1
	}
	if v < -1 {
		v = -1
	}
	return uint16(int16(v * 32767))
}

func writeWAVPlaceholderHeader(w io.Writer, sampleRate, channels int) error {
	// A placeholder RIFF/data size is written now and patched by
	// finalizeHeader once the true length is known (this sink's
	// output is only ever read back after playback ends).
	const bitsPerSample = 16
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	hdr := make([]byte, 44)
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], 0)
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:36], bitsPerSample)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], 0)
	_, err := w.Write(hdr)
	return err
}

func (s *Sink) finalizeHeader() {
	if s.f == nil {
		return
	}
	dataSize := uint32(s.bytesWritten)
	riffSize := dataSize + 36
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], riffSize)
	_, _ = s.f.WriteAt(b[:], 4)
	binary.LittleEndian.PutUint32(b[:], dataSize)
	_, _ = s.f.WriteAt(b[:], 40)
}
