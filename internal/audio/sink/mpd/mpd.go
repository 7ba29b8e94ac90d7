// SPDX-License-Identifier: MIT

// Package mpd implements the MpdSink node: a text-protocol client
// against a Music Player Daemon instance, modeled on the MPD
// line-oriented command/response pattern independently observed
// across the retrieved radio/audio-player example pack (command\n,
// single "OK"/"ACK [...]" terminator line). MPD, like Chromecast,
// plays from a URI it fetches itself rather than accepting a raw PCM
// stream, so this sink hands off a URI and drains the chunk stream.
package mpd

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pmomusic/pmomusicd/internal/audio"
)

// Conn is the line-oriented command/response boundary a real MPD
// client implements over a TCP connection.
type Conn interface {
	Command(cmd string) (response string, err error)
}

// netConn is the default Conn over a real TCP socket.
type netConn struct {
	rw     *bufio.ReadWriter
	closer net.Conn
}

// Dial connects to an MPD server at addr (host:port) and consumes its
// greeting line.
func Dial(ctx context.Context, addr string) (Conn, error) {
	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("mpd: dial %s: %w", addr, err)
	}
	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	if _, err := rw.ReadString('\n'); err != nil { // greeting: "OK MPD <version>"
		conn.Close()
		return nil, fmt.Errorf("mpd: read greeting: %w", err)
	}
	return &netConn{rw: rw, closer: conn}, nil
}

func (c *netConn) Command(cmd string) (string, error) {
	if _, err := c.rw.WriteString(cmd + "\n"); err != nil {
		return "", err
	}
	if err := c.rw.Flush(); err != nil {
		return "", err
	}
	var lines []string
	for {
		line, err := c.rw.ReadString('\n')
		if err != nil {
			return "", err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "OK" {
			return strings.Join(lines, "\n"), nil
		}
		if strings.HasPrefix(line, "ACK ") {
			return "", fmt.Errorf("mpd: %s", line)
		}
		lines = append(lines, line)
	}
}

// Sink loads URI onto the MPD queue and plays it, then discards the
// pipeline's own chunk stream.
type Sink struct {
	Conn Conn
	URI  string

	loaded bool
}

// New constructs an MPD sink over an already-dialed Conn.
func New(c Conn, uri string) *Sink {
	return &Sink{Conn: c, URI: uri}
}

func (s *Sink) Run(ctx context.Context, in audio.Edge, _ audio.Edge) error {
	return audio.DrainSink(ctx, in,
		func(c *audio.Chunk) error {
			if !s.loaded {
				s.loaded = true
				if _, err := s.Conn.Command("clear"); err != nil {
					return err
				}
				if _, err := s.Conn.Command(fmt.Sprintf("add %q", s.URI)); err != nil {
					return err
				}
				_, err := s.Conn.Command("play")
				return err
			}
			return nil
		},
		func(m audio.SyncMarker) error {
			if m.Kind == audio.SyncEndOfStream {
				_, err := s.Conn.Command("stop")
				return err
			}
			return nil
		},
	)
}
