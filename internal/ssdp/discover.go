// SPDX-License-Identifier: MIT

package ssdp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/pmomusic/pmomusicd/internal/log"
)

const (
	defaultSearchInterval = 60 * time.Second
	searchMX              = 3
)

// Sighting is one observed NOTIFY or M-SEARCH response: the device UDN
// (stripped of its "uuid:" prefix and "::<nt>" suffix), the NT/ST it
// was announced under, its description URL, and the advertised MaxAge.
type Sighting struct {
	UDN      string
	NT       string
	Location string
	Server   string
	MaxAge   time.Duration
}

// Discoverer is the control-point half of SSDP: it listens for
// ssdp:alive / ssdp:byebye notifications on the multicast group and
// periodically unicasts M-SEARCH for the configured search targets,
// feeding every sighting to the OnAlive / OnByeBye callbacks.
//
// Callbacks run on the read loop goroutine; they must not block.
type Discoverer struct {
	// SearchTargets are the ST values sent in periodic M-SEARCH
	// requests (e.g. "urn:schemas-upnp-org:device:MediaRenderer:1").
	SearchTargets []string

	// SearchInterval is the delay between M-SEARCH rounds. Zero
	// selects the default (60 s).
	SearchInterval time.Duration

	OnAlive  func(Sighting)
	OnByeBye func(Sighting)

	mu     sync.Mutex
	conn   net.PacketConn
	cancel context.CancelFunc
	done   chan struct{}
}

// Start joins the multicast group and begins the read loop and the
// periodic M-SEARCH ticker until ctx is cancelled or Stop is called.
func (d *Discoverer) Start(ctx context.Context) error {
	logger := log.WithComponent("ssdp")

	lc := &net.ListenConfig{}
	conn, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf(":%d", multicastPort))
	if err != nil {
		return fmt.Errorf("ssdp: discover listen: %w", err)
	}
	udpConn, ok := conn.(*net.UDPConn)
	if !ok {
		_ = conn.Close()
		return errors.New("ssdp: listener is not a *net.UDPConn")
	}

	pc := ipv4.NewPacketConn(udpConn)
	groupIP := net.ParseIP(multicastGroup)
	ifaces, err := net.Interfaces()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("ssdp: list interfaces: %w", err)
	}
	joined := 0
	for i := range ifaces {
		iface := &ifaces[i]
		if iface.Flags&net.FlagMulticast == 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if err := pc.JoinGroup(iface, &net.UDPAddr{IP: groupIP}); err != nil {
			continue
		}
		joined++
	}
	if joined == 0 {
		_ = conn.Close()
		return errors.New("ssdp: no multicast-capable interface joined")
	}

	runCtx, cancel := context.WithCancel(ctx)

	d.mu.Lock()
	d.conn = conn
	d.cancel = cancel
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.readLoop(runCtx)
	go d.searchLoop(runCtx)

	logger.Info().Int("interfaces", joined).Msg("ssdp discovery listening")
	return nil
}

// Stop cancels the loops and closes the socket.
func (d *Discoverer) Stop() {
	d.mu.Lock()
	cancel, conn, done := d.cancel, d.conn, d.done
	d.cancel, d.conn, d.done = nil, nil, nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if conn != nil {
		_ = conn.Close()
	}
}

func (d *Discoverer) readLoop(ctx context.Context) {
	d.mu.Lock()
	conn, done := d.conn, d.done
	d.mu.Unlock()
	defer close(done)

	buf := make([]byte, readBufSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			return
		}
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}
		d.handleMessage(string(buf[:n]))
	}
}

func (d *Discoverer) handleMessage(msg string) {
	switch {
	case strings.HasPrefix(msg, "NOTIFY"):
		nts := parseHeader(msg, "NTS")
		s := sightingFrom(msg, parseHeader(msg, "NT"))
		if s.UDN == "" {
			return
		}
		switch nts {
		case "ssdp:alive":
			if d.OnAlive != nil {
				d.OnAlive(s)
			}
		case "ssdp:byebye":
			if d.OnByeBye != nil {
				d.OnByeBye(s)
			}
		}
	case strings.HasPrefix(msg, "HTTP/1.1 200"):
		// Unicast M-SEARCH response; the NT equivalent is ST.
		s := sightingFrom(msg, parseHeader(msg, "ST"))
		if s.UDN == "" {
			return
		}
		if d.OnAlive != nil {
			d.OnAlive(s)
		}
	}
}

func sightingFrom(msg, nt string) Sighting {
	return Sighting{
		UDN:      udnFromUSN(parseHeader(msg, "USN")),
		NT:       nt,
		Location: parseHeader(msg, "LOCATION"),
		Server:   parseHeader(msg, "SERVER"),
		MaxAge:   maxAgeFrom(parseHeader(msg, "CACHE-CONTROL")),
	}
}

// udnFromUSN extracts the bare UDN from "uuid:<udn>::<nt>" (or
// "uuid:<udn>" when the USN carries no NT suffix).
func udnFromUSN(usn string) string {
	usn = strings.TrimPrefix(usn, "uuid:")
	if i := strings.Index(usn, "::"); i >= 0 {
		usn = usn[:i]
	}
	return usn
}

func maxAgeFrom(cacheControl string) time.Duration {
	for _, part := range strings.Split(cacheControl, ",") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, "max-age="); ok {
			if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return defaultMaxAge
}

func (d *Discoverer) searchLoop(ctx context.Context) {
	interval := d.SearchInterval
	if interval <= 0 {
		interval = defaultSearchInterval
	}

	d.sendSearches()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sendSearches()
		}
	}
}

func (d *Discoverer) sendSearches() {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return
	}

	dst := &net.UDPAddr{IP: net.ParseIP(multicastGroup), Port: multicastPort}
	for _, st := range d.SearchTargets {
		msg := "M-SEARCH * HTTP/1.1\r\n" +
			fmt.Sprintf("HOST: %s:%d\r\n", multicastGroup, multicastPort) +
			"MAN: \"ssdp:discover\"\r\n" +
			fmt.Sprintf("MX: %d\r\n", searchMX) +
			fmt.Sprintf("ST: %s\r\n", st) +
			"\r\n"
		if _, err := conn.WriteTo([]byte(msg), dst); err != nil {
			l := log.WithComponent("ssdp")
			l.Warn().Err(err).Str("st", st).Msg("m-search send")
		}
	}
}
