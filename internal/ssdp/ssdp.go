// SPDX-License-Identifier: MIT

// Package ssdp implements the multicast discovery half of the UPnP
// transport: device alive/byebye announcements, M-SEARCH response, and
// the periodic alive beacon.
package ssdp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/time/rate"

	"github.com/pmomusic/pmomusicd/internal/log"
)

const (
	multicastGroup = "239.255.255.250"
	multicastPort  = 1900

	defaultMaxAge = 1800 * time.Second
	readBufSize   = 2048
	readDeadline  = time.Second
)

// Device is a minimal SSDP-announceable device: a UDN, the notification
// types it advertises (device type plus each service type, per UPnP
// convention), and the URL of its description document.
type Device struct {
	UDN               string
	Location          string
	Server            string
	NotificationTypes []string
	MaxAge            time.Duration
}

func (d Device) usn(nt string) string {
	if nt == "upnp:rootdevice" || nt == d.UDN {
		return fmt.Sprintf("uuid:%s::%s", d.UDN, nt)
	}
	return fmt.Sprintf("uuid:%s::%s", d.UDN, nt)
}

// Server runs the SSDP multicast listener and announcer for a set of
// locally hosted devices.
type Server struct {
	mu      sync.RWMutex
	devices map[string]Device // UDN -> Device

	conn   net.PacketConn
	pc     *ipv4.PacketConn
	cancel context.CancelFunc
	done   chan struct{}

	// searchLimiter caps M-SEARCH response bursts so a network full of
	// active control points can't turn discovery into a multicast storm.
	searchLimiter *rate.Limiter
}

// NewServer constructs an idle SSDP server. Call Start to join the
// multicast group and begin serving.
func NewServer() *Server {
	return &Server{
		devices:       make(map[string]Device),
		searchLimiter: rate.NewLimiter(10, 30),
	}
}

// AddDevice registers a device and immediately sends one NOTIFY
// ssdp:alive per advertised NT.
func (s *Server) AddDevice(d Device) {
	if d.MaxAge <= 0 {
		d.MaxAge = defaultMaxAge
	}

	s.mu.Lock()
	s.devices[d.UDN] = d
	s.mu.Unlock()

	s.announceAlive(d)
}

// RemoveDevice sends one NOTIFY ssdp:byebye per NT and forgets the device.
func (s *Server) RemoveDevice(udn string) {
	s.mu.Lock()
	d, ok := s.devices[udn]
	delete(s.devices, udn)
	s.mu.Unlock()

	if ok {
		s.announceByeBye(d)
	}
}

// Start joins the SSDP multicast group on every multicast-capable
// interface, then begins serving M-SEARCH requests and the periodic
// alive beacon until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	logger := log.WithComponent("ssdp")

	lc := &net.ListenConfig{}
	conn, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf(":%d", multicastPort))
	if err != nil {
		return fmt.Errorf("ssdp: listen: %w", err)
	}

	udpConn, ok := conn.(*net.UDPConn)
	if !ok {
		_ = conn.Close()
		return errors.New("ssdp: listener is not a *net.UDPConn")
	}
	if err := udpConn.SetReadBuffer(readBufSize * 4); err != nil {
		logger.Warn().Err(err).Msg("set read buffer")
	}

	pc := ipv4.NewPacketConn(udpConn)
	if err := pc.SetMulticastTTL(2); err != nil {
		logger.Warn().Err(err).Msg("set multicast ttl")
	}
	if err := pc.SetMulticastLoopback(true); err != nil {
		logger.Warn().Err(err).Msg("set multicast loopback")
	}

	groupIP := net.ParseIP(multicastGroup)
	ifaces, err := net.Interfaces()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("ssdp: list interfaces: %w", err)
	}

	joined := 0
	for i := range ifaces {
		iface := ifaces[i]
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := pc.JoinGroup(&iface, &net.UDPAddr{IP: groupIP}); err != nil {
			logger.Debug().Err(err).Str("interface", iface.Name).Msg("join multicast group")
			continue
		}
		joined++
	}
	if joined == 0 {
		logger.Warn().Msg("joined multicast group on no interface, discovery will not work")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.conn = conn
	s.pc = pc
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.serve(runCtx)
	go s.beacon(runCtx)

	logger.Info().Int("interfaces_joined", joined).Msg("ssdp server started")
	return nil
}

// Stop sends byebye for every registered device and closes the socket.
func (s *Server) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	conn := s.conn
	done := s.done
	devices := make([]Device, 0, len(s.devices))
	for _, d := range s.devices {
		devices = append(devices, d)
	}
	s.mu.RUnlock()

	for _, d := range devices {
		s.announceByeBye(d)
	}

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

func (s *Server) serve(ctx context.Context) {
	defer close(s.done)

	buf := make([]byte, readBufSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			return
		}
		n, addr, err := s.conn.ReadFrom(buf)
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

		msg := string(buf[:n])
		if !strings.HasPrefix(msg, "M-SEARCH") {
			continue
		}
		st := parseHeader(msg, "ST")
		if st == "" {
			continue
		}
		if !s.searchLimiter.Allow() {
			continue
		}
		s.respondToSearch(st, addr)
	}
}

func (s *Server) respondToSearch(st string, addr net.Addr) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.devices {
		if st == "ssdp:all" {
			for _, nt := range d.NotificationTypes {
				s.sendSearchResponse(d, nt, addr)
			}
			continue
		}
		for _, nt := range d.NotificationTypes {
			if nt == st {
				s.sendSearchResponse(d, nt, addr)
			}
		}
	}
}

func buildSearchResponse(d Device, nt string) string {
	return fmt.Sprintf(
		"HTTP/1.1 200 OK\r\n"+
			"CACHE-CONTROL: max-age=%d\r\n"+
			"EXT:\r\n"+
			"LOCATION: %s\r\n"+
			"SERVER: %s\r\n"+
			"ST: %s\r\n"+
			"USN: %s\r\n"+
			"\r\n",
		int(d.MaxAge.Seconds()), d.Location, d.Server, nt, d.usn(nt))
}

func (s *Server) sendSearchResponse(d Device, nt string, addr net.Addr) {
	msg := buildSearchResponse(d, nt)
	if _, err := s.conn.WriteTo([]byte(msg), addr); err != nil {
		l := log.WithComponent("ssdp")
		l.Debug().Err(err).Msg("write search response")
	}
}

func (s *Server) beacon(ctx context.Context) {
	ticker := time.NewTicker(defaultMaxAge / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.RLock()
			devices := make([]Device, 0, len(s.devices))
			for _, d := range s.devices {
				devices = append(devices, d)
			}
			s.mu.RUnlock()
			for _, d := range devices {
				s.announceAlive(d)
			}
		}
	}
}

func (s *Server) announceAlive(d Device) {
	for _, nt := range d.NotificationTypes {
		msg := fmt.Sprintf(
			"NOTIFY * HTTP/1.1\r\n"+
				"HOST: %s:%d\r\n"+
				"CACHE-CONTROL: max-age=%d\r\n"+
				"LOCATION: %s\r\n"+
				"NT: %s\r\n"+
				"NTS: ssdp:alive\r\n"+
				"SERVER: %s\r\n"+
				"USN: %s\r\n"+
				"\r\n",
			multicastGroup, multicastPort, int(d.MaxAge.Seconds()), d.Location, nt, d.Server, d.usn(nt))
		s.multicast(msg)
	}
}

func (s *Server) announceByeBye(d Device) {
	for _, nt := range d.NotificationTypes {
		msg := fmt.Sprintf(
			"NOTIFY * HTTP/1.1\r\n"+
				"HOST: %s:%d\r\n"+
				"NT: %s\r\n"+
				"NTS: ssdp:byebye\r\n"+
				"USN: %s\r\n"+
				"\r\n",
			multicastGroup, multicastPort, nt, d.usn(nt))
		s.multicast(msg)
	}
}

func (s *Server) multicast(msg string) {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return
	}
	dst := &net.UDPAddr{IP: net.ParseIP(multicastGroup), Port: multicastPort}
	if _, err := conn.WriteTo([]byte(msg), dst); err != nil {
		l := log.WithComponent("ssdp")
		l.Debug().Err(err).Msg("multicast send")
	}
}

func parseHeader(msg, name string) string {
	for _, line := range strings.Split(msg, "\r\n") {
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		if strings.EqualFold(key, name) {
			return strings.TrimSpace(line[idx+1:])
		}
	}
	return ""
}
