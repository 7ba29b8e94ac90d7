// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/huin/goupnp"

	xglog "github.com/pmomusic/pmomusicd/internal/log"
	"github.com/pmomusic/pmomusicd/internal/renderer"
	"github.com/pmomusic/pmomusicd/internal/renderer/avtransport"
	"github.com/pmomusic/pmomusicd/internal/renderer/linkplay"
	"github.com/pmomusic/pmomusicd/internal/renderer/openhome"
	"github.com/pmomusic/pmomusicd/internal/ssdp"
)

const (
	mediaRendererURN = "urn:schemas-upnp-org:device:MediaRenderer:1"
	openhomeProduct  = "urn:av-openhome-org:service:Product:1"
	openhomePlaylist = "urn:av-openhome-org:service:Playlist:1"
	avTransportURN   = "urn:schemas-upnp-org:service:AVTransport:1"
)

// rendererDiscovery feeds SSDP sightings of playback devices into the
// renderer registry: first sighting probes the description URL and
// constructs the matching backend; re-sightings just refresh presence;
// byebye marks offline (which stops the watcher).
type rendererDiscovery struct {
	registry *renderer.Registry
	ownUDN   string

	mu      sync.Mutex
	probing map[string]bool
}

func startRendererDiscovery(ctx context.Context, registry *renderer.Registry, ownUDN string) (*ssdp.Discoverer, error) {
	rd := &rendererDiscovery{
		registry: registry,
		ownUDN:   ownUDN,
		probing:  make(map[string]bool),
	}
	d := &ssdp.Discoverer{
		SearchTargets: []string{mediaRendererURN, openhomeProduct},
		OnAlive: func(s ssdp.Sighting) {
			// Runs on the SSDP read loop; probing fetches the
			// description document, so it moves to its own goroutine.
			go rd.onAlive(ctx, s)
		},
		OnByeBye: func(s ssdp.Sighting) {
			registry.MarkOffline(s.UDN)
		},
	}
	if err := d.Start(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (rd *rendererDiscovery) onAlive(ctx context.Context, s ssdp.Sighting) {
	if s.UDN == "" || s.UDN == rd.ownUDN {
		return
	}
	if s.NT != mediaRendererURN && s.NT != openhomeProduct && s.NT != "upnp:rootdevice" {
		return
	}

	if r, ok := rd.registry.Get(s.UDN); ok {
		r.HasBeenSeenNow(ctx)
		return
	}

	rd.mu.Lock()
	if rd.probing[s.UDN] {
		rd.mu.Unlock()
		return
	}
	rd.probing[s.UDN] = true
	rd.mu.Unlock()
	defer func() {
		rd.mu.Lock()
		delete(rd.probing, s.UDN)
		rd.mu.Unlock()
	}()

	logger := xglog.WithComponent("discovery")
	name, backend, err := probeBackend(s.Location)
	if err != nil {
		logger.Debug().Err(err).Str("udn", s.UDN).Str("location", s.Location).Msg("probe failed")
		return
	}
	if backend == nil {
		return
	}
	rd.registry.Upsert(ctx, s.UDN, name, backend)
	logger.Info().Str("udn", s.UDN).Str("name", name).Str("backend", backend.Kind()).Msg("renderer registered")
}

// probeBackend fetches the device description and classifies the
// device: OpenHome playlist service wins over plain AVTransport (an
// OpenHome device usually exposes both, and the playlist semantics are
// strictly richer); LinkPlay/Arylic firmware is recognized by its
// manufacturer string and driven over its HTTP API instead of SOAP.
// A nil backend with nil error means the device is not a renderer we
// can drive.
func probeBackend(location string) (string, renderer.Backend, error) {
	root, err := goupnp.DeviceByURL(mustParseURL(location))
	if err != nil {
		return "", nil, err
	}
	dev := &root.Device
	name := dev.FriendlyName
	if name == "" {
		name = dev.ModelName
	}

	if isLinkPlay(dev) {
		if host := hostOf(location); host != "" {
			return name, linkplay.New(linkplay.NewHTTPTransport(host)), nil
		}
	}
	if len(dev.FindService(openhomePlaylist)) > 0 {
		return name, openhome.New(openhome.NewClient(dev)), nil
	}
	if len(dev.FindService(avTransportURN)) > 0 {
		return name, avtransport.New(dev), nil
	}
	return name, nil, nil
}

func isLinkPlay(dev *goupnp.Device) bool {
	for _, field := range []string{dev.Manufacturer, dev.ModelName, dev.ModelDescription} {
		f := strings.ToLower(field)
		if strings.Contains(f, "linkplay") || strings.Contains(f, "arylic") {
			return true
		}
	}
	return false
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}

func hostOf(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
