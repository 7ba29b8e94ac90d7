// SPDX-License-Identifier: MIT

// Package avtransport implements the UPnP AVTransport/RenderingControl
// renderer.Backend using a real SOAP client against discovered
// devices, grounded on the dsymonds/sonos reference client's
// soap-action-per-method pattern (InstanceID "0", string-encoded
// arguments, PerformActionCtx).
package avtransport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/huin/goupnp"
	"github.com/huin/goupnp/dcps/av1"
	"github.com/huin/goupnp/soap"

	"github.com/pmomusic/pmomusicd/internal/renderer"
)

const (
	renderingControlURN = "urn:schemas-upnp-org:service:RenderingControl:1"
	instanceID          = "0"
)

// Backend drives one UPnP AVTransport/RenderingControl device.
type Backend struct {
	dev *goupnp.Device

	// lastQueue is the client-side mirror of the queue this backend
	// has pushed, since AVTransport exposes only a single
	// CurrentURI/NextURI pair, not an indexable list like OpenHome.
	lastQueue renderer.QueueSnapshot
}

// New wraps a discovered goupnp.Device. Discovery itself (SSDP
// M-SEARCH for urn:schemas-upnp-org:service:AVTransport:1) is done by
// the caller via goupnp.DiscoverDevices, mirroring the sonos client.
func New(dev *goupnp.Device) *Backend {
	return &Backend{dev: dev}
}

func (b *Backend) Kind() string { return "avtransport" }

func (b *Backend) Capabilities() renderer.Capabilities {
	return renderer.Capabilities{PushNotify: false}
}

func (b *Backend) serviceClient(serviceType string) (*soap.SOAPClient, error) {
	svcs := b.dev.FindService(serviceType)
	if len(svcs) == 0 {
		return nil, fmt.Errorf("avtransport: no %s service on device", serviceType)
	}
	return svcs[0].NewSOAPClient(), nil
}

func (b *Backend) soap(ctx context.Context, serviceType, action string, in, out interface{}) error {
	sc, err := b.serviceClient(serviceType)
	if err != nil {
		return err
	}
	return sc.PerformActionCtx(ctx, serviceType, action, in, out)
}

func (b *Backend) CurrentState(ctx context.Context) (renderer.TransportState, error) {
	var resp struct {
		CurrentTransportState string
	}
	if err := b.soap(ctx, av1.URN_AVTransport_1, "GetTransportInfo", struct{ InstanceID string }{instanceID}, &resp); err != nil {
		return renderer.StateNoMedia, fmt.Errorf("avtransport: get transport info: %w", err)
	}
	switch resp.CurrentTransportState {
	case "PLAYING":
		return renderer.StatePlaying, nil
	case "PAUSED_PLAYBACK":
		return renderer.StatePaused, nil
	case "STOPPED":
		return renderer.StateStopped, nil
	case "TRANSITIONING":
		return renderer.StateTransitioning, nil
	case "NO_MEDIA_PRESENT":
		return renderer.StateNoMedia, nil
	default:
		return renderer.StateNoMedia, nil
	}
}

func (b *Backend) CurrentPosition(ctx context.Context) (renderer.Position, error) {
	var resp struct {
		Track         string
		RelTime       string
		TrackDuration string
	}
	if err := b.soap(ctx, av1.URN_AVTransport_1, "GetPositionInfo", struct{ InstanceID string }{instanceID}, &resp); err != nil {
		return renderer.Position{}, fmt.Errorf("avtransport: get position info: %w", err)
	}
	pos := renderer.Position{}
	if trackNo, err := strconv.Atoi(resp.Track); err == nil && trackNo > 0 {
		idx := trackNo - 1
		pos.TrackIndex = &idx
	}
	if d := parseUPnPDuration(resp.RelTime); d >= 0 {
		ms := d.Milliseconds()
		pos.ElapsedMs = &ms
	}
	if d := parseUPnPDuration(resp.TrackDuration); d >= 0 {
		ms := d.Milliseconds()
		pos.DurationMs = &ms
	}
	return pos, nil
}

// parseUPnPDuration parses "H+:MM:SS[.F+]", returning -1 on failure.
func parseUPnPDuration(s string) time.Duration {
	s = strings.SplitN(s, ".", 2)[0]
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return -1
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	sec, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return -1
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second
}

func (b *Backend) Volume(ctx context.Context) (float64, error) {
	var resp struct{ CurrentVolume string }
	err := b.soap(ctx, renderingControlURN, "GetVolume", struct {
		InstanceID string
		Channel    string
	}{instanceID, "Master"}, &resp)
	if err != nil {
		return 0, fmt.Errorf("avtransport: get volume: %w", err)
	}
	n, _ := strconv.Atoi(resp.CurrentVolume)
	return float64(n) / 100.0, nil
}

func (b *Backend) Mute(ctx context.Context) (bool, error) {
	var resp struct{ CurrentMute string }
	err := b.soap(ctx, renderingControlURN, "GetMute", struct {
		InstanceID string
		Channel    string
	}{instanceID, "Master"}, &resp)
	if err != nil {
		return false, fmt.Errorf("avtransport: get mute: %w", err)
	}
	return resp.CurrentMute == "1", nil
}

func (b *Backend) SetVolume(ctx context.Context, v float64) error {
	err := b.soap(ctx, renderingControlURN, "SetVolume", struct {
		InstanceID    string
		Channel       string
		DesiredVolume string
	}{instanceID, "Master", strconv.Itoa(int(v * 100))}, &struct{}{})
	if err != nil {
		return fmt.Errorf("avtransport: set volume: %w", err)
	}
	return nil
}

func (b *Backend) SetMute(ctx context.Context, m bool) error {
	desired := "0"
	if m {
		desired = "1"
	}
	err := b.soap(ctx, renderingControlURN, "SetMute", struct {
		InstanceID  string
		Channel     string
		DesiredMute string
	}{instanceID, "Master", desired}, &struct{}{})
	if err != nil {
		return fmt.Errorf("avtransport: set mute: %w", err)
	}
	return nil
}

func (b *Backend) Play(ctx context.Context) error {
	err := b.soap(ctx, av1.URN_AVTransport_1, "Play", struct {
		InstanceID string
		Speed      string
	}{instanceID, "1"}, &struct{}{})
	if err != nil {
		return fmt.Errorf("avtransport: play: %w", err)
	}
	return nil
}

func (b *Backend) Pause(ctx context.Context) error {
	err := b.soap(ctx, av1.URN_AVTransport_1, "Pause", struct{ InstanceID string }{instanceID}, &struct{}{})
	if err != nil {
		return fmt.Errorf("avtransport: pause: %w", err)
	}
	return nil
}

func (b *Backend) Stop(ctx context.Context) error {
	err := b.soap(ctx, av1.URN_AVTransport_1, "Stop", struct{ InstanceID string }{instanceID}, &struct{}{})
	if err != nil {
		return fmt.Errorf("avtransport: stop: %w", err)
	}
	return nil
}

func (b *Backend) Next(ctx context.Context) error {
	err := b.soap(ctx, av1.URN_AVTransport_1, "Next", struct{ InstanceID string }{instanceID}, &struct{}{})
	if err != nil {
		return fmt.Errorf("avtransport: next: %w", err)
	}
	return nil
}

func (b *Backend) Previous(ctx context.Context) error {
	err := b.soap(ctx, av1.URN_AVTransport_1, "Previous", struct{ InstanceID string }{instanceID}, &struct{}{})
	if err != nil {
		return fmt.Errorf("avtransport: previous: %w", err)
	}
	return nil
}

func (b *Backend) Seek(ctx context.Context, ms int64) error {
	d := time.Duration(ms) * time.Millisecond
	target := fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
	err := b.soap(ctx, av1.URN_AVTransport_1, "Seek", struct {
		InstanceID string
		Unit       string
		Target     string
	}{instanceID, "REL_TIME", target}, &struct{}{})
	if err != nil {
		return fmt.Errorf("avtransport: seek: %w", err)
	}
	return nil
}

// QueueSnapshot returns the client-side mirror of the queue this
// backend has pushed via SetAVTransportURI/AddURIToQueue: AVTransport
// itself exposes only the current URI, not an enumerable list.
func (b *Backend) QueueSnapshot(context.Context) (renderer.QueueSnapshot, error) {
	return b.lastQueue, nil
}

func (b *Backend) Enqueue(ctx context.Context, items []renderer.PlaybackItem, afterIndex *int) error {
	for _, it := range items {
		var resp struct {
			NewQueueLength string
		}
		err := b.soap(ctx, av1.URN_AVTransport_1, "AddURIToQueue", struct {
			InstanceID                      string
			EnqueuedURI                     string
			EnqueuedURIMetaData             string
			DesiredFirstTrackNumberEnqueued string
			EnqueueAsNext                   string
		}{instanceID, it.URI, "", "0", "0"}, &resp)
		if err != nil {
			return fmt.Errorf("avtransport: add uri to queue: %w", err)
		}
		b.lastQueue.Items = append(b.lastQueue.Items, it)
	}
	return nil
}

func (b *Backend) ReplaceQueue(ctx context.Context, items []renderer.PlaybackItem, startIndex int) error {
	if err := b.DeleteAll(ctx); err != nil {
		return err
	}
	if err := b.Enqueue(ctx, items, nil); err != nil {
		return err
	}
	if len(items) > 0 {
		idx := startIndex
		if idx < 0 || idx >= len(items) {
			idx = 0
		}
		if err := b.soap(ctx, av1.URN_AVTransport_1, "SetAVTransportURI", struct {
			InstanceID         string
			CurrentURI         string
			CurrentURIMetaData string
		}{instanceID, items[idx].URI, ""}, &struct{}{}); err != nil {
			return fmt.Errorf("avtransport: set av transport uri: %w", err)
		}
		b.lastQueue.CurrentIndex = &idx
	}
	return nil
}

func (b *Backend) DeleteAll(ctx context.Context) error {
	err := b.soap(ctx, av1.URN_AVTransport_1, "RemoveAllTracksFromQueue", struct{ InstanceID string }{instanceID}, &struct{}{})
	if err != nil {
		return fmt.Errorf("avtransport: remove all tracks: %w", err)
	}
	b.lastQueue = renderer.QueueSnapshot{}
	return nil
}

func (b *Backend) DeleteID(ctx context.Context, backendID uint32) error {
	err := b.soap(ctx, av1.URN_AVTransport_1, "RemoveTrackFromQueue", struct {
		InstanceID string
		ObjectID   string
	}{instanceID, strconv.FormatUint(uint64(backendID), 10)}, &struct{}{})
	if err != nil {
		return fmt.Errorf("avtransport: remove track: %w", err)
	}
	out := b.lastQueue.Items[:0]
	for _, it := range b.lastQueue.Items {
		if it.BackendID != backendID {
			out = append(out, it)
		}
	}
	b.lastQueue.Items = out
	return nil
}

// BecomeCoordinatorOfStandaloneGroup ungroups this device, reused from
// the sonos reference client's "Ungroup" operation.
func (b *Backend) BecomeCoordinatorOfStandaloneGroup(ctx context.Context) error {
	err := b.soap(ctx, av1.URN_AVTransport_1, "BecomeCoordinatorOfStandaloneGroup", struct{ InstanceID string }{instanceID}, &struct{}{})
	if err != nil {
		return fmt.Errorf("avtransport: ungroup: %w", err)
	}
	return nil
}

// ConfigureSleepTimer maps the renderer package's sleep timer feature
// onto AVTransport's native ConfigureSleepTimer action, where present,
// instead of relying purely on watcher-driven Stop.
func (b *Backend) ConfigureSleepTimer(ctx context.Context, d time.Duration) error {
	var dur string
	if d > 0 {
		hh := d / time.Hour
		d -= hh * time.Hour
		mm := d / time.Minute
		d -= mm * time.Minute
		ss := d / time.Second
		dur = fmt.Sprintf("%02d:%02d:%02d", hh, mm, ss)
	}
	err := b.soap(ctx, av1.URN_AVTransport_1, "ConfigureSleepTimer", struct {
		InstanceID            string
		NewSleepTimerDuration string
	}{instanceID, dur}, &struct{}{})
	if err != nil {
		return fmt.Errorf("avtransport: configure sleep timer: %w", err)
	}
	return nil
}
