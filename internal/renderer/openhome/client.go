// SPDX-License-Identifier: MIT

package openhome

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/huin/goupnp"
	"github.com/huin/goupnp/soap"
)

// OpenHome service URNs. goupnp's generated dcps bindings cover only
// the schemas-upnp-org families, so these clients go through the
// generic SOAPClient the same way the avtransport backend does.
const (
	playlistURN = "urn:av-openhome-org:service:Playlist:1"
	volumeURN   = "urn:av-openhome-org:service:Volume:1"
	timeURN     = "urn:av-openhome-org:service:Time:1"
)

// Client implements Transport against a discovered OpenHome device.
type Client struct {
	dev *goupnp.Device
}

// NewClient wraps a discovered goupnp.Device exposing the OpenHome
// Playlist/Volume/Time services.
func NewClient(dev *goupnp.Device) *Client {
	return &Client{dev: dev}
}

func (c *Client) soap(ctx context.Context, serviceType, action string, in, out interface{}) error {
	svcs := c.dev.FindService(serviceType)
	if len(svcs) == 0 {
		return fmt.Errorf("openhome: no %s service on device", serviceType)
	}
	return svcs[0].NewSOAPClient().PerformActionCtx(ctx, serviceType, action, in, out)
}

func (c *Client) PlaylistRead(ctx context.Context) ([]uint32, uint32, error) {
	var idArray struct{ Token, Array string }
	if err := c.soap(ctx, playlistURN, "IdArray", struct{}{}, &idArray); err != nil {
		return nil, 0, fmt.Errorf("openhome: id array: %w", err)
	}
	ids, err := decodeIDArray(idArray.Array)
	if err != nil {
		return nil, 0, err
	}
	var cur struct{ Value string }
	if err := c.soap(ctx, playlistURN, "Id", struct{}{}, &cur); err != nil {
		return nil, 0, fmt.Errorf("openhome: current id: %w", err)
	}
	n, _ := strconv.ParseUint(cur.Value, 10, 32)
	return ids, uint32(n), nil
}

// decodeIDArray unpacks OpenHome's base64-encoded big-endian uint32
// array of playlist ids.
func decodeIDArray(b64 string) ([]uint32, error) {
	raw, err := soap.UnmarshalBinBase64(strings.TrimSpace(b64))
	if err != nil {
		return nil, fmt.Errorf("openhome: decode id array: %w", err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("openhome: id array length %d not a multiple of 4", len(raw))
	}
	ids := make([]uint32, 0, len(raw)/4)
	for i := 0; i+4 <= len(raw); i += 4 {
		ids = append(ids, uint32(raw[i])<<24|uint32(raw[i+1])<<16|uint32(raw[i+2])<<8|uint32(raw[i+3]))
	}
	return ids, nil
}

func (c *Client) PlaylistReadItem(ctx context.Context, id uint32) (string, string, error) {
	var resp struct{ Uri, Metadata string }
	err := c.soap(ctx, playlistURN, "Read", struct{ Id string }{formatID(id)}, &resp)
	if err != nil {
		return "", "", fmt.Errorf("openhome: read item %d: %w", id, err)
	}
	return resp.Uri, resp.Metadata, nil
}

func (c *Client) PlaylistInsert(ctx context.Context, afterID uint32, uri, didl string) (uint32, error) {
	var resp struct{ NewId string }
	err := c.soap(ctx, playlistURN, "Insert", struct{ AfterId, Uri, Metadata string }{formatID(afterID), uri, didl}, &resp)
	if err != nil {
		return 0, fmt.Errorf("openhome: insert: %w", err)
	}
	n, err := strconv.ParseUint(resp.NewId, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("openhome: insert returned id %q: %w", resp.NewId, err)
	}
	return uint32(n), nil
}

func (c *Client) PlaylistDeleteID(ctx context.Context, id uint32) error {
	return c.soap(ctx, playlistURN, "DeleteId", struct{ Value string }{formatID(id)}, &struct{}{})
}

func (c *Client) PlaylistDeleteAll(ctx context.Context) error {
	return c.soap(ctx, playlistURN, "DeleteAll", struct{}{}, &struct{}{})
}

func (c *Client) PlaylistSeekID(ctx context.Context, id uint32) error {
	return c.soap(ctx, playlistURN, "SeekId", struct{ Value string }{formatID(id)}, &struct{}{})
}

func (c *Client) TransportState(ctx context.Context) (string, error) {
	var resp struct{ Value string }
	if err := c.soap(ctx, playlistURN, "TransportState", struct{}{}, &resp); err != nil {
		return "", fmt.Errorf("openhome: transport state: %w", err)
	}
	return resp.Value, nil
}

func (c *Client) Play(ctx context.Context) error {
	return c.soap(ctx, playlistURN, "Play", struct{}{}, &struct{}{})
}

func (c *Client) Pause(ctx context.Context) error {
	return c.soap(ctx, playlistURN, "Pause", struct{}{}, &struct{}{})
}

func (c *Client) Stop(ctx context.Context) error {
	return c.soap(ctx, playlistURN, "Stop", struct{}{}, &struct{}{})
}

func (c *Client) Seek(ctx context.Context, ms int64) error {
	secs := strconv.FormatInt(ms/1000, 10)
	return c.soap(ctx, playlistURN, "SeekSecondAbsolute", struct{ Value string }{secs}, &struct{}{})
}

func (c *Client) Time(ctx context.Context) (int64, int64, error) {
	var resp struct{ TrackCount, Duration, Seconds string }
	if err := c.soap(ctx, timeURN, "Time", struct{}{}, &resp); err != nil {
		return 0, 0, fmt.Errorf("openhome: time: %w", err)
	}
	elapsed, _ := strconv.ParseInt(resp.Seconds, 10, 64)
	duration, _ := strconv.ParseInt(resp.Duration, 10, 64)
	return elapsed * int64(time.Second/time.Millisecond), duration * int64(time.Second/time.Millisecond), nil
}

func (c *Client) Volume(ctx context.Context) (int, error) {
	var resp struct{ Value string }
	if err := c.soap(ctx, volumeURN, "Volume", struct{}{}, &resp); err != nil {
		return 0, fmt.Errorf("openhome: volume: %w", err)
	}
	n, _ := strconv.Atoi(resp.Value)
	return n, nil
}

func (c *Client) SetVolume(ctx context.Context, v int) error {
	return c.soap(ctx, volumeURN, "SetVolume", struct{ Value string }{strconv.Itoa(v)}, &struct{}{})
}

func (c *Client) Mute(ctx context.Context) (bool, error) {
	var resp struct{ Value string }
	if err := c.soap(ctx, volumeURN, "Mute", struct{}{}, &resp); err != nil {
		return false, fmt.Errorf("openhome: mute: %w", err)
	}
	return resp.Value == "1" || strings.EqualFold(resp.Value, "true"), nil
}

func (c *Client) SetMute(ctx context.Context, m bool) error {
	v := "0"
	if m {
		v = "1"
	}
	return c.soap(ctx, volumeURN, "SetMute", struct{ Value string }{v}, &struct{}{})
}

func formatID(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}
