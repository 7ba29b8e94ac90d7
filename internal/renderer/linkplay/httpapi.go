// SPDX-License-Identifier: MIT

package linkplay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/pmomusic/pmomusicd/internal/platform/httpx"
)

// HTTPTransport implements Transport against a real LinkPlay/Arylic
// device's httpapi.asp endpoint. The firmware exposes transport and
// volume commands plus a single-URI play command; it has no
// device-side indexable queue, so like the avtransport backend this
// transport mirrors the queue client-side and feeds the device one
// URI at a time.
type HTTPTransport struct {
	base   string // "http://<host>"
	client *http.Client

	mu      sync.Mutex
	queue   []QueueItem
	current int
	nextID  uint32
}

// NewHTTPTransport builds a transport for the device at host
// (hostname or host:port).
func NewHTTPTransport(host string) *HTTPTransport {
	return &HTTPTransport{
		base:    "http://" + host,
		client:  httpx.NewClient(10 * time.Second),
		current: -1,
		nextID:  1,
	}
}

// playerStatusWire is the raw getPlayerStatus payload; the firmware
// encodes every numeric field as a string.
type playerStatusWire struct {
	Status string `json:"status"` // "play", "pause", "stop", "load"
	Curpos string `json:"curpos"` // elapsed ms
	Totlen string `json:"totlen"` // duration ms
	Vol    string `json:"vol"`
	Mute   string `json:"mute"`
}

func (t *HTTPTransport) command(ctx context.Context, cmd string) ([]byte, error) {
	u := t.base + "/httpapi.asp?command=" + url.QueryEscape(cmd)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("linkplay: build request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("linkplay: %s: %w", cmd, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("linkplay: %s: status %d", cmd, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("linkplay: read response: %w", err)
	}
	return body, nil
}

func (t *HTTPTransport) Status(ctx context.Context) (PlayerStatus, error) {
	body, err := t.command(ctx, "getPlayerStatus")
	if err != nil {
		return PlayerStatus{}, err
	}
	var w playerStatusWire
	if err := json.Unmarshal(body, &w); err != nil {
		return PlayerStatus{}, fmt.Errorf("linkplay: decode status: %w", err)
	}
	elapsed, _ := strconv.ParseInt(w.Curpos, 10, 64)
	duration, _ := strconv.ParseInt(w.Totlen, 10, 64)
	vol, _ := strconv.Atoi(w.Vol)

	t.mu.Lock()
	cur := t.current
	t.mu.Unlock()

	return PlayerStatus{
		State:      w.Status,
		CurIndex:   cur,
		ElapsedMs:  elapsed,
		DurationMs: duration,
		VolumePct:  vol,
		Muted:      w.Mute == "1",
	}, nil
}

func (t *HTTPTransport) Queue(ctx context.Context) ([]QueueItem, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]QueueItem, len(t.queue))
	copy(out, t.queue)
	return out, nil
}

func (t *HTTPTransport) Play(ctx context.Context) error {
	t.mu.Lock()
	var uri string
	if t.current >= 0 && t.current < len(t.queue) {
		uri = t.queue[t.current].URI
	}
	t.mu.Unlock()
	if uri != "" {
		_, err := t.command(ctx, "setPlayerCmd:play:"+uri)
		return err
	}
	_, err := t.command(ctx, "setPlayerCmd:resume")
	return err
}

func (t *HTTPTransport) Pause(ctx context.Context) error {
	_, err := t.command(ctx, "setPlayerCmd:pause")
	return err
}

func (t *HTTPTransport) Stop(ctx context.Context) error {
	_, err := t.command(ctx, "setPlayerCmd:stop")
	return err
}

func (t *HTTPTransport) Next(ctx context.Context) error { return t.step(ctx, 1) }

func (t *HTTPTransport) Previous(ctx context.Context) error { return t.step(ctx, -1) }

func (t *HTTPTransport) step(ctx context.Context, delta int) error {
	t.mu.Lock()
	idx := t.current + delta
	if idx < 0 || idx >= len(t.queue) {
		t.mu.Unlock()
		return fmt.Errorf("linkplay: no track at index %d", idx)
	}
	t.current = idx
	uri := t.queue[idx].URI
	t.mu.Unlock()
	_, err := t.command(ctx, "setPlayerCmd:play:"+uri)
	return err
}

func (t *HTTPTransport) Seek(ctx context.Context, ms int64) error {
	_, err := t.command(ctx, "setPlayerCmd:seek:"+strconv.FormatInt(ms/1000, 10))
	return err
}

func (t *HTTPTransport) SetVolume(ctx context.Context, pct int) error {
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}
	_, err := t.command(ctx, "setPlayerCmd:vol:"+strconv.Itoa(pct))
	return err
}

func (t *HTTPTransport) SetMute(ctx context.Context, m bool) error {
	v := "0"
	if m {
		v = "1"
	}
	_, err := t.command(ctx, "setPlayerCmd:mute:"+v)
	return err
}

func (t *HTTPTransport) assignID(it QueueItem) QueueItem {
	if it.BackendID == 0 {
		it.BackendID = t.nextID
		t.nextID++
	}
	return it
}

func (t *HTTPTransport) Enqueue(ctx context.Context, items []QueueItem, afterIndex *int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos := len(t.queue)
	if afterIndex != nil && *afterIndex >= -1 && *afterIndex < len(t.queue) {
		pos = *afterIndex + 1
	}
	withIDs := make([]QueueItem, 0, len(items))
	for _, it := range items {
		withIDs = append(withIDs, t.assignID(it))
	}
	t.queue = append(t.queue[:pos:pos], append(withIDs, t.queue[pos:]...)...)
	if t.current >= pos {
		t.current += len(withIDs)
	}
	return nil
}

func (t *HTTPTransport) ReplaceQueue(ctx context.Context, items []QueueItem, startIndex int) error {
	t.mu.Lock()
	t.queue = t.queue[:0]
	for _, it := range items {
		t.queue = append(t.queue, t.assignID(it))
	}
	if startIndex < 0 || startIndex >= len(t.queue) {
		startIndex = 0
	}
	var uri string
	if len(t.queue) > 0 {
		t.current = startIndex
		uri = t.queue[startIndex].URI
	} else {
		t.current = -1
	}
	t.mu.Unlock()

	if uri == "" {
		return nil
	}
	_, err := t.command(ctx, "setPlayerCmd:play:"+uri)
	return err
}

func (t *HTTPTransport) DeleteAll(ctx context.Context) error {
	t.mu.Lock()
	t.queue = nil
	t.current = -1
	t.mu.Unlock()
	_, err := t.command(ctx, "setPlayerCmd:stop")
	return err
}

func (t *HTTPTransport) DeleteID(ctx context.Context, backendID uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, it := range t.queue {
		if it.BackendID == backendID {
			t.queue = append(t.queue[:i], t.queue[i+1:]...)
			switch {
			case t.current > i:
				t.current--
			case t.current == i && t.current >= len(t.queue):
				t.current = len(t.queue) - 1
			}
			return nil
		}
	}
	return fmt.Errorf("linkplay: no queue item with id %d", backendID)
}
