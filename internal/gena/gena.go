// SPDX-License-Identifier: MIT

// Package gena implements the General Event Notification Architecture:
// per-service subscriber tables, SID issuance/renewal, and the batched
// NOTIFY worker that fans out property-change events with strictly
// increasing sequence numbers.
package gena

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pmomusic/pmomusicd/internal/log"
	"github.com/pmomusic/pmomusicd/internal/telemetry"
)

var (
	ErrUnknownSID    = errors.New("gena: unknown SID")
	ErrInvalidHeader = errors.New("gena: invalid subscribe headers")
)

const maxConsecutiveFailures = 3

// Subscriber tracks one GENA subscription.
type Subscriber struct {
	SID         string
	CallbackURL string
	Timeout     time.Duration
	ExpiresAt   time.Time

	mu          sync.Mutex
	seq         uint32
	failures    int
}

// Service manages the subscriber table and change buffer for a single
// UPnP service instance.
type Service struct {
	mu          sync.Mutex
	subscribers map[string]*Subscriber
	pending     map[string]string // variable name -> last value, since last flush
	client      *http.Client

	// InitialState is invoked on SUBSCRIBE to build the first event,
	// which MUST be the union of every event-emitting variable's
	// current value.
	InitialState func() map[string]string
}

// NewService constructs an empty GENA service event table.
func NewService(client *http.Client) *Service {
	if client == nil {
		client = http.DefaultClient
	}
	return &Service{
		subscribers: make(map[string]*Subscriber),
		pending:     make(map[string]string),
		client:      client,
	}
}

// Subscribe creates a new SID (SUBSCRIBE without SID header) or renews
// an existing one (SUBSCRIBE with SID header), returning the
// subscriber's SID and effective timeout.
func (s *Service) Subscribe(existingSID, callbackURL string, timeout time.Duration) (*Subscriber, error) {
	if timeout <= 0 {
		timeout = 1800 * time.Second
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existingSID != "" {
		sub, ok := s.subscribers[existingSID]
		if !ok {
			return nil, ErrUnknownSID
		}
		sub.Timeout = timeout
		sub.ExpiresAt = time.Now().Add(timeout)
		return sub, nil
	}

	if callbackURL == "" {
		return nil, fmt.Errorf("%w: missing callback URL", ErrInvalidHeader)
	}

	sub := &Subscriber{
		SID:         "uuid:" + uuid.NewString(),
		CallbackURL: callbackURL,
		Timeout:     timeout,
		ExpiresAt:   time.Now().Add(timeout),
	}
	s.subscribers[sub.SID] = sub

	if s.InitialState != nil {
		initial := s.InitialState()
		go s.notifyOne(sub, initial)
	}

	return sub, nil
}

// Unsubscribe removes a SID.
func (s *Service) Unsubscribe(sid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[sid]; !ok {
		return ErrUnknownSID
	}
	delete(s.subscribers, sid)
	return nil
}

// RecordChange buffers a variable's new value for the next flush.
func (s *Service) RecordChange(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[name] = value
}

// FlushLoop drains the change buffer every interval and fans out one
// NOTIFY per subscriber, until ctx is cancelled.
func (s *Service) FlushLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.flush()
		}
	}
}

func (s *Service) flush() {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	changed := s.pending
	s.pending = make(map[string]string)
	subs := make([]*Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		s.notifyOne(sub, changed)
	}
}

func (s *Service) notifyOne(sub *Subscriber, values map[string]string) {
	sub.mu.Lock()
	seq := sub.seq
	sub.seq++
	sub.mu.Unlock()

	body := buildPropertySet(values)
	req, err := http.NewRequest("NOTIFY", sub.CallbackURL, strings.NewReader(body))
	if err != nil {
		l := log.WithComponent("gena")
		l.Warn().Err(err).Str("sid", sub.SID).Msg("build notify request")
		return
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("NTS", "upnp:propchange")
	req.Header.Set("SID", sub.SID)
	req.Header.Set("SEQ", strconv.FormatUint(uint64(seq), 10))

	resp, err := s.client.Do(req)
	failed := err != nil || resp == nil || resp.StatusCode >= 300
	telemetry.CountGENANotify(req.Context(), failed)
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if failed {
		sub.failures++
		l := log.WithComponent("gena")
		l.Debug().
			Str("sid", sub.SID).Int("failures", sub.failures).
			Msg("notify delivery failed")
		if sub.failures >= maxConsecutiveFailures {
			s.removeAfterFailures(sub.SID)
		}
		return
	}
	_ = resp.Body.Close()
	sub.failures = 0
}

func (s *Service) removeAfterFailures(sid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, sid)
}

func buildPropertySet(values map[string]string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?>`)
	b.WriteString(`<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0">`)
	for name, val := range values {
		b.WriteString(`<e:property>`)
		b.WriteString("<" + name + ">")
		b.WriteString(val)
		b.WriteString("</" + name + ">")
		b.WriteString(`</e:property>`)
	}
	b.WriteString(`</e:propertyset>`)
	return b.String()
}
