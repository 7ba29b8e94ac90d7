// SPDX-License-Identifier: MIT

// Package natsbus implements an optional cross-process backend for
// internal/bus's topic/event model, for multi-process PMOMusic
// deployments where renderer/source events must fan out beyond one
// daemon. It is not the default: internal/bus.Bus (in-process,
// bounded, drop-oldest) is what every single-instance component
// publishes to; Bridge sends the events its caller hands to Forward
// onto a NATS subject and republishes inbound NATS messages from other
// nodes onto the same in-process bus, so subscribers never need to know
// which transport originated an event.
package natsbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pmomusic/pmomusicd/internal/bus"
	"github.com/pmomusic/pmomusicd/internal/log"
)

const subjectPrefix = "pmomusic.events."

// wireEvent is the JSON shape published/consumed over NATS. Payload
// carries whatever the original bus.Event.Payload marshalled to;
// consumers on the other side only need Topic/Kind to route it and
// typically re-wrap Payload as a map[string]any, since the original
// Go type isn't preserved across the wire.
type wireEvent struct {
	Node    string `json:"node"`
	Topic   string `json:"topic"`
	Kind    string `json:"kind"`
	Payload any    `json:"payload"`
}

// Bridge mirrors a local *bus.Bus onto NATS and back.
type Bridge struct {
	local *bus.Bus
	nc    *nats.Conn
	node  string

	sub *nats.Subscription
}

// Connect dials url and wires a bridge between local and the NATS
// subject space: it subscribes to the NATS event subjects and
// republishes inbound messages from other nodes onto local. Local
// events reach NATS only through Forward. nodeID tags forwarded events
// so a bridge does not re-publish its own events back to itself.
func Connect(url, nodeID string, local *bus.Bus) (*Bridge, error) {
	nc, err := nats.Connect(url,
		nats.Name(fmt.Sprintf("pmomusicd-%s", nodeID)),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("natsbus: connect %s: %w", url, err)
	}

	br := &Bridge{local: local, nc: nc, node: nodeID}

	sub, err := nc.Subscribe(subjectPrefix+">", br.handleInbound)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("natsbus: subscribe: %w", err)
	}
	br.sub = sub
	return br, nil
}

// Close unsubscribes and closes the NATS connection.
func (b *Bridge) Close() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	b.nc.Close()
}

// Forward publishes ev onto NATS for other nodes to pick up; the
// caller is expected to have already published ev onto the local bus
// itself (Forward does not loop it back locally).
func (b *Bridge) Forward(ev bus.Event) {
	we := wireEvent{Node: b.node, Topic: ev.Topic, Kind: ev.Kind, Payload: ev.Payload}
	data, err := json.Marshal(we)
	l := log.WithComponent("natsbus")
	if err != nil {
		l.Warn().Err(err).Str("topic", ev.Topic).Msg("marshal event for nats forward")
		return
	}
	if err := b.nc.Publish(subjectPrefix+ev.Topic, data); err != nil {
		l.Warn().Err(err).Str("topic", ev.Topic).Msg("publish to nats")
	}
}

func (b *Bridge) handleInbound(msg *nats.Msg) {
	var we wireEvent
	if err := json.Unmarshal(msg.Data, &we); err != nil {
		l := log.WithComponent("natsbus")
		l.Warn().Err(err).Msg("unmarshal inbound nats event")
		return
	}
	if we.Node == b.node {
		return
	}
	b.local.Publish(bus.Event{Topic: we.Topic, Kind: we.Kind, Payload: we.Payload})
}
