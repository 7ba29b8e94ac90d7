// SPDX-License-Identifier: MIT

package control

import (
	"encoding/json"
	"net/http"

	"github.com/pmomusic/pmomusicd/internal/bus"
	"github.com/pmomusic/pmomusicd/internal/log"
)

// events is the general-purpose SSE feed: every event published on
// the in-process bus is relayed to the client as it happens, or, with
// ?topic=, only the events published on exactly that topic.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// No topic: the aggregate renderer + source feed.
	var sub *bus.Subscription
	if topic := r.URL.Query().Get("topic"); topic != "" {
		sub = s.Bus.Subscribe(topic)
	} else {
		sub = s.Bus.SubscribeAll()
	}
	defer sub.Close()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			writeSSE(w, ev.Kind, ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		l := log.WithComponent("control")
		l.Warn().Err(err).Msg("marshal sse payload")
		return
	}
	_, _ = w.Write([]byte("event: " + event + "\n"))
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n\n"))
}
