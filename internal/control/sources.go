// SPDX-License-Identifier: MIT

package control

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pmomusic/pmomusicd/internal/didl"
)

type sourceView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SupportsFIFO bool   `json:"supports_fifo"`
	UpdateID     uint64 `json:"update_id"`
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	var views []sourceView
	for _, src := range s.Sources.Sources() {
		views = append(views, sourceView{
			ID:           src.ID(),
			Name:         src.Name(),
			SupportsFIFO: src.SupportsFIFO(),
			UpdateID:     src.UpdateID(),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) sourceRoot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, src := range s.Sources.Sources() {
		if src.ID() != id {
			continue
		}
		root, err := src.RootContainer(r.Context())
		if err != nil {
			break
		}
		writeJSON(w, http.StatusOK, root)
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND")
}

func (s *Server) sourceBrowse(w http.ResponseWriter, r *http.Request) {
	objectID := r.URL.Query().Get("object_id")
	if objectID == "" {
		objectID = chi.URLParam(r, "id")
	}
	res, err := s.Sources.Browse(r.Context(), objectID, false)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) sourceResolve(w http.ResponseWriter, r *http.Request) {
	objectID := r.URL.Query().Get("object_id")
	if objectID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_ARGS")
		return
	}
	uri, err := s.Sources.ResolveURI(r.Context(), objectID)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"uri": uri})
}

// sourceItemStream is a Server-Sent Events feed pushing the DIDL-Lite
// metadata for one object_id every time its owning source's UpdateID
// advances, and at least every refreshInterval as a keepalive/retry
// floor for sources whose update callbacks don't fire per-item.
const refreshInterval = 30 * time.Second

func (s *Server) sourceItemStream(w http.ResponseWriter, r *http.Request) {
	objectID := r.URL.Query().Get("object_id")
	if objectID == "" {
		objectID = chi.URLParam(r, "id")
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func() {
		res, err := s.Sources.Browse(r.Context(), objectID, true)
		if err != nil {
			return
		}
		var obj *didl.Object
		if res.Item != nil {
			obj = res.Item
		} else if len(res.Items) > 0 {
			obj = &res.Items[0]
		} else if len(res.Containers) > 0 {
			obj = &res.Containers[0]
		}
		if obj == nil {
			return
		}
		writeSSE(w, "item", obj)
		flusher.Flush()
	}

	send()

	updates := make(chan struct{}, 1)
	for _, src := range s.Sources.Sources() {
		if strings.HasPrefix(objectID, src.ID()+":") {
			defer src.SubscribeToUpdates(func(string) {
				select {
				case updates <- struct{}{}:
				default:
				}
			})()
		}
	}

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			send()
		case <-updates:
			send()
		}
	}
}
