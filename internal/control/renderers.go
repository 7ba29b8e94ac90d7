// SPDX-License-Identifier: MIT

package control

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pmomusic/pmomusicd/internal/renderer"
)

type rendererView struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Kind    string  `json:"kind"`
	State   string  `json:"state"`
	Volume  float64 `json:"volume"`
	Online  bool    `json:"online"`
}

func (s *Server) listRenderers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var views []rendererView
	for _, rend := range s.Registry.List() {
		state, _ := rend.Backend.CurrentState(ctx)
		vol, _ := rend.Backend.Volume(ctx)
		views = append(views, rendererView{
			ID:     rend.ID,
			Name:   rend.Name,
			Kind:   rend.Backend.Kind(),
			State:  state.String(),
			Volume: vol,
			Online: rend.IsOnline(),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) lookupRenderer(w http.ResponseWriter, r *http.Request) (*renderer.Renderer, bool) {
	id := chi.URLParam(r, "id")
	rend, ok := s.Registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND")
		return nil, false
	}
	return rend, true
}

// rendererTransport dispatches one of the no-argument transport verbs
// (play/pause/stop/next/previous) by name.
func (s *Server) rendererTransport(verb string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rend, ok := s.lookupRenderer(w, r)
		if !ok {
			return
		}
		ctx := r.Context()
		var err error
		switch verb {
		case "play":
			err = rend.Play(ctx)
		case "pause":
			err = rend.Pause(ctx)
		case "stop":
			err = rend.Stop(ctx)
		case "next":
			err = rend.Next(ctx)
		case "previous":
			err = rend.Previous(ctx)
		}
		writeActionResult(w, err)
	}
}

func (s *Server) rendererSeek(w http.ResponseWriter, r *http.Request) {
	rend, ok := s.lookupRenderer(w, r)
	if !ok {
		return
	}
	var body struct {
		PositionMs int64 `json:"position_ms"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	writeActionResult(w, rend.Seek(r.Context(), body.PositionMs))
}

func (s *Server) rendererSetVolume(w http.ResponseWriter, r *http.Request) {
	rend, ok := s.lookupRenderer(w, r)
	if !ok {
		return
	}
	var body struct {
		Volume float64 `json:"volume"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	writeActionResult(w, rend.SetVolume(r.Context(), body.Volume))
}

type queueItemView struct {
	BackendID uint32 `json:"backend_id"`
	URI       string `json:"uri"`
	DidlID    string `json:"didl_id"`
}

type queueSnapshotView struct {
	Items        []queueItemView `json:"items"`
	CurrentIndex *int            `json:"current_index"`
}

func (s *Server) rendererQueue(w http.ResponseWriter, r *http.Request) {
	rend, ok := s.lookupRenderer(w, r)
	if !ok {
		return
	}
	snap, err := rend.Backend.QueueSnapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL")
		return
	}
	view := queueSnapshotView{CurrentIndex: snap.CurrentIndex}
	for _, it := range snap.Items {
		view.Items = append(view.Items, queueItemView{BackendID: it.BackendID, URI: it.URI, DidlID: it.DIDLID})
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) rendererEnqueue(w http.ResponseWriter, r *http.Request) {
	rend, ok := s.lookupRenderer(w, r)
	if !ok {
		return
	}
	var body struct {
		Items []struct {
			URI    string `json:"uri"`
			DidlID string `json:"didl_id"`
		} `json:"items"`
		AfterIndex *int `json:"after_index"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	items := make([]renderer.PlaybackItem, 0, len(body.Items))
	for _, it := range body.Items {
		items = append(items, renderer.PlaybackItem{URI: it.URI, DIDLID: it.DidlID})
	}
	writeActionResult(w, rend.Enqueue(r.Context(), items, body.AfterIndex))
}

func (s *Server) rendererAttachPlaylist(w http.ResponseWriter, r *http.Request) {
	rend, ok := s.lookupRenderer(w, r)
	if !ok {
		return
	}
	var body struct {
		ServerID    string `json:"server_id"`
		ContainerID string `json:"container_id"`
		AutoPlay    bool   `json:"auto_play"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	res, err := s.Sources.Browse(r.Context(), body.ContainerID, false)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND")
		return
	}
	items := make([]renderer.PlaybackItem, 0, len(res.Items))
	for _, it := range res.Items {
		uri := ""
		if len(it.Resources) > 0 {
			uri = it.Resources[0].URI
		}
		items = append(items, renderer.PlaybackItem{URI: uri, DIDLID: it.ID})
	}

	writeActionResult(w, rend.AttachPlaylist(r.Context(), body.ServerID, body.ContainerID, items, body.AutoPlay))
}

func (s *Server) rendererSleepTimer(w http.ResponseWriter, r *http.Request) {
	rend, ok := s.lookupRenderer(w, r)
	if !ok {
		return
	}
	var body struct {
		DurationS *int `json:"duration_s"` // nil or omitted cancels the timer
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.DurationS == nil {
		rend.CancelSleepTimer()
	} else {
		rend.SetSleepTimer(*body.DurationS)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeActionResult(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := jsonDecode(r, v); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGS")
		return false
	}
	return true
}
