// SPDX-License-Identifier: MIT

// Package control implements the HTTP/SSE control surface: renderer
// transport/queue/sleep-timer endpoints, source browse/resolve/stream
// endpoints, a renderer+source SSE event feed, and the cache pin/TTL
// endpoints, all over chi, rate-limited with httprate and optionally
// JWT-bearer-authenticated.
package control

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/pmomusic/pmomusicd/internal/bus"
	"github.com/pmomusic/pmomusicd/internal/cache"
	"github.com/pmomusic/pmomusicd/internal/mediaserver"
	"github.com/pmomusic/pmomusicd/internal/renderer"
)

// Server wires the renderer registry, source aggregator, caches, and
// event bus into the HTTP/SSE surface.
type Server struct {
	Registry *renderer.Registry
	Sources  *mediaserver.Aggregator
	Caches   map[string]*cache.Cache // name -> cache, matching the cache root/<name> disk layout
	Bus      *bus.Bus

	// JWTSecret, when non-empty, requires a valid bearer token on
	// every request. Tokens are pre-shared; there is no user store.
	JWTSecret string
}

// Router builds the complete chi router for this surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(otelMiddleware)
	r.Use(httprate.LimitByIP(100, time.Minute))
	if s.JWTSecret != "" {
		r.Use(s.requireBearerToken)
	}

	r.Route("/api/renderers", func(rr chi.Router) {
		rr.Get("/", s.listRenderers)
		rr.Route("/{id}", func(ir chi.Router) {
			ir.Post("/play", s.rendererTransport("play"))
			ir.Post("/pause", s.rendererTransport("pause"))
			ir.Post("/stop", s.rendererTransport("stop"))
			ir.Post("/next", s.rendererTransport("next"))
			ir.Post("/previous", s.rendererTransport("previous"))
			ir.Post("/seek", s.rendererSeek)
			ir.Put("/volume", s.rendererSetVolume)
			ir.Get("/queue", s.rendererQueue)
			ir.Post("/queue", s.rendererEnqueue)
			ir.Post("/playlist/attach", s.rendererAttachPlaylist)
			ir.Post("/sleep-timer", s.rendererSleepTimer)
		})
	})

	r.Route("/api/sources", func(sr chi.Router) {
		sr.Get("/", s.listSources)
		sr.Get("/{id}/root", s.sourceRoot)
		sr.Get("/{id}/browse", s.sourceBrowse)
		sr.Get("/{id}/resolve", s.sourceResolve)
		sr.Get("/{id}/item/stream", s.sourceItemStream)
	})

	r.Get("/api/events", s.events)

	r.Route("/api/cache/{name}/{pk}", func(cr chi.Router) {
		cr.Get("/pin", s.cacheGetPin)
		cr.Post("/pin", s.cacheSetPin)
		cr.Delete("/pin", s.cacheDeletePin)
		cr.Get("/ttl", s.cacheGetTTL)
		cr.Post("/ttl", s.cacheSetTTL)
		cr.Delete("/ttl", s.cacheDeleteTTL)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func jsonDecode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
