// SPDX-License-Identifier: MIT

package control

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pmomusic/pmomusicd/internal/cache"
)

// lookupCache resolves the {name} path segment against s.Caches.
func (s *Server) lookupCache(w http.ResponseWriter, r *http.Request) (*cache.Cache, string, bool) {
	name := chi.URLParam(r, "name")
	pk := chi.URLParam(r, "pk")
	c, ok := s.Caches[name]
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND")
		return nil, "", false
	}
	return c, pk, true
}

func writeCacheEntry(w http.ResponseWriter, c *cache.Cache, pk string) {
	entry, err := c.Stat(pk)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) cacheGetPin(w http.ResponseWriter, r *http.Request) {
	c, pk, ok := s.lookupCache(w, r)
	if !ok {
		return
	}
	writeCacheEntry(w, c, pk)
}

// cacheSetPin pins pk, returning 409 Conflict
// when the entry already carries a TTL (pin and TTL are mutually
// exclusive).
func (s *Server) cacheSetPin(w http.ResponseWriter, r *http.Request) {
	c, pk, ok := s.lookupCache(w, r)
	if !ok {
		return
	}
	if err := c.Pin(pk); err != nil {
		writeCachePinTTLError(w, err)
		return
	}
	writeCacheEntry(w, c, pk)
}

func (s *Server) cacheDeletePin(w http.ResponseWriter, r *http.Request) {
	c, pk, ok := s.lookupCache(w, r)
	if !ok {
		return
	}
	if err := c.Unpin(pk); err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND")
		return
	}
	writeCacheEntry(w, c, pk)
}

func (s *Server) cacheGetTTL(w http.ResponseWriter, r *http.Request) {
	c, pk, ok := s.lookupCache(w, r)
	if !ok {
		return
	}
	writeCacheEntry(w, c, pk)
}

// cacheSetTTL sets an expiry, returning 409 Conflict when the entry is
// pinned (pin and TTL are mutually exclusive).
func (s *Server) cacheSetTTL(w http.ResponseWriter, r *http.Request) {
	c, pk, ok := s.lookupCache(w, r)
	if !ok {
		return
	}
	var body struct {
		ExpiresAt  string `json:"expires_at"` // RFC 3339
		ExpiresInS int64  `json:"expires_in_s"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	var expiresAt time.Time
	if body.ExpiresAt != "" {
		var err error
		expiresAt, err = time.Parse(time.RFC3339, body.ExpiresAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_ARGS")
			return
		}
	} else {
		expiresAt = time.Now().Add(time.Duration(body.ExpiresInS) * time.Second)
	}
	if err := c.SetTTL(pk, expiresAt); err != nil {
		writeCachePinTTLError(w, err)
		return
	}
	writeCacheEntry(w, c, pk)
}

func (s *Server) cacheDeleteTTL(w http.ResponseWriter, r *http.Request) {
	c, pk, ok := s.lookupCache(w, r)
	if !ok {
		return
	}
	if err := c.ClearTTL(pk); err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND")
		return
	}
	writeCacheEntry(w, c, pk)
}

func writeCachePinTTLError(w http.ResponseWriter, err error) {
	if errors.Is(err, cache.ErrConflict) {
		writeError(w, http.StatusConflict, "CONFLICT")
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND")
}
