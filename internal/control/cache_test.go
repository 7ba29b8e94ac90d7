// SPDX-License-Identifier: MIT

package control

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmomusic/pmomusicd/internal/cache"
)

func newCacheServer(t *testing.T) (*Server, string) {
	t.Helper()
	c, err := cache.Open(cache.Config{Root: t.TempDir(), Name: "audio", Limit: 100})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	pk, err := c.AddFromReader(ctx, "track-1", "audio", strings.NewReader("payload"))
	require.NoError(t, err)
	rc, err := c.Read(ctx, pk) // wait for the background write to land
	require.NoError(t, err)
	_, _ = io.ReadAll(rc)
	_ = rc.Close()

	return &Server{Caches: map[string]*cache.Cache{"audio": c}}, pk
}

// Setting a TTL then pinning conflicts with 409
// and body {"error":"CONFLICT"}.
func TestCacheEndpoints_PinTTLConflict(t *testing.T) {
	srv, pk := newCacheServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(
		ts.URL+"/api/cache/audio/"+pk+"/ttl",
		"application/json",
		strings.NewReader(`{"expires_at":"2099-01-01T00:00:00Z"}`),
	)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/cache/audio/"+pk+"/pin", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "CONFLICT", body["error"])
}

func TestCacheEndpoints_PinThenTTLConflict(t *testing.T) {
	srv, pk := newCacheServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/cache/audio/"+pk+"/pin", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(
		ts.URL+"/api/cache/audio/"+pk+"/ttl",
		"application/json",
		strings.NewReader(`{"expires_in_s":3600}`),
	)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCacheEndpoints_UnknownCacheAndPK(t *testing.T) {
	srv, pk := newCacheServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/cache/nope/"+pk+"/pin", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/cache/audio/doesnotexist/pin", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
