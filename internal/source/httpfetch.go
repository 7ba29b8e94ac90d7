// SPDX-License-Identifier: MIT

package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pmomusic/pmomusicd/internal/platform/httpx"
)

var fetchClient = httpx.NewClient(5 * time.Second)

// FetchHTTPBody issues a GET against url and returns its body reader
// and declared length (-1 if unknown). The caller owns the returned
// reader and must Close it.
func FetchHTTPBody(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, -1, fmt.Errorf("source: build request: %w", err)
	}
	resp, err := fetchClient.Do(req)
	if err != nil {
		return nil, -1, fmt.Errorf("source: fetch %s: %w", url, err)
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, -1, fmt.Errorf("source: fetch %s: status %d", url, resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}
