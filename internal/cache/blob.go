// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/google/renameio/v2"

	"github.com/pmomusic/pmomusicd/internal/telemetry"
)

// AddFromURL fetches url, streams it into the blob store, and returns
// its PK. Concurrent callers for the same URL coalesce onto one fetch.
func (c *Cache) AddFromURL(ctx context.Context, url, collection string) (string, error) {
	pk := contentKey(collection, url)

	if exists, err := c.assetExists(pk); err != nil {
		return "", err
	} else if exists {
		c.touch(pk)
		return pk, nil
	}

	unlock, err := c.lock.Lock(ctx, "addurl:"+pk)
	if err != nil {
		return "", fmt.Errorf("cache: acquire fetch lock: %w", err)
	}
	defer unlock()

	v, err, _ := c.sf.Do(pk, func() (any, error) {
		if exists, err := c.assetExists(pk); err != nil {
			return nil, err
		} else if exists {
			return pk, nil
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("cache: build request: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("cache: fetch %s: %w", url, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("cache: fetch %s: status %d", url, resp.StatusCode)
		}

		path, ferr := c.blobPath(pk)
		if ferr != nil {
			return nil, ferr
		}
		if werr := writeAtomic(path, resp.Body); werr != nil {
			return nil, werr
		}

		if ierr := c.insertAsset(pk, collection, ""); ierr != nil {
			return nil, ierr
		}
		c.sweep()
		return pk, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func writeAtomic(path string, r io.Reader) error {
	t, err := renameio.TempFile("", path)
	if err != nil {
		return fmt.Errorf("cache: create temp file: %w", err)
	}
	defer t.Cleanup()
	if _, err := io.Copy(t, r); err != nil {
		return fmt.Errorf("cache: write blob: %w", err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("cache: commit blob: %w", err)
	}
	return nil
}

// AddFromReader streams r into the blob store under the PK derived
// from (collection, key). For audio blobs (prebuffer > 0 effective),
// it returns as soon as the prebuffer threshold has been written, while
// the remaining bytes continue to flush asynchronously; Read blocks on
// the tail until the background write completes.
func (c *Cache) AddFromReader(ctx context.Context, key, collection string, r io.Reader) (string, error) {
	pk := contentKey(collection, key)

	path, err := c.blobPath(pk)
	if err != nil {
		return "", err
	}

	ws := &writeState{doneCh: make(chan struct{})}
	c.mu.Lock()
	c.writing[pk] = ws
	c.mu.Unlock()

	prebufDone := make(chan struct{})
	var prebufOnce onceFlag

	go func() {
		defer close(ws.doneCh)
		t, terr := renameio.TempFile("", path)
		if terr != nil {
			ws.err = fmt.Errorf("cache: create temp file: %w", terr)
			prebufOnce.do(func() { close(prebufDone) })
			return
		}
		defer t.Cleanup()

		counting := &countingWriter{w: t}
		buf := make([]byte, 64*1024)
		for {
			n, rerr := r.Read(buf)
			if n > 0 {
				if _, werr := counting.Write(buf[:n]); werr != nil {
					ws.err = fmt.Errorf("cache: write blob: %w", werr)
					prebufOnce.do(func() { close(prebufDone) })
					return
				}
				if counting.n >= c.prebuf {
					prebufOnce.do(func() { close(prebufDone) })
				}
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				ws.err = fmt.Errorf("cache: read source: %w", rerr)
				prebufOnce.do(func() { close(prebufDone) })
				return
			}
		}
		prebufOnce.do(func() { close(prebufDone) })

		if err := t.CloseAtomicallyReplace(); err != nil {
			ws.err = fmt.Errorf("cache: commit blob: %w", err)
			return
		}
		if err := c.insertAsset(pk, collection, ""); err != nil {
			ws.err = err
			return
		}
		c.sweep()
	}()

	select {
	case <-prebufDone:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	// ws stays registered in c.writing until the background write
	// finishes, so a Read arriving before EOF waits on its tail.
	go func() {
		<-ws.doneCh
		c.mu.Lock()
		delete(c.writing, pk)
		c.mu.Unlock()
	}()

	return pk, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

type onceFlag struct {
	done bool
}

func (o *onceFlag) do(fn func()) {
	if o.done {
		return
	}
	o.done = true
	fn()
}

// Read opens the blob for pk, waiting for any in-flight write (direct
// or lazy-provider materialization) to finish first, and records a hit.
func (c *Cache) Read(ctx context.Context, pk string) (io.ReadCloser, error) {
	c.mu.Lock()
	ws, writing := c.writing[pk]
	c.mu.Unlock()
	if writing {
		select {
		case <-ws.doneCh:
			if ws.err != nil {
				return nil, ws.err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	exists, err := c.assetExists(pk)
	if err != nil {
		return nil, err
	}
	telemetry.CountCacheRead(ctx, c.name, exists)
	if !exists {
		if f, ok := c.lazyProviderFor(pk); ok {
			if err := c.materialize(ctx, pk, f); err != nil {
				return nil, err
			}
		} else {
			return nil, ErrNotFound
		}
	}

	path, err := c.blobPath(pk)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.touch(pk)
	return f, nil
}

func (c *Cache) assetExists(pk string) (bool, error) {
	var n int
	err := c.db.QueryRow(`SELECT 1 FROM asset WHERE pk = ? AND lazy_pk IS NULL`, pk).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache: query asset: %w", err)
	}
	return true, nil
}

func (c *Cache) insertAsset(pk, collection, sourceID string) error {
	_, err := c.db.Exec(`
INSERT INTO asset (pk, collection, source_id, hits, last_used, lazy_pk, pinned, ttl_expires_at)
VALUES (?, ?, ?, 0, ?, NULL, 0, NULL)
ON CONFLICT(pk) DO UPDATE SET lazy_pk = NULL, last_used = excluded.last_used`,
		pk, collection, sourceID, nowUnix())
	if err != nil {
		return fmt.Errorf("cache: insert asset: %w", err)
	}
	return nil
}
