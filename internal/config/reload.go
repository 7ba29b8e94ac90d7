// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/pmomusic/pmomusicd/internal/log"
)

// Holder holds the current FileConfig with atomic hot-reload support:
// an fsnotify watch on the config file triggers a reload on write or
// atomic replace.
type Holder struct {
	path    string
	envPath string

	current atomic.Pointer[FileConfig]
	logger  zerolog.Logger

	reloadMu   sync.Mutex
	watcher    *fsnotify.Watcher
	listenerMu sync.RWMutex
	listeners  []chan<- FileConfig
}

// NewHolder loads path+envPath once and returns a holder wrapping the
// result. path may not exist (defaults apply); envPath may not exist
// (no overlay applied).
func NewHolder(path, envPath string) (*Holder, error) {
	h := &Holder{path: path, envPath: envPath, logger: log.WithComponent("config")}
	fc, err := h.loadOnce()
	if err != nil {
		return nil, err
	}
	h.current.Store(&fc)
	return h, nil
}

func (h *Holder) loadOnce() (FileConfig, error) {
	if err := LoadDotEnv(h.envPath); err != nil {
		return FileConfig{}, fmt.Errorf("config: load dotenv: %w", err)
	}
	fc, err := Load(h.path)
	if err != nil {
		return FileConfig{}, err
	}
	fc = ApplyEnvOverrides(ApplyDefaults(fc))
	if err := Validate(fc); err != nil {
		return FileConfig{}, fmt.Errorf("config: validate: %w", err)
	}
	return fc, nil
}

// Get returns the current configuration.
func (h *Holder) Get() FileConfig {
	return *h.current.Load()
}

// Reload re-reads the config file and, if it validates, swaps it in
// and notifies registered listeners. On failure the previous
// configuration is kept untouched.
func (h *Holder) Reload() error {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	fc, err := h.loadOnce()
	if err != nil {
		h.logger.Error().Err(err).Msg("config reload failed, keeping previous configuration")
		return err
	}
	h.current.Store(&fc)
	h.notify(fc)
	h.logger.Info().Msg("configuration reloaded")
	return nil
}

// RegisterListener registers ch to receive the new FileConfig whenever
// a reload succeeds. Sends are non-blocking; a full channel is skipped.
func (h *Holder) RegisterListener(ch chan<- FileConfig) {
	h.listenerMu.Lock()
	defer h.listenerMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

func (h *Holder) notify(fc FileConfig) {
	h.listenerMu.RLock()
	defer h.listenerMu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- fc:
		default:
			h.logger.Warn().Msg("config listener channel full, skipping notification")
		}
	}
}

// Watch starts an fsnotify watch on the config file's directory,
// debouncing rapid writes (editors and atomic renames both fire
// multiple events) before triggering Reload. It is a no-op if path is
// empty.
func (h *Holder) Watch(ctx context.Context) error {
	if h.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	h.watcher = watcher

	dir := filepath.Dir(h.path)
	base := filepath.Base(h.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}

	go h.watchLoop(ctx, base)
	return nil
}

func (h *Holder) watchLoop(ctx context.Context, configFile string) {
	const debounce = 500 * time.Millisecond
	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			_ = h.watcher.Close()
			return
		case ev, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != configFile {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				if err := h.Reload(); err != nil {
					h.logger.Error().Err(err).Msg("automatic config reload failed")
				}
			})
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("config watcher error")
		}
	}
}
