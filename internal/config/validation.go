// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"net"
	"strings"
)

// validationErrors accumulates every problem found rather than
// stopping at the first, so a misconfigured deploy gets one complete
// error report instead of a fix-one-rerun-repeat loop.
type validationErrors struct {
	errs []string
}

func (v *validationErrors) add(field, msg string) {
	v.errs = append(v.errs, fmt.Sprintf("%s: %s", field, msg))
}

func (v *validationErrors) err() error {
	if len(v.errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(v.errs, "; "))
}

// Validate checks fc for the constraints PMOMusic's own runtime needs:
// a well-formed listen address, a non-negative discovery window, and
// (when local-files is configured) a usable root.
func Validate(fc FileConfig) error {
	v := &validationErrors{}

	if _, _, err := net.SplitHostPort(fc.HTTP.ListenAddr); err != nil {
		v.add("http.listenAddr", fmt.Sprintf("must be host:port, got %q", fc.HTTP.ListenAddr))
	}

	if fc.Discovery.MaxAgeSecs < 0 {
		v.add("discovery.maxAgeSecs", "must not be negative")
	}

	if fc.Sources.LocalFiles.Root != "" && strings.TrimSpace(fc.Sources.LocalFiles.Root) == "" {
		v.add("sources.localFiles.root", "must not be blank")
	}

	if fc.Audio.FramesPerChunk < 0 {
		v.add("audio.framesPerChunk", "must not be negative")
	}

	return v.err()
}
