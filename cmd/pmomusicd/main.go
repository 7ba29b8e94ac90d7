// SPDX-License-Identifier: MIT

// Command pmomusicd runs the PMOMusic daemon: a UPnP MediaServer
// aggregating music sources, a renderer registry driving OpenHome,
// AVTransport and LinkPlay playback targets, and the HTTP/SSE control
// surface tying them together.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pmomusic/pmomusicd/internal/version"
)

// Exit codes: 0 clean, 1 configuration error, 2 bind failure, 3 fatal
// internal error.
const (
	exitConfig   = 1
	exitBind     = 2
	exitInternal = 3
)

// exitError tags an error with the process exit code it should
// produce. Untagged errors (flag parsing, config loading) exit 1.
type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string { return e.err.Error() }
func (e exitError) Unwrap() error { return e.err }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var ee exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(exitConfig)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pmomusicd",
		Short:         "PMOMusic UPnP media server and renderer controller",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().String("config", "pmomusicd.yaml", "path to YAML configuration file")
	root.PersistentFlags().String("env", ".env", "path to .env overlay (secrets)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build version and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("pmomusicd %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
			return nil
		},
	}
}
