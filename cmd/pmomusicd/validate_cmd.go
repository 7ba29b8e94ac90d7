// SPDX-License-Identifier: MIT

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pmomusic/pmomusicd/internal/config"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration file without starting the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			envPath, _ := cmd.Flags().GetString("env")

			if err := config.LoadDotEnv(envPath); err != nil {
				return fmt.Errorf("load .env: %w", err)
			}
			fc, err := config.Load(path)
			if err != nil {
				return err
			}
			fc = config.ApplyEnvOverrides(config.ApplyDefaults(fc))
			if err := config.Validate(fc); err != nil {
				return err
			}
			fmt.Printf("%s is valid\n", path)
			return nil
		},
	}
}
