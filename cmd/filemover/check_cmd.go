package main

import (
	"fmt"

	"github.com/openmined/filemover/internal/storage"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newCheckCmd())
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and verify the input and output locations, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			closer, err := setupLogging(cfg)
			if err != nil {
				return err
			}
			defer closer.Close()
			cfg.LogSettings()

			backends := newBackendSet(storage.Options{})
			defer backends.Close()

			engine, err := newEngine(cmd.Context(), cfg, backends)
			if err != nil {
				return err
			}
			if err := engine.Check(cmd.Context()); err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), green("ok:"), "input and output locations are reachable")
			return err
		},
	}
}
