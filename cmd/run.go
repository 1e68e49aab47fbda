package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Runs the watchdog scheduler until interrupted",
		Long: `Loads the state file, merges the configured watchdogs into it and polls
every watchdog when its interval elapses. State is persisted after each cycle.
The health and metrics server starts alongside when server.enabled is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Run(cmd.Context()); err != nil {
				return fmt.Errorf("run scheduler: %w", err)
			}
			return nil
		},
	}
}
