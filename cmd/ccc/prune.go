package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/ccc/internal/state"
)

func newPruneCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished runs older than a duration",
		Long: `Delete the recorded state of finished runs created before the cutoff.
Runs that have not finished are kept. Workspaces are not touched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			purger, ok := store.(state.Purger)
			if !ok {
				return fmt.Errorf("state backend %q cannot prune", app.cfg.State.Backend)
			}
			n, err := purger.PurgeRunsOlderThan(olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d runs older than %s\n", n, olderThan)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "Age cutoff")
	return cmd
}
