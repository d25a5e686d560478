package main

import (
	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [run-id]",
		Short: "Open the live dashboard for a run",
		Long: `Follow a run in a terminal dashboard. The dashboard only reads state,
so it can watch a run coordinated by another process. Without a run ID
the most recent run is shown.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			runID, err := resolveRunID(store, args)
			if err != nil {
				return err
			}
			if _, err := store.Snapshot(runID); err != nil {
				return err
			}

			ctx, cancel := cmdContext(cmd)
			defer cancel()
			return showDashboard(ctx, store, runID)
		},
	}
}
