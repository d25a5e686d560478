package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/ccc/internal/signals"
)

func newCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a run coordinated by another ccc process",
		Long: `Ask the 'ccc run' process that owns a run to cancel it. Running sessions
are terminated, pending tasks are skipped and the run ends HALTED.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]
			store, err := openStore()
			if err != nil {
				return err
			}
			snap, err := store.Snapshot(runID)
			store.Close()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if snap.Status.Terminal() {
				printStatus(out, "•", fmt.Sprintf("Run %s already finished (%s)", runID, snap.Status), color.FgYellow)
				return nil
			}

			sig, err := signals.New(app.cfg.State.Dir)
			if err != nil {
				return err
			}
			if err := sig.SendCancel(runID, reason); err != nil {
				return err
			}
			printStatus(out, "✓", fmt.Sprintf("Cancel requested for run %s", runID), color.FgGreen)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "cancelled by operator", "Reason recorded on the run")
	return cmd
}
