package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/ccc/internal/state"
)

func newStatusCmd() *cobra.Command {
	var (
		asJSON bool
		list   int
		events int
	)
	cmd := &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show a run's status and per-task breakdown",
		Long: `Show the status of a run as recorded in the state store. Without a run
ID the most recent run is shown.

Status only reads state; it works while the run is executing in another
process and after the run has finished or halted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			out := cmd.OutOrStdout()

			if list > 0 {
				runs, err := store.ListRuns(list)
				if err != nil {
					return err
				}
				printRunList(out, runs)
				return nil
			}

			runID, err := resolveRunID(store, args)
			if err != nil {
				return err
			}
			snap, err := store.Snapshot(runID)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}

			printSnapshot(out, snap)
			if events > 0 {
				return printEventLog(cmd, store, runID, events)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the snapshot as JSON")
	cmd.Flags().IntVar(&list, "list", 0, "List the N most recent runs instead")
	cmd.Flags().IntVar(&events, "events", 0, "Also print the N most recent events")
	return cmd
}

func printEventLog(cmd *cobra.Command, obs state.Observer, runID string, limit int) error {
	evs, err := obs.ListEvents(runID, limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Events:")
	// Newest first from the store; print oldest first.
	for i := len(evs) - 1; i >= 0; i-- {
		ev := evs[i]
		fmt.Fprintf(out, "  %s %-16s %s\n", ev.CreatedAt.Local().Format("15:04:05"), ev.Kind, ev.Message)
	}
	return nil
}
