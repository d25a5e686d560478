package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/ccc/internal/workspace"
	"github.com/ShayCichocki/ccc/pkg/models"
)

func newCollectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collect <run-id> <dir>",
		Short: "Copy the files produced by a run's completed tasks",
		Long: `Copy the files each completed task produced in its final attempt's
workspace into <dir>/<task>. Coordinator-provided files (the instruction
and input) are not copied.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, dst := args[0], args[1]

			store, err := openStore()
			if err != nil {
				return err
			}
			snap, err := store.Snapshot(runID)
			store.Close()
			if err != nil {
				return err
			}

			if err := os.MkdirAll(dst, 0755); err != nil {
				return fmt.Errorf("create %s: %w", dst, err)
			}

			out := cmd.OutOrStdout()
			total := 0
			for _, t := range snap.Tasks {
				if t.Status != models.TaskStatusCompleted || t.Attempts == 0 {
					continue
				}
				src := workspace.Path(workspaceRoot(), runID, t.Name, t.Attempts)
				files, err := workspace.Collect(src, filepath.Join(dst, models.Slug(t.Name)))
				if err != nil {
					printStatus(out, "✗", fmt.Sprintf("%s: %v", t.Name, err), color.FgRed)
					continue
				}
				total += len(files)
				printStatus(out, "✓", fmt.Sprintf("%s: %d files", t.Name, len(files)), color.FgGreen)
			}
			fmt.Fprintf(out, "Collected %d files into %s\n", total, dst)
			return nil
		},
	}
}
