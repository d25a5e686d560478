package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/ccc/internal/orchestrator"
	"github.com/ShayCichocki/ccc/internal/runfile"
	"github.com/ShayCichocki/ccc/pkg/models"
)

func newPlanCmd() *cobra.Command {
	var sequential bool
	cmd := &cobra.Command{
		Use:   "plan <runfile>",
		Short: "Show the batches a run file would execute in",
		Long: `Validate a run file and print its execution plan: the batches of tasks
that would run concurrently, the critical path, and the estimated time
saved by running in parallel. Nothing is executed.

Exits 78 when the run file is rejected.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := runfile.LoadFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if sequential {
				def.Mode = models.ModeSequential
			}

			g, batches, err := orchestrator.Prepare(def)
			if err != nil {
				return err
			}
			est, err := g.Estimate()
			if err != nil {
				return err
			}
			path, pathMinutes, err := g.CriticalPath()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			name := def.Name
			if name == "" {
				name = args[0]
			}
			fmt.Fprintf(out, "Plan for %s: %d tasks in %d batches (%s, max parallel %d)\n\n",
				name, len(def.Tasks), len(batches), def.Mode, def.MaxParallel)

			bold := color.New(color.Bold)
			for i, batch := range batches {
				bold.Fprintf(out, "Batch %d\n", i+1)
				for _, taskName := range batch {
					t := g.GetTask(taskName)
					line := "  - " + taskName
					if t.Critical {
						line += color.RedString(" [critical]")
					}
					if len(t.DependsOn) > 0 {
						line += color.HiBlackString(" after " + strings.Join(t.DependsOn, ", "))
					}
					fmt.Fprintln(out, line)
				}
			}

			fmt.Fprintln(out)
			fmt.Fprintf(out, "Critical path: %s (%dm)\n", strings.Join(path, " → "), pathMinutes)
			fmt.Fprintf(out, "Estimate: %dm parallel vs %dm sequential (%.1fx)\n",
				est.ParallelMinutes, est.SequentialMinutes, est.Speedup)
			return nil
		},
	}
	cmd.Flags().BoolVar(&sequential, "sequential", false, "Plan one task per batch in declaration order")
	return cmd
}
