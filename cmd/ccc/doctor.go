package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/ccc/internal/doctor"
	"github.com/ShayCichocki/ccc/internal/exec"
	"github.com/ShayCichocki/ccc/pkg/models"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that runs can be coordinated here",
		Long: `Check that the worker executable responds, that the state store opens,
and that cancel signals can be written. Shows which config files apply.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()

			checks := doctor.Run(ctx, app.cfg, exec.NewRunner())
			out := cmd.OutOrStdout()
			for _, c := range checks {
				if c.OK {
					printStatus(out, "✓", fmt.Sprintf("%-9s %s", c.Name, c.Detail), color.FgGreen)
				} else {
					printStatus(out, "✗", fmt.Sprintf("%-9s %s", c.Name, c.Detail), color.FgRed)
				}
			}
			if !doctor.Healthy(checks) {
				return withCode(models.ExitHalted, errors.New("some checks failed"))
			}
			return nil
		},
	}
}
