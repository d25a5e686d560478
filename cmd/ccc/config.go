package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/ccc/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialize configuration",
		Long: `View or initialize ccc configuration.

Configuration is read from ~/.config/ccc/config.yaml, then from the
nearest .ccc.yaml in the current directory or its parents, then from
CCC_* environment variables.`,
	}
	cmd.AddCommand(newConfigShowCmd(), newConfigInitCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [key]",
		Short: "Print the effective configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			settings := config.Settings(app.cfg)
			if len(args) == 1 {
				for _, s := range settings {
					if s.Key == args[0] {
						fmt.Fprintln(out, formatValue(s.Value))
						return nil
					}
				}
				return fmt.Errorf("unknown configuration key: %s", args[0])
			}

			dim := color.New(color.FgHiBlack)
			for _, s := range settings {
				fmt.Fprintf(out, "%s: %s %s\n", s.Key, formatValue(s.Value), dim.Sprintf("(%s)", s.Env))
			}
			return nil
		},
	}
}

func formatValue(v any) string {
	switch v := v.(type) {
	case string:
		if v == "" {
			return `""`
		}
		return v
	case []string:
		return fmt.Sprintf("%q", v)
	default:
		return fmt.Sprint(v)
	}
}

func newConfigInitCmd() *cobra.Command {
	var project, force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default values",
		Args:  cobra.NoArgs,
		// The file being written may be the one that fails to load.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.GetUserConfigPath()
			if project {
				cwd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("get working directory: %w", err)
				}
				path = filepath.Join(cwd, config.ProjectConfigName)
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(config.Default(), path); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), "✓", "Wrote "+path, color.FgGreen)
			return nil
		},
	}
	cmd.Flags().BoolVar(&project, "project", false, "Write .ccc.yaml in the current directory instead of the user config")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}
