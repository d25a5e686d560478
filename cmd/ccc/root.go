package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShayCichocki/ccc/internal/config"
	"github.com/ShayCichocki/ccc/internal/logging"
	"github.com/ShayCichocki/ccc/internal/observe"
	"github.com/ShayCichocki/ccc/internal/state"
	"github.com/ShayCichocki/ccc/pkg/models"
)

// Global flags.
var (
	flagConfig    string
	flagStateDir  string
	flagLogLevel  string
	flagLogFormat string
)

// app holds what PersistentPreRunE prepared for the command.
var app struct {
	cfg *config.Config
	log *logging.Logger
}

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// withCode attaches an exit code to err. A nil err still exits with code.
func withCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

// exitCodeFor maps a command error to the process exit code.
func exitCodeFor(err error) int {
	if err == nil {
		return models.ExitCompleted
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if models.IsConfigurationError(err) {
		return models.ExitConfigRejected
	}
	return models.ExitHalted
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ccc",
		Short: "Coordinate parallel Claude Code sessions",
		Long: `ccc runs a set of tasks with declared dependencies as parallel,
isolated Claude Code sessions.

Tasks whose dependencies are satisfied run concurrently up to a
configured limit. Failures are classified: transient errors are retried,
logic errors are retried with guidance, non-critical failures skip their
dependents, and critical failures halt the run.

Exit codes: 0 completed, 2 partially completed, 1 halted or failed,
78 run definition rejected.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app.log != nil {
				_ = app.log.Close()
				app.log = nil
			}
		},
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default: user config plus .ccc.yaml)")
	root.PersistentFlags().StringVar(&flagStateDir, "state-dir", "", "State directory (overrides state.dir)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format: console or json")

	root.AddCommand(
		newRunCmd(),
		newPlanCmd(),
		newStatusCmd(),
		newCancelCmd(),
		newWatchCmd(),
		newCollectCmd(),
		newDoctorCmd(),
		newPruneCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the CLI with args and returns the process exit code.
func Execute(args []string) int {
	return execute(args, os.Stdout, os.Stderr)
}

func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.Execute()
	if err != nil {
		var ee *exitError
		if !errors.As(err, &ee) || ee.err != nil {
			fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
		}
	}
	return exitCodeFor(err)
}

// setup loads configuration, applies flag overrides and builds the logger.
func setup(cmd *cobra.Command, args []string) error {
	var (
		cfg *config.Config
		err error
	)
	if flagConfig != "" {
		cfg, err = config.LoadFromPath(flagConfig)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return withCode(models.ExitConfigRejected, fmt.Errorf("load config: %w", err))
	}

	if flagStateDir != "" {
		cfg.State.Dir = flagStateDir
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Log.Format = flagLogFormat
	}
	if cfg.State.Dir, err = filepath.Abs(cfg.State.Dir); err != nil {
		return fmt.Errorf("resolve state dir: %w", err)
	}
	if err := os.MkdirAll(cfg.State.Dir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	logger, err := logging.New(cfg.Log, cfg.State.Dir, cmd.ErrOrStderr())
	if err != nil {
		return withCode(models.ExitConfigRejected, err)
	}

	app.cfg = cfg
	app.log = logger
	app.log.Debug("config loaded",
		zap.String("state_dir", cfg.State.Dir),
		zap.String("backend", cfg.State.Backend),
		zap.Int("max_parallel_sessions", cfg.Orchestrator.MaxParallelSessions))
	return nil
}

// cmdContext returns the command's context, cancelled on SIGINT or SIGTERM.
func cmdContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
}

// openStore opens the configured state backend.
func openStore() (state.Store, error) {
	store, err := state.Open(app.cfg.State.Backend, app.cfg.State.Dir)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	return store, nil
}

// workspaceRoot is where per-attempt workspaces are created.
func workspaceRoot() string {
	return filepath.Join(app.cfg.State.Dir, "workspaces")
}

// resolveRunID returns args[0], or the most recent run when args is empty.
func resolveRunID(obs state.Observer, args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	id, err := observe.Latest(obs)
	if errors.Is(err, state.ErrNotFound) {
		return "", errors.New("no runs recorded yet; start one with 'ccc run <runfile>'")
	}
	return id, err
}
