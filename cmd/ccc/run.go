package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShayCichocki/ccc/internal/dashboard"
	"github.com/ShayCichocki/ccc/internal/metrics"
	"github.com/ShayCichocki/ccc/internal/observe"
	"github.com/ShayCichocki/ccc/internal/orchestrator"
	"github.com/ShayCichocki/ccc/internal/recovery"
	"github.com/ShayCichocki/ccc/internal/runfile"
	"github.com/ShayCichocki/ccc/internal/signals"
	"github.com/ShayCichocki/ccc/internal/state"
	"github.com/ShayCichocki/ccc/internal/worker"
	"github.com/ShayCichocki/ccc/pkg/models"
)

type runOptions struct {
	maxParallel int
	sequential  bool
	quiet       bool
	dashboard   bool
	metricsAddr string
	shell       bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <runfile>",
		Short: "Run the tasks of a run file",
		Long: `Run every task of a run file as isolated worker sessions and wait for
the run to finish.

The run can be cancelled with Ctrl+C or from another terminal with
'ccc cancel <run-id>'. Running sessions are terminated and the run ends
HALTED.`,
		Example: `  ccc run feature.yaml
  ccc run feature.yaml --max-parallel 5
  ccc run feature.yaml --sequential --dashboard
  ccc run checks.yaml --shell`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args[0], opts)
		},
	}

	cmd.Flags().IntVar(&opts.maxParallel, "max-parallel", 0, "Override the run file's max_parallel")
	cmd.Flags().BoolVar(&opts.sequential, "sequential", false, "Dispatch one task at a time in declaration order")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Print only the run ID and the final summary")
	cmd.Flags().BoolVar(&opts.dashboard, "dashboard", false, "Show the live dashboard while the run executes")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides metrics.addr)")
	cmd.Flags().BoolVar(&opts.shell, "shell", false, "Run each instruction as a shell script instead of the claude CLI")
	return cmd
}

func runRun(cmd *cobra.Command, path string, opts *runOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()
	log := app.log.Logger

	def, err := runfile.LoadFile(ctx, path)
	if err != nil {
		return err
	}
	if opts.maxParallel > 0 {
		def.MaxParallel = opts.maxParallel
	}
	if opts.sequential {
		def.Mode = models.ModeSequential
	}

	classifier, err := recovery.NewClassifier(app.cfg.Recovery)
	if err != nil {
		return withCode(models.ExitConfigRejected, fmt.Errorf("recovery policy: %w", err))
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if cleaned, err := state.NewRecoveryManager(store).CleanAll(); err != nil {
		log.Warn("recovering interrupted runs", zap.Error(err))
	} else if len(cleaned) > 0 {
		log.Info("marked interrupted runs halted", zap.Strings("run_ids", cleaned))
	}

	sig, err := signals.New(app.cfg.State.Dir, signals.WithLogger(log))
	if err != nil {
		return err
	}

	m := metrics.New(nil)
	manager := orchestrator.NewManager(orchestrator.ManagerConfig{
		Launcher: &orchestrator.ProcessLauncher{
			Executor:      newExecutor(opts.shell),
			WorkspaceRoot: workspaceRoot(),
			Options: []worker.Option{
				worker.WithKillGrace(app.cfg.Executor.KillGrace),
				worker.WithCompletionMarker(app.cfg.Executor.CompletionMarker),
				worker.WithLogger(log),
			},
		},
		Store: store,
		Options: []orchestrator.Option{
			orchestrator.WithMaxParallel(app.cfg.Orchestrator.MaxParallelSessions),
			orchestrator.WithClassifier(classifier),
			orchestrator.WithCancelRunningOnHalt(app.cfg.Orchestrator.CancelRunningOnHalt),
			orchestrator.WithEventBuffer(app.cfg.Orchestrator.EventBuffer),
			orchestrator.WithDefaultTimeout(app.cfg.Timeouts.Default),
			orchestrator.WithMetrics(m),
		},
		Logger: log,
	})

	runID, err := manager.Submit(def)
	if err != nil {
		_ = manager.Stop()
		return err
	}
	fmt.Fprintf(out, "Run %s started (%d tasks)\n", runID, len(def.Tasks))

	var (
		g     run.Group
		final *models.RunSnapshot
	)

	// Run completion.
	{
		waitCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		g.Add(
			func() error {
				snap, err := manager.Wait(waitCtx, runID)
				final = snap
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// OS signals cancel the run; the run completion actor then returns.
	{
		signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()
		stop := make(chan struct{})
		g.Add(
			func() error {
				select {
				case <-signalCtx.Done():
					if ctx.Err() == nil {
						log.Info("termination signal received", zap.String("run_id", runID))
						_ = manager.Cancel(runID, "interrupted by signal")
					}
					<-stop
				case <-stop:
				}
				return nil
			},
			func(_ error) {
				close(stop)
			},
		)
	}

	// Cancel requests from other processes.
	{
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		g.Add(
			func() error {
				err := sig.Watch(watchCtx, runID, func(reason string) {
					_ = manager.Cancel(runID, reason)
				})
				<-watchCtx.Done()
				return err
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// Metrics endpoint.
	addr := app.cfg.Metrics.Addr
	if opts.metricsAddr != "" {
		addr = opts.metricsAddr
	}
	if addr != "" {
		srv := &http.Server{Addr: addr, Handler: metricsMux(m), ReadHeaderTimeout: 5 * time.Second}
		g.Add(
			func() error {
				log.Info("serving metrics", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("metrics server: %w", err)
				}
				return nil
			},
			func(_ error) {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			},
		)
	}

	// Live output: dashboard or event lines.
	if !opts.quiet {
		liveCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		g.Add(
			func() error {
				if opts.dashboard {
					if err := showDashboard(liveCtx, store, runID); err != nil {
						return err
					}
					// Closing the dashboard does not stop the run.
					<-liveCtx.Done()
					return nil
				}
				printEvents(liveCtx, out, manager.Events())
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	groupErr := g.Run()

	// Stops anything still running when the group ended early.
	_ = manager.Stop()
	if err := sig.Clear(runID); err != nil {
		log.Debug("clearing cancel signal", zap.Error(err))
	}

	if final == nil {
		if final, err = store.Snapshot(runID); err != nil {
			return errors.Join(groupErr, err)
		}
	}
	if groupErr != nil {
		log.Warn("run ended early", zap.Error(groupErr))
	}

	fmt.Fprintln(out)
	printSnapshot(out, final)
	return withCode(final.Status.ExitCode(), nil)
}

// newExecutor builds the worker executor from config.
func newExecutor(shell bool) worker.Executor {
	if shell {
		return &worker.ShellExecutor{}
	}
	return &worker.ClaudeExecutor{
		Binary:               app.cfg.Executor.Binary,
		Flags:                app.cfg.Executor.Flags,
		DangerousPermissions: app.cfg.Executor.DangerousPermissions,
		WorkspaceFlag:        app.cfg.Executor.WorkspaceFlag,
	}
}

func metricsMux(m *metrics.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}

// printEvents prints events until ctx is done or the channel closes.
func printEvents(ctx context.Context, w io.Writer, events <-chan orchestrator.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			printEvent(w, ev)
		}
	}
}

// showDashboard shows the dashboard for runID until the user quits or ctx
// is done.
func showDashboard(ctx context.Context, obs state.Observer, runID string) error {
	w := observe.NewWatcher(obs, runID,
		observe.WithDirs(state.WatchDirs(app.cfg.State.Backend, app.cfg.State.Dir, runID)...),
		observe.WithInterval(app.cfg.Dashboard.RefreshRate),
		observe.WithLogger(app.log.Logger))
	return dashboard.Run(ctx, runID, w.Watch(ctx))
}
