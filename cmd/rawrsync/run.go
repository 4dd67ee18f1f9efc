package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/joss/rawrsync/internal/config"
	"github.com/joss/rawrsync/internal/discovery"
	"github.com/joss/rawrsync/internal/exec"
	"github.com/joss/rawrsync/internal/logging"
	"github.com/joss/rawrsync/internal/metrics"
	"github.com/joss/rawrsync/internal/orchestrator"
	"github.com/joss/rawrsync/internal/render"
	"github.com/joss/rawrsync/internal/runner"
	"github.com/joss/rawrsync/internal/runtime"
	"github.com/joss/rawrsync/internal/store"
	"github.com/joss/rawrsync/internal/tui"
)

// errInterrupted is returned when a signal or the dashboard stopped the run.
var errInterrupted = errors.New("interrupted; in-progress tasks are requeued on the next run")

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Copy source to destination with parallel rsync workers",
		Long: `Discover per-directory tasks under the source and drain them with a worker pool.

Tasks already completed in the store are skipped. Tasks left in progress by an
interrupted run, and errored tasks unless --retry-errored=false, are retried.

A discovery failure, such as an unreadable source, does not stop the workers:
tasks found so far and tasks left from earlier runs are still drained. The
error is reported with the summary once the pool is done, and the command
exits non-zero.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if noDiscover, _ := cmd.Flags().GetBool("no-discover"); noDiscover {
				cfg.Discover = false
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runTransfer(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringP("source", "s", "", "Source directory")
	f.StringP("destination", "d", "", "Destination directory")
	f.BoolP("interactive", "i", false, "Show the live dashboard")
	f.IntP("threads", "t", config.DefaultThreads(), "Worker count")
	f.IntP("depth", "r", 4, "Recursion depth for discovery")
	f.String("runner", runner.KindRsync, "Task runner (rsync|null)")
	f.Int("batch", orchestrator.DefaultBatchSize, "Tasks claimed per worker batch")
	f.Int("blocking-pool", 0, "Concurrent subprocess limit (default: threads)")
	f.Duration("poll-interval", orchestrator.DefaultPollInterval, "Wait between empty claims while discovering")
	f.Bool("retry-errored", true, "Requeue errored tasks at start")
	f.StringSlice("exclude", nil, "Glob of directories to skip, relative to source (repeatable)")
	f.Bool("follow-symlinks", false, "Descend into symlinked directories")
	f.Int("discovery-parallelism", discovery.DefaultParallelism, "Concurrent directory reads during discovery")
	f.Bool("no-discover", false, "Only drain tasks already in the store")
	f.String("rsync-path", "rsync", "rsync binary")
	f.StringArray("rsync-arg", nil, "Extra rsync argument (repeatable)")
	f.Duration("refresh", tui.DefaultInterval, "Dashboard refresh interval")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	f.String("log-file", "", "Log file (default ./rawrsync.log)")
	f.String("log-level", "info", "Log level")
	f.String("log-format", "console", "Log format (console|json)")

	return cmd
}

// runTransfer executes one orchestrated run and prints its summary to out.
func runTransfer(parent context.Context, cfg *config.Config, out io.Writer) error {
	interactive := cfg.Interactive && term.IsTerminal(int(os.Stdout.Fd()))
	if cfg.Interactive && !interactive {
		fmt.Fprintln(os.Stderr, "stdout is not a terminal; dashboard disabled")
	}

	logCfg := cfg.Log
	if interactive {
		logCfg.Console = false
	}
	sd := runtime.NewShutdownManager(parent, runtime.DefaultShutdownTimeout)
	defer sd.Close()

	closeLog, err := logging.Init(logCfg)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	sd.RegisterSimple("logs", func() { _ = closeLog() })
	log := logging.New("cli")

	if cfg.Runner == runner.KindRsync {
		if _, err := exec.Default.LookPath(cfg.RsyncPath); err != nil {
			return fmt.Errorf("rsync not available: %w", err)
		}
	}

	sd.ListenForSignals(os.Interrupt, syscall.SIGTERM)
	ctx := sd.Context()

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store %s: %w", cfg.Store, err)
	}
	sd.Register("store", func(context.Context) error { return st.Close() })

	m := metrics.Global()
	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, m)
		if err := srv.Start(func(err error) {
			log.Error("metrics_server_failed", nil, err)
		}); err != nil {
			return err
		}
		sd.Register("metrics", srv.Stop)
		log.Info("metrics_listening", map[string]any{"addr": srv.Addr()})
	}

	r, err := runner.New(cfg.Runner, runner.Options{RsyncPath: cfg.RsyncPath, ExtraArgs: cfg.RsyncArgs})
	if err != nil {
		return err
	}

	opts := []orchestrator.Option{orchestrator.WithMetrics(m)}
	if interactive {
		opts = append(opts, orchestrator.WithDashboard(&tui.Dashboard{
			Interval:    cfg.RefreshInterval,
			OnInterrupt: func() { sd.Cancel(runtime.ErrInterrupted) },
		}))
	}

	mgr := orchestrator.NewManager(managerConfig(cfg), st, r, opts...)
	summary, runErr := mgr.Run(ctx)
	if summary != nil {
		fmt.Fprint(out, render.New(pretty).Summary(summary))
	}
	if sd.Interrupted() {
		log.Warn("run_interrupted", map[string]any{"cause": context.Cause(ctx).Error()}, runErr)
		return errInterrupted
	}
	return runErr
}

func managerConfig(cfg *config.Config) orchestrator.Config {
	return orchestrator.Config{
		Source:       cfg.Source,
		Destination:  cfg.Destination,
		Depth:        cfg.Depth,
		Discover:     cfg.Discover,
		RetryErrored: cfg.RetryErrored,
		Walker: discovery.Config{
			Parallelism:    cfg.DiscoveryParallelism,
			Exclude:        cfg.Exclude,
			FollowSymlinks: cfg.FollowSymlinks,
		},
		Pool: orchestrator.PoolConfig{
			Workers:      cfg.Threads,
			BatchSize:    cfg.BatchSize,
			BlockingPool: cfg.BlockingPool,
			PollInterval: cfg.PollInterval,
		},
	}
}
