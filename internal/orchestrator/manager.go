package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joss/rawrsync/internal/discovery"
	"github.com/joss/rawrsync/internal/logging"
	"github.com/joss/rawrsync/internal/metrics"
	"github.com/joss/rawrsync/internal/runner"
	"github.com/joss/rawrsync/internal/store"
)

// Store is everything a run needs from the task store.
type Store interface {
	TaskQueue
	AddTask(ctx context.Context, root, source, destination string) (bool, error)
	SetDiscoveryPhase(ctx context.Context, phase store.Phase) error
	RequeueRemaining(ctx context.Context, includeErrored bool) (int, error)
	StartRun(ctx context.Context, id, source, destination string) error
	FinishRun(ctx context.Context, id string, st store.Stats) error
	Stats(ctx context.Context) (store.Stats, error)
	RemainingTasks(ctx context.Context, f store.Filter) ([]store.TaskStatus, error)
	ActiveTasks(ctx context.Context, f store.Filter) ([]store.TaskStatus, error)
}

var _ Store = (*store.TaskStore)(nil)

// Dashboard consumes snapshots while a run is in progress.
// Run must return once ctx is cancelled.
type Dashboard interface {
	Run(ctx context.Context, src SnapshotSource) error
}

// Config describes one run.
type Config struct {
	Source       string
	Destination  string
	Depth        int
	Discover     bool
	RetryErrored bool
	Walker       discovery.Config
	Pool         PoolConfig
}

// Summary is the outcome of Manager.Run.
type Summary struct {
	RunID     string
	Stats     store.Stats
	Completed int // tasks this run completed
	Failed    int // tasks this run recorded as errored
	Remaining []store.TaskStatus
	Requeued  int
	Discovery discovery.Stats
	Duration  time.Duration
}

// Manager wires discovery, the worker pool and an optional dashboard around one store.
type Manager struct {
	cfg       Config
	store     Store
	runner    runner.Runner
	metrics   *metrics.Metrics
	dashboard Dashboard
	log       *logging.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records counters into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mg *Manager) { mg.metrics = m }
}

// WithDashboard attaches a dashboard for the duration of the run.
func WithDashboard(d Dashboard) Option {
	return func(mg *Manager) { mg.dashboard = d }
}

// NewManager creates a Manager.
func NewManager(cfg Config, st Store, r runner.Runner, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		store:  st,
		runner: r,
		log:    logging.New("manager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.New()
	}
	return m
}

// Run executes a full transfer: requeue leftovers, discover, drain, report.
// The summary is returned even when the run fails part way.
func (m *Manager) Run(ctx context.Context) (*Summary, error) {
	runID := logging.NewRunID()
	ctx = logging.WithRunID(ctx, runID)
	log := m.log.WithRun(runID)
	start := time.Now()
	summary := &Summary{RunID: runID}

	walkerCfg := m.cfg.Walker
	visit := walkerCfg.OnVisit
	walkerCfg.OnVisit = func(dir string) {
		m.metrics.RecordVisit()
		if visit != nil {
			visit(dir)
		}
	}
	walker, err := discovery.New(walkerCfg)
	if err != nil {
		return nil, err
	}

	if err := m.store.StartRun(ctx, runID, m.cfg.Source, m.cfg.Destination); err != nil {
		return nil, err
	}
	if err := m.store.SetDiscoveryPhase(ctx, store.PhaseNotStarted); err != nil {
		return nil, err
	}
	requeued, err := m.store.RequeueRemaining(ctx, m.cfg.RetryErrored)
	if err != nil {
		return nil, err
	}
	summary.Requeued = requeued
	if requeued > 0 {
		log.Info("tasks_requeued", map[string]any{"count": requeued, "errored": m.cfg.RetryErrored})
	}

	if m.cfg.Discover {
		if err := m.store.SetDiscoveryPhase(ctx, store.PhaseStarted); err != nil {
			return nil, err
		}
	}

	pool := NewPool(m.store, m.runner, m.cfg.Pool, m.metrics)
	var completed, failed atomic.Int64
	recordComplete, recordFailed := pool.OnTaskComplete, pool.OnTaskFailed
	pool.OnTaskComplete = func(ctx context.Context, workerID string, task store.ClaimedTask, out runner.Outcome) {
		recordComplete(ctx, workerID, task, out)
		completed.Add(1)
	}
	pool.OnTaskFailed = func(ctx context.Context, workerID string, task store.ClaimedTask, out runner.Outcome, err error) {
		recordFailed(ctx, workerID, task, out, err)
		failed.Add(1)
	}
	log.Info("run_started", map[string]any{
		"source":      m.cfg.Source,
		"destination": m.cfg.Destination,
		"depth":       m.cfg.Depth,
		"discover":    m.cfg.Discover,
		"workers":     pool.Config().Workers,
		"batch":       pool.Config().BatchSize,
	})

	stopDashboard := m.startDashboard(ctx)

	var discoverErr error
	g, gctx := errgroup.WithContext(ctx)
	if m.cfg.Discover {
		g.Go(func() error {
			if err := m.discover(gctx, walker); err != nil {
				discoverErr = fmt.Errorf("discovery: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return pool.Run(gctx)
	})
	runErr := g.Wait()
	stopDashboard()

	summary.Discovery = walker.Stats()
	summary.Completed = int(completed.Load())
	summary.Failed = int(failed.Load())
	if err := m.finish(context.WithoutCancel(ctx), summary); err != nil {
		runErr = errors.Join(runErr, err)
	}
	summary.Duration = time.Since(start)

	runErr = errors.Join(discoverErr, runErr)
	fields := map[string]any{
		"tasks":     summary.Stats.TaskCount,
		"completed": summary.Stats.CompletedCount,
		"errored":   summary.Stats.ErrorCount,
		"remaining": summary.Stats.RemainingCount,
	}
	if runErr != nil {
		log.Error("run_failed", fields, runErr)
		return summary, runErr
	}
	log.TimedEvent("run_finished", start, fields)
	return summary, nil
}

// discover walks the source and always leaves the phase Completed so workers drain.
func (m *Manager) discover(ctx context.Context, walker *discovery.Walker) error {
	sink := discovery.SinkFunc(func(ctx context.Context, dir string) (bool, error) {
		added, err := m.store.AddTask(ctx, m.cfg.Source, dir, m.cfg.Destination)
		if err != nil {
			return false, err
		}
		m.metrics.RecordDiscovered(added)
		return added, nil
	})

	walkErr := walker.Discover(ctx, m.cfg.Source, m.cfg.Depth, sink)
	if err := m.store.SetDiscoveryPhase(context.WithoutCancel(ctx), store.PhaseCompleted); err != nil {
		return errors.Join(walkErr, fmt.Errorf("complete discovery: %w", err))
	}
	return walkErr
}

func (m *Manager) finish(ctx context.Context, summary *Summary) error {
	st, err := m.store.Stats(ctx)
	if err != nil {
		return err
	}
	summary.Stats = st

	remaining, err := m.store.RemainingTasks(ctx, store.DefaultFilter())
	if err != nil {
		return err
	}
	summary.Remaining = remaining

	log := m.log.WithRun(summary.RunID)
	for _, t := range remaining {
		log.Warn("remaining_task", map[string]any{"path": t.Source, "status": string(t.Status)}, nil)
	}
	return m.store.FinishRun(ctx, summary.RunID, st)
}

// startDashboard runs the dashboard until the returned func is called.
func (m *Manager) startDashboard(ctx context.Context) func() {
	if m.dashboard == nil {
		return func() {}
	}
	dctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	src := NewSnapshotSource(m.store)
	logging.SafeGo("dashboard", func() {
		defer close(done)
		if err := m.dashboard.Run(dctx, src); err != nil && !errors.Is(err, context.Canceled) {
			m.log.Warn("dashboard_failed", nil, err)
		}
	})
	return func() {
		cancel()
		<-done
	}
}
