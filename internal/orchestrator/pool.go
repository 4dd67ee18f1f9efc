// Package orchestrator runs discovery and the worker pool against the task store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/joss/rawrsync/internal/logging"
	"github.com/joss/rawrsync/internal/metrics"
	"github.com/joss/rawrsync/internal/runner"
	"github.com/joss/rawrsync/internal/store"
)

// Pool defaults.
const (
	DefaultBatchSize    = 10
	DefaultPollInterval = time.Second
)

// TaskQueue is the part of the store workers use.
type TaskQueue interface {
	ClaimUnclaimed(ctx context.Context, maxCount int) ([]store.ClaimedTask, error)
	IsDiscovering(ctx context.Context) (bool, error)
	RecordResult(ctx context.Context, taskID int64, r store.Result) error
	RecordTransition(ctx context.Context, taskID int64, status store.Status) error
}

// PoolConfig sizes the pool.
type PoolConfig struct {
	Workers      int
	BatchSize    int
	BlockingPool int // concurrent runner invocations across all workers; 0 = Workers
	PollInterval time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BlockingPool <= 0 {
		c.BlockingPool = c.Workers
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Pool runs N workers that claim batches from a TaskQueue and hand each task to a Runner.
type Pool struct {
	queue    TaskQueue
	runner   runner.Runner
	cfg      PoolConfig
	sem      *semaphore.Weighted
	metrics  *metrics.Metrics
	recovery *logging.RecoveryHandler

	// Callbacks. NewPool installs ones that record metrics and log;
	// replace them by wrapping the previous value.
	OnTaskStarted  func(ctx context.Context, workerID string, task store.ClaimedTask)
	OnTaskComplete func(ctx context.Context, workerID string, task store.ClaimedTask, out runner.Outcome)
	OnTaskFailed   func(ctx context.Context, workerID string, task store.ClaimedTask, out runner.Outcome, err error)
}

// NewPool creates a pool. A nil m records into a private Metrics.
func NewPool(q TaskQueue, r runner.Runner, cfg PoolConfig, m *metrics.Metrics) *Pool {
	cfg = cfg.withDefaults()
	if m == nil {
		m = metrics.New()
	}
	p := &Pool{
		queue:    q,
		runner:   r,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.BlockingPool)),
		metrics:  m,
		recovery: logging.NewRecoveryHandler("task"),
	}
	p.recovery.OnPanic = func(any, string) { m.RecordPanic() }
	p.OnTaskStarted = p.taskStarted
	p.OnTaskComplete = p.taskComplete
	p.OnTaskFailed = p.taskFailed
	return p
}

func (p *Pool) taskStarted(ctx context.Context, workerID string, task store.ClaimedTask) {
	p.metrics.TaskStarted()
	logging.FromContext(ctx, "pool").WithWorker(workerID).Debug("task_started",
		map[string]any{"task": task.ID, "event": task.EventID, "source": task.Source})
}

func (p *Pool) taskComplete(ctx context.Context, workerID string, task store.ClaimedTask, out runner.Outcome) {
	p.metrics.RecordTask(true, out.Duration)
	logging.FromContext(ctx, "pool").WithWorker(workerID).Debug("task_processed", taskFields(task, out))
}

func (p *Pool) taskFailed(ctx context.Context, workerID string, task store.ClaimedTask, out runner.Outcome, err error) {
	p.metrics.RecordTask(false, out.Duration)
	logging.FromContext(ctx, "pool").WithWorker(workerID).Warn("task_failed", taskFields(task, out), err)
}

func taskFields(task store.ClaimedTask, out runner.Outcome) map[string]any {
	return map[string]any{
		"task":      task.ID,
		"source":    task.Source,
		"status":    string(out.Status),
		"exit_code": out.ExitCode,
	}
}

// Config returns the effective configuration.
func (p *Pool) Config() PoolConfig {
	return p.cfg
}

// Run starts the workers and waits for all of them.
// Workers stop once discovery is no longer running and a claim comes back empty.
func (p *Pool) Run(ctx context.Context) error {
	log := logging.FromContext(ctx, "pool")
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		id := fmt.Sprintf("worker-%d", i)
		g.Go(func() error {
			return p.work(gctx, id)
		})
	}
	err := g.Wait()
	log.TimedEvent("pool_finished", start, map[string]any{"workers": p.cfg.Workers})
	return err
}

func (p *Pool) work(ctx context.Context, id string) error {
	log := logging.FromContext(ctx, "pool").WithWorker(id)
	log.Debug("worker_started", nil)
	defer log.Debug("worker_stopped", nil)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Read before claiming: a batch added between an empty claim and a
		// later read would otherwise be missed by a worker about to exit.
		discovering, err := p.queue.IsDiscovering(ctx)
		if err != nil {
			return fmt.Errorf("%s: read discovery phase: %w", id, err)
		}
		batch, err := p.queue.ClaimUnclaimed(ctx, p.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("%s: claim: %w", id, err)
		}
		p.metrics.RecordClaim(len(batch))

		if len(batch) == 0 {
			if !discovering {
				return nil
			}
			if err := sleep(ctx, p.cfg.PollInterval); err != nil {
				return err
			}
			continue
		}

		log.Debug("batch_claimed", map[string]any{"size": len(batch), "claim": batch[0].ClaimID})
		if err := p.dispatch(ctx, id, batch); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// dispatch runs every task of the batch concurrently and waits for all of them.
// Only storage failures are returned.
func (p *Pool) dispatch(ctx context.Context, workerID string, batch []store.ClaimedTask) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, task := range batch {
		wg.Add(1)
		go func(task store.ClaimedTask) {
			defer wg.Done()
			err := p.runBlocking(ctx, func() error {
				return p.execute(ctx, workerID, task)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(task)
	}
	wg.Wait()
	return firstErr
}

// runBlocking runs fn once a slot in the blocking pool is free.
func (p *Pool) runBlocking(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}

func (p *Pool) execute(ctx context.Context, workerID string, task store.ClaimedTask) error {
	if p.OnTaskStarted != nil {
		p.OnTaskStarted(ctx, workerID, task)
	}

	var out runner.Outcome
	runErr := p.recovery.WrapError(func() error {
		var err error
		out, err = p.runner.Process(ctx, task.Root, task.Source, task.Destination)
		return err
	})

	if ctx.Err() != nil {
		// Interrupted: the task stays in progress and is requeued by the next run.
		p.metrics.TaskAbandoned()
		logging.FromContext(ctx, "pool").WithWorker(workerID).Warn("task_interrupted",
			map[string]any{"task": task.ID, "source": task.Source}, ctx.Err())
		return ctx.Err()
	}

	if runErr != nil {
		out.Status = store.StatusErrored
		if out.ExitCode == 0 {
			out.ExitCode = -1
		}
		if out.Stderr == "" {
			out.Stderr = runErr.Error()
		}
	} else if out.Status != store.StatusCompleted {
		out.Status = store.StatusErrored
	}

	rctx := context.WithoutCancel(ctx)
	if err := p.queue.RecordResult(rctx, task.ID, out.Result()); err != nil {
		return fmt.Errorf("record result for task %d: %w", task.ID, err)
	}
	if err := p.queue.RecordTransition(rctx, task.ID, out.Status); err != nil {
		return fmt.Errorf("record %s for task %d: %w", out.Status, task.ID, err)
	}

	if out.Status == store.StatusCompleted {
		if p.OnTaskComplete != nil {
			p.OnTaskComplete(ctx, workerID, task, out)
		}
		return nil
	}

	if runErr == nil {
		runErr = fmt.Errorf("exit code %d", out.ExitCode)
	}
	if p.OnTaskFailed != nil {
		p.OnTaskFailed(ctx, workerID, task, out, runErr)
	}
	return nil
}
