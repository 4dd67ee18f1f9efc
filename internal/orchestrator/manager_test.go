package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/rawrsync/internal/discovery"
	"github.com/joss/rawrsync/internal/runner"
	"github.com/joss/rawrsync/internal/store"
)

func sourceTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, d := range []string{"a/x", "a/y", "b"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0o755))
	}
	return root
}

func testConfig(root string) Config {
	return Config{
		Source:       root,
		Destination:  "/backup",
		Depth:        4,
		Discover:     true,
		RetryErrored: true,
		Pool:         PoolConfig{Workers: 2, BatchSize: 10, PollInterval: 5 * time.Millisecond},
	}
}

func TestManagerRunScenario(t *testing.T) {
	root := sourceTree(t)
	s := openStore(t)
	r := newFakeRunner(nil)

	summary, err := NewManager(testConfig(root), s, r).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, r.count(root))
	assert.Equal(t, 1, r.count(filepath.Join(root, "a")))
	assert.Equal(t, 2, r.total())

	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 2, summary.Stats.TaskCount)
	assert.Equal(t, 2, summary.Stats.CompletedCount)
	assert.Empty(t, summary.Remaining)
	assert.Equal(t, int64(2), summary.Discovery.Added)
	assert.Equal(t, 2, summary.Completed)
	assert.Zero(t, summary.Failed)

	run, err := s.GetRun(context.Background(), summary.RunID)
	require.NoError(t, err)
	assert.True(t, run.Finished())
	assert.Equal(t, 2, run.TaskCount)

	phase, err := s.DiscoveryPhase(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.PhaseCompleted, phase)
}

func TestManagerRerunSkipsCompleted(t *testing.T) {
	root := sourceTree(t)
	s := openStore(t)
	r := newFakeRunner(nil)

	_, err := NewManager(testConfig(root), s, r).Run(context.Background())
	require.NoError(t, err)

	summary, err := NewManager(testConfig(root), s, r).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, r.total(), "completed tasks are never claimed again")
	assert.Zero(t, summary.Discovery.Added)
	assert.Zero(t, summary.Completed, "nothing left to do this run")
	assert.Equal(t, 2, summary.Stats.TaskCount)

	runs, err := s.ListRuns(context.Background(), store.DefaultFilter())
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestManagerErroredTaskRemains(t *testing.T) {
	root := sourceTree(t)
	s := openStore(t)
	failing := filepath.Join(root, "a")
	r := newFakeRunner(func(_ context.Context, source string) (runner.Outcome, error) {
		if source == failing {
			return runner.Outcome{Status: store.StatusErrored, ExitCode: 1, Stderr: "rsync error"}, nil
		}
		return runner.Outcome{Status: store.StatusCompleted}, nil
	})

	summary, err := NewManager(testConfig(root), s, r).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Remaining, 1)
	assert.Equal(t, failing, summary.Remaining[0].Source)
	assert.Equal(t, store.StatusErrored, summary.Remaining[0].Status)
	assert.Equal(t, 1, summary.Stats.ErrorCount)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 1, summary.Failed)

	cfg := testConfig(root)
	cfg.RetryErrored = false
	summary, err = NewManager(cfg, s, r).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, r.count(failing), "errored task left alone without retry")
	assert.Zero(t, summary.Requeued)

	cfg.RetryErrored = true
	summary, err = NewManager(cfg, s, r).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, r.count(failing))
	assert.Equal(t, 1, summary.Requeued)
}

func TestManagerRequeuesOrphans(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	seed(t, s, 3)
	claimed, err := s.ClaimUnclaimed(ctx, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	r := newFakeRunner(nil)
	cfg := testConfig(t.TempDir())
	cfg.Discover = false

	summary, err := NewManager(cfg, s, r).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Requeued)
	assert.Equal(t, 3, r.total())
	assert.Equal(t, 3, summary.Stats.CompletedCount)
}

func TestManagerDiscoveryErrorStillDrains(t *testing.T) {
	s := openStore(t)
	seed(t, s, 2)
	r := newFakeRunner(nil)

	cfg := testConfig(filepath.Join(t.TempDir(), "missing"))
	summary, err := NewManager(cfg, s, r).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "discovery: ")
	require.NotNil(t, summary)
	assert.Equal(t, 2, r.total())
	assert.Equal(t, 2, summary.Stats.CompletedCount)
}

func TestManagerBadExclude(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Walker = discovery.Config{Exclude: []string{"[bad"}}
	_, err := NewManager(cfg, openStore(t), newFakeRunner(nil)).Run(context.Background())
	assert.Error(t, err)
}

type recordingDashboard struct {
	snapshots atomic.Int64
	stopped   atomic.Bool
}

func (d *recordingDashboard) Run(ctx context.Context, src SnapshotSource) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		if _, err := src.Snapshot(ctx); err == nil {
			d.snapshots.Add(1)
		}
		select {
		case <-ctx.Done():
			d.stopped.Store(true)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func TestManagerDashboardStopsWithRun(t *testing.T) {
	root := sourceTree(t)
	s := openStore(t)
	dash := &recordingDashboard{}
	r := newFakeRunner(func(context.Context, string) (runner.Outcome, error) {
		time.Sleep(20 * time.Millisecond)
		return runner.Outcome{Status: store.StatusCompleted}, nil
	})

	_, err := NewManager(testConfig(root), s, r, WithDashboard(dash)).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, dash.stopped.Load())
	assert.Positive(t, dash.snapshots.Load())
}

func TestSnapshotSource(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	seed(t, s, 3)
	_, err := s.ClaimUnclaimed(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, s.SetDiscoveryPhase(ctx, store.PhaseStarted))

	snap, err := NewSnapshotSource(s).Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/src/d00", "/src/d01"}, snap.Active)
	assert.True(t, snap.Discovering)
	assert.Equal(t, 3, snap.Stats.RemainingCount)
	assert.Equal(t, 2, snap.Stats.ActiveCount)
}
