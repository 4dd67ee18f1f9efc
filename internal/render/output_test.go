package render

import (
	"os"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/joss/rawrsync/internal/discovery"
	"github.com/joss/rawrsync/internal/orchestrator"
	"github.com/joss/rawrsync/internal/store"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func task(id int64, source string, status store.Status) store.TaskStatus {
	return store.TaskStatus{
		ID:        id,
		TaskKey:   store.TaskKey{Root: "/src", Source: source, Destination: "/dst"},
		Status:    status,
		ChangedAt: time.Now(),
	}
}

func TestSummary(t *testing.T) {
	s := &orchestrator.Summary{
		RunID:     "01JRUN",
		Stats:     store.Stats{TaskCount: 3, EventCount: 9, CompletedCount: 2, ErrorCount: 1},
		Remaining: []store.TaskStatus{task(3, "/src/c", store.StatusErrored)},
		Requeued:  1,
		Completed: 1,
		Failed:    1,
		Discovery: discovery.Stats{DirsVisited: 5, Added: 2},
		Duration:  1500 * time.Millisecond,
	}

	pretty := New(true).Summary(s)
	assert.Contains(t, pretty, "Run 01JRUN")
	assert.Contains(t, pretty, "5 dirs visited, 2 tasks added")
	assert.Contains(t, pretty, "Requeued:   1")
	assert.Contains(t, pretty, "This run:   1 completed, 1 errored")
	assert.Contains(t, pretty, "Completed:  2")
	assert.Contains(t, pretty, "Ran in [1.50] seconds")
	assert.Contains(t, pretty, "Remaining (1)")
	assert.Contains(t, pretty, "/src/c")

	plain := New(false).Summary(s)
	assert.Contains(t, plain, "run=01JRUN visited=5 added=2 requeued=1 ran=1 failed=1")
	assert.Contains(t, plain, "tasks=3 updates=9 active=0 remaining=0 completed=2 errored=1")
	assert.Contains(t, plain, "errored /src/c")
}

func TestTasksEmpty(t *testing.T) {
	assert.Equal(t, "No active tasks\n", New(true).Tasks(nil, "Active"))
}

func TestTasks(t *testing.T) {
	out := New(true).Tasks([]store.TaskStatus{
		task(1, "/src/a", store.StatusProgress),
		task(2, "/src/b", store.StatusDiscovered),
	}, "Active")
	assert.Contains(t, out, "Active (2)")
	assert.Contains(t, out, "⟳")
	assert.Contains(t, out, "#2 /src/b")
}

func TestFailures(t *testing.T) {
	failed := []store.FailedTask{
		{
			TaskStatus: task(4, "/src/x", store.StatusErrored),
			ExitCode:   23,
			Stderr:     "rsync: one\nrsync: two\nrsync: three\nrsync error: partial transfer\n",
			HasResult:  true,
		},
		{TaskStatus: task(5, "/src/y", store.StatusErrored)},
	}

	pretty := New(true).Failures(failed)
	assert.Contains(t, pretty, "Errored tasks (2)")
	assert.Contains(t, pretty, "exit=23 /src/x")
	assert.Contains(t, pretty, "rsync error: partial transfer")
	assert.NotContains(t, pretty, "rsync: one")
	assert.Contains(t, pretty, "exit=? /src/y")

	plain := New(false).Failures(failed)
	assert.Contains(t, plain, `4 exit=23 /src/x error="rsync: one rsync: two rsync: three rsync error: partial transfer"`)
	assert.Contains(t, plain, "5 exit=? /src/y\n")

	assert.Equal(t, "No errored tasks\n", New(true).Failures(nil))
}

func TestRuns(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	runs := []store.Run{
		{ID: "r2", Source: "/src", Destination: "/dst", StartedAt: start},
		{ID: "r1", Source: "/src", Destination: "/dst", StartedAt: start, FinishedAt: start.Add(90 * time.Second), TaskCount: 4},
	}
	out := New(false).Runs(runs)
	assert.Contains(t, out, "r2 /src /dst tasks=0 remaining=0 errored=0 running")
	assert.Contains(t, out, "r1 /src /dst tasks=4 remaining=0 errored=0 1m30s")

	assert.Equal(t, "No runs recorded\n", New(true).Runs(nil))
}

func TestHistory(t *testing.T) {
	ts := task(7, "/src/h", store.StatusCompleted)
	events := []store.Event{
		{ID: 1, TaskID: 7, Status: store.StatusDiscovered, ChangedAt: time.Now()},
		{ID: 2, TaskID: 7, Status: store.StatusProgress, ChangedAt: time.Now(), ClaimID: "c-1"},
		{ID: 3, TaskID: 7, Status: store.StatusCompleted, ChangedAt: time.Now()},
	}
	result := &store.StoredResult{TaskID: 7, Result: store.Result{Duration: 250 * time.Millisecond}}

	out := New(false).History(&ts, events, result)
	assert.Contains(t, out, "task=7 source=/src/h")
	assert.Contains(t, out, "2 progress claim=c-1")
	assert.Contains(t, out, "3 completed\n")
	assert.Contains(t, out, "exit=0 duration=250ms")

	pretty := New(true).History(&ts, events, nil)
	assert.Contains(t, pretty, "Task #7 /src/h")
	assert.Contains(t, pretty, "✓")
	assert.NotContains(t, pretty, "Exit:")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "500ms", FormatDuration(500*time.Millisecond))
	assert.Equal(t, "2.5s", FormatDuration(2500*time.Millisecond))
	assert.Equal(t, "2m5s", FormatDuration(125*time.Second))
}

func TestRunIcon(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Minute)
	assert.Equal(t, "⟳", RunIcon(store.Run{StartedAt: start}))
	assert.Equal(t, "✓", RunIcon(store.Run{StartedAt: start, FinishedAt: end, TaskCount: 3}))
	assert.Equal(t, "✗", RunIcon(store.Run{StartedAt: start, FinishedAt: end, ErrorCount: 1}))
	assert.Equal(t, "✗", RunIcon(store.Run{StartedAt: start, FinishedAt: end, RemainingCount: 2}))
	assert.Equal(t, "○", StatusIcon(store.StatusDiscovered))
}

func TestStatus(t *testing.T) {
	st := store.Stats{TaskCount: 2, CompletedCount: 2}
	assert.Equal(t, "store=/tmp/t.db discovery=Completed tasks=2 updates=0 active=0 remaining=0 completed=2 errored=0\n",
		New(false).Status("/tmp/t.db", store.PhaseCompleted, st))

	pretty := New(true).Status("/tmp/t.db", store.PhaseStarted, st)
	assert.Contains(t, pretty, "Store:     /tmp/t.db\n")
	assert.Contains(t, pretty, "Discovery: Started\n")
	assert.Contains(t, pretty, "Completed:  2")
}

func TestRequeued(t *testing.T) {
	assert.Equal(t, "requeued=3\n", New(false).Requeued(3))
	assert.Equal(t, "✓ Requeued 3 tasks\n", New(true).Requeued(3))
}
