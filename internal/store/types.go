package store

import (
	"strings"
	"time"
)

// Status is the status carried by a task event.
type Status string

const (
	StatusDiscovered Status = "discovered"
	StatusProgress   Status = "progress"
	StatusCompleted  Status = "completed"
	StatusErrored    Status = "errored"
)

// Terminal reports whether s ends a claim.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusErrored
}

// Phase is the persisted discovery state.
type Phase string

const (
	PhaseNotStarted Phase = "NotStarted"
	PhaseStarted    Phase = "Started"
	PhaseCompleted  Phase = "Completed"
)

// TaskKey is the unique identity of a task.
type TaskKey struct {
	Root        string
	Source      string
	Destination string
}

// depth is the number of path elements in Source; unclaimed tasks are ordered deepest first.
func (k TaskKey) depth() int {
	return strings.Count(strings.Trim(k.Source, "/"), "/") + 1
}

// ClaimedTask is a task handed to a worker by ClaimUnclaimed.
type ClaimedTask struct {
	ID int64
	TaskKey
	EventID   int64
	ClaimID   string
	Status    Status
	ChangedAt time.Time
}

// TaskStatus is a task with its derived current status.
type TaskStatus struct {
	ID int64
	TaskKey
	EventID   int64
	Status    Status
	ChangedAt time.Time
}

// FailedTask is an errored task with its recorded execution detail.
type FailedTask struct {
	TaskStatus
	ExitCode  int
	Stderr    string
	HasResult bool
}

// Event is one entry in a task's append-only history.
type Event struct {
	ID        int64
	TaskID    int64
	Status    Status
	ChangedAt time.Time
	ClaimID   string
}

// Result is the execution detail of one runner invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// StoredResult is a Result as persisted.
type StoredResult struct {
	TaskID int64
	Result
	RecordedAt time.Time
}

// Stats is a point-in-time snapshot of store counts.
type Stats struct {
	TaskCount      int
	EventCount     int
	ActiveCount    int
	RemainingCount int
	ErrorCount     int
	CompletedCount int
}

// Run is one invocation of the tool against the store.
type Run struct {
	ID             string
	Source         string
	Destination    string
	StartedAt      time.Time
	FinishedAt     time.Time
	TaskCount      int
	RemainingCount int
	ErrorCount     int
}

// Finished reports whether the run recorded its end.
func (r Run) Finished() bool {
	return !r.FinishedAt.IsZero()
}
