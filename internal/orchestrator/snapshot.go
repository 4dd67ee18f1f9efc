package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/joss/rawrsync/internal/store"
)

// Snapshot is a read-only view of progress.
type Snapshot struct {
	Stats       store.Stats
	Active      []string
	Discovering bool
	TakenAt     time.Time
}

// SnapshotSource produces snapshots. Implementations never write.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// SnapshotReader is the read side of the store a SnapshotSource needs.
type SnapshotReader interface {
	Stats(ctx context.Context) (store.Stats, error)
	ActiveTasks(ctx context.Context, f store.Filter) ([]store.TaskStatus, error)
	IsDiscovering(ctx context.Context) (bool, error)
}

type storeSnapshots struct {
	r SnapshotReader
}

// NewSnapshotSource reads snapshots from r.
func NewSnapshotSource(r SnapshotReader) SnapshotSource {
	return storeSnapshots{r: r}
}

func (s storeSnapshots) Snapshot(ctx context.Context) (Snapshot, error) {
	st, err := s.r.Stats(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot stats: %w", err)
	}
	active, err := s.r.ActiveTasks(ctx, store.DefaultFilter())
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot active: %w", err)
	}
	discovering, err := s.r.IsDiscovering(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot phase: %w", err)
	}
	snap := Snapshot{Stats: st, Discovering: discovering, TakenAt: time.Now()}
	for _, t := range active {
		snap.Active = append(snap.Active, t.Source)
	}
	return snap, nil
}
