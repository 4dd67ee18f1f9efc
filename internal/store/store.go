// Package store provides the durable task store.
// Tasks, their append-only event log, execution results and the discovery flag
// live in one SQLite file; current status is always derived from the latest event.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/joss/rawrsync/internal/config"
)

const timeLayout = time.RFC3339Nano

// TaskStore is the SQLite-backed task store.
//
// Two locks guard it. claimMu makes the read-unclaimed-then-mark-progress
// sequence of ClaimUnclaimed a single critical section. accessMu, when
// serialized access is enabled, lets only one goroutine touch the database
// at a time; it exists for the storage engine, not for scheduling.
type TaskStore struct {
	db   *sql.DB
	path string

	claimMu   sync.Mutex
	accessMu  sync.Mutex
	serialize bool

	closed atomic.Bool
	now    func() time.Time
}

// Option configures a TaskStore.
type Option func(*TaskStore)

// WithSerializedAccess toggles the storage access lock (default on).
func WithSerializedAccess(on bool) Option {
	return func(s *TaskStore) { s.serialize = on }
}

// WithClock overrides the clock used for event and result timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *TaskStore) { s.now = now }
}

// Open opens (creating if needed) the store at path and ensures its schema.
func Open(ctx context.Context, path string, opts ...Option) (*TaskStore, error) {
	if err := config.EnsureDir(path); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &TaskStore{
		db:        db,
		path:      path,
		serialize: true,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *TaskStore) migrate(ctx context.Context) error {
	return s.withAccess(ctx, func() error {
		_, err := s.db.ExecContext(ctx, schema)
		return err
	})
}

// Path returns the store file path.
func (s *TaskStore) Path() string {
	return s.path
}

// Close closes the database. Further calls return ErrClosed.
func (s *TaskStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return s.db.Close()
}

func (s *TaskStore) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}

// withAccess runs fn under the storage access lock, retrying transient busy errors.
func (s *TaskStore) withAccess(ctx context.Context, fn func() error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if s.serialize {
		s.accessMu.Lock()
		defer s.accessMu.Unlock()
	}
	return retryOnBusy(ctx, 5, fn)
}

// retryOnBusy retries f when SQLite returns BUSY or LOCKED, using exponential
// backoff with bounded jitter on top of the driver's busy_timeout.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil || !isBusy(err) || attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		delay = delay - delay/4 + time.Duration(rand.Intn(int(delay/2)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Filter limits listing queries.
type Filter struct {
	Limit  int // Maximum results (0 = no limit)
	Offset int // Skip first N results
}

// DefaultFilter returns a filter without limits.
func DefaultFilter() Filter {
	return Filter{}
}

// WithLimit returns a copy of the filter with a new limit.
func (f Filter) WithLimit(n int) Filter {
	f.Limit = n
	return f
}

// WithOffset returns a copy of the filter with a new offset.
func (f Filter) WithOffset(n int) Filter {
	f.Offset = n
	return f
}

func (f Filter) clause() (string, []any) {
	if f.Limit <= 0 && f.Offset <= 0 {
		return "", nil
	}
	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	return " LIMIT ? OFFSET ?", []any{limit, f.Offset}
}
