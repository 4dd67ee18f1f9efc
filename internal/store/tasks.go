package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

const insertTask = `
	INSERT OR IGNORE INTO tasks (root_path, source_path, destination_path, depth)
	VALUES (?, ?, ?, ?)
`

// AddTask inserts a task unless its identity already exists.
// It reports whether a new task (and its discovered event) was created.
func (s *TaskStore) AddTask(ctx context.Context, root, source, destination string) (bool, error) {
	key := TaskKey{Root: root, Source: source, Destination: destination}
	var created bool
	err := s.withAccess(ctx, func() error {
		res, err := s.db.ExecContext(ctx, insertTask, key.Root, key.Source, key.Destination, key.depth())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		created = n > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("add task %s: %w", source, err)
	}
	return created, nil
}

// AddTasks inserts tasks in one transaction and returns how many were new.
func (s *TaskStore) AddTasks(ctx context.Context, keys []TaskKey) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	var added int
	err := s.withAccess(ctx, func() error {
		added = 0
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx, insertTask)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, k := range keys {
			res, err := stmt.ExecContext(ctx, k.Root, k.Source, k.Destination, k.depth())
			if err != nil {
				return fmt.Errorf("insert %s: %w", k.Source, err)
			}
			n, _ := res.RowsAffected()
			added += int(n)
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("add tasks: %w", err)
	}
	return added, nil
}

// ClaimUnclaimed selects up to maxCount tasks whose latest status is
// discovered, appends a progress event for each and returns them.
// Concurrent callers never receive the same task.
func (s *TaskStore) ClaimUnclaimed(ctx context.Context, maxCount int) ([]ClaimedTask, error) {
	if maxCount <= 0 {
		return nil, nil
	}

	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	claimID := uuid.NewString()
	var claimed []ClaimedTask
	err := s.withAccess(ctx, func() error {
		claimed = nil
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin claim tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		rows, err := tx.QueryContext(ctx, `
			SELECT task_id, root_path, source_path, destination_path
			FROM unclaimed_task
			ORDER BY depth DESC, task_id
			LIMIT ?
		`, maxCount)
		if err != nil {
			return fmt.Errorf("select unclaimed: %w", err)
		}
		for rows.Next() {
			var t ClaimedTask
			if err := rows.Scan(&t.ID, &t.Root, &t.Source, &t.Destination); err != nil {
				rows.Close()
				return fmt.Errorf("scan unclaimed: %w", err)
			}
			claimed = append(claimed, t)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}

		now := s.timestamp()
		changedAt := parseTime(now)
		for i := range claimed {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO task_event (task_id, status, change_time, claim_id)
				VALUES (?, ?, ?, ?)
			`, claimed[i].ID, StatusProgress, now, claimID)
			if err != nil {
				return fmt.Errorf("mark progress %d: %w", claimed[i].ID, err)
			}
			eventID, err := res.LastInsertId()
			if err != nil {
				return err
			}
			claimed[i].EventID = eventID
			claimed[i].ClaimID = claimID
			claimed[i].Status = StatusProgress
			claimed[i].ChangedAt = changedAt
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit claim tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// RecordTransition appends a terminal event (completed or errored) for a claimed task.
func (s *TaskStore) RecordTransition(ctx context.Context, taskID int64, status Status) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return s.withAccess(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transition tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var current Status
		err = tx.QueryRowContext(ctx, `SELECT status FROM latest_task_event WHERE task_id = ?`, taskID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return NewNotFoundError("task", strconv.FormatInt(taskID, 10))
		}
		if err != nil {
			return fmt.Errorf("read status %d: %w", taskID, err)
		}
		if current != StatusProgress {
			return fmt.Errorf("%w: task %d is %s", ErrNotClaimed, taskID, current)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_event (task_id, status, change_time) VALUES (?, ?, ?)
		`, taskID, status, s.timestamp()); err != nil {
			return fmt.Errorf("record %s for %d: %w", status, taskID, err)
		}
		return tx.Commit()
	})
}

// RecordResult stores the execution detail of a task's latest attempt.
// A task keeps one result row; a later call replaces it.
func (s *TaskStore) RecordResult(ctx context.Context, taskID int64, r Result) error {
	return s.withAccess(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO task_result (task_id, exit_code, stdout, stderr, duration_ms, result_time)
			VALUES (?, ?, ?, ?, ?, ?)
		`, taskID, r.ExitCode, r.Stdout, r.Stderr, r.Duration.Milliseconds(), s.timestamp())
		if err != nil {
			return fmt.Errorf("record result %d: %w", taskID, err)
		}
		return nil
	})
}

// TaskResult returns the stored result of a task.
func (s *TaskStore) TaskResult(ctx context.Context, taskID int64) (*StoredResult, error) {
	var r StoredResult
	var durationMs int64
	var recordedAt string
	err := s.withAccess(ctx, func() error {
		return s.db.QueryRowContext(ctx, `
			SELECT task_id, exit_code, stdout, stderr, duration_ms, result_time
			FROM task_result WHERE task_id = ?
		`, taskID).Scan(&r.TaskID, &r.ExitCode, &r.Stdout, &r.Stderr, &durationMs, &recordedAt)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewNotFoundError("result", strconv.FormatInt(taskID, 10))
	}
	if err != nil {
		return nil, fmt.Errorf("get result %d: %w", taskID, err)
	}
	r.Duration = msToDuration(durationMs)
	r.RecordedAt = parseTime(recordedAt)
	return &r, nil
}

// RequeueRemaining appends a discovered event to every task left in progress
// (orphaned by an interrupted run) and, if includeErrored, to every errored task.
// Completed tasks are never touched.
func (s *TaskStore) RequeueRemaining(ctx context.Context, includeErrored bool) (int, error) {
	statuses := []any{StatusProgress}
	placeholders := "?"
	if includeErrored {
		statuses = append(statuses, StatusErrored)
		placeholders = "?, ?"
	}

	var n int64
	err := s.withAccess(ctx, func() error {
		args := append([]any{StatusDiscovered, s.timestamp()}, statuses...)
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO task_event (task_id, status, change_time)
			SELECT task_id, ?, ? FROM latest_task_event
			WHERE status IN (`+placeholders+`)
			ORDER BY task_id
		`, args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("requeue remaining: %w", err)
	}
	return int(n), nil
}

// TaskHistory returns every event of a task in order.
func (s *TaskStore) TaskHistory(ctx context.Context, taskID int64) ([]Event, error) {
	var events []Event
	err := s.withAccess(ctx, func() error {
		events = nil
		rows, err := s.db.QueryContext(ctx, `
			SELECT event_id, task_id, status, change_time, claim_id
			FROM task_event WHERE task_id = ? ORDER BY event_id
		`, taskID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var e Event
			var changed string
			if err := rows.Scan(&e.ID, &e.TaskID, &e.Status, &changed, &e.ClaimID); err != nil {
				return err
			}
			e.ChangedAt = parseTime(changed)
			events = append(events, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("task history %d: %w", taskID, err)
	}
	if len(events) == 0 {
		return nil, NewNotFoundError("task", strconv.FormatInt(taskID, 10))
	}
	return events, nil
}

// FindTask returns the current status of the task with the given identity.
func (s *TaskStore) FindTask(ctx context.Context, key TaskKey) (*TaskStatus, error) {
	var t TaskStatus
	var changed string
	err := s.withAccess(ctx, func() error {
		return s.db.QueryRowContext(ctx, `
			SELECT task_id, root_path, source_path, destination_path, event_id, status, change_time
			FROM latest_task_event
			WHERE root_path = ? AND source_path = ? AND destination_path = ?
		`, key.Root, key.Source, key.Destination).Scan(
			&t.ID, &t.Root, &t.Source, &t.Destination, &t.EventID, &t.Status, &changed)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewNotFoundError("task", key.Source)
	}
	if err != nil {
		return nil, fmt.Errorf("find task %s: %w", key.Source, err)
	}
	t.ChangedAt = parseTime(changed)
	return &t, nil
}

// GetTask returns the current status of a task by id.
func (s *TaskStore) GetTask(ctx context.Context, taskID int64) (*TaskStatus, error) {
	var t TaskStatus
	var changed string
	err := s.withAccess(ctx, func() error {
		return s.db.QueryRowContext(ctx, `
			SELECT task_id, root_path, source_path, destination_path, event_id, status, change_time
			FROM latest_task_event WHERE task_id = ?
		`, taskID).Scan(&t.ID, &t.Root, &t.Source, &t.Destination, &t.EventID, &t.Status, &changed)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewNotFoundError("task", strconv.FormatInt(taskID, 10))
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", taskID, err)
	}
	t.ChangedAt = parseTime(changed)
	return &t, nil
}
