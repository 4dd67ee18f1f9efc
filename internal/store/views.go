package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Stats returns all store counts from a single query.
func (s *TaskStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.withAccess(ctx, func() error {
		return s.db.QueryRowContext(ctx, `
			SELECT
				(SELECT COUNT(*) FROM tasks),
				(SELECT COUNT(*) FROM task_event),
				(SELECT COUNT(*) FROM active_task),
				(SELECT COUNT(*) FROM remaining_task),
				(SELECT COUNT(*) FROM error_task),
				(SELECT COUNT(*) FROM latest_task_event WHERE status = 'completed')
		`).Scan(&st.TaskCount, &st.EventCount, &st.ActiveCount,
			&st.RemainingCount, &st.ErrorCount, &st.CompletedCount)
	})
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

// RemainingTasks lists every task whose latest status is not completed.
func (s *TaskStore) RemainingTasks(ctx context.Context, f Filter) ([]TaskStatus, error) {
	return s.listStatuses(ctx, "remaining_task", "task_id", f)
}

// ActiveTasks lists tasks currently in progress, oldest claim first.
func (s *TaskStore) ActiveTasks(ctx context.Context, f Filter) ([]TaskStatus, error) {
	return s.listStatuses(ctx, "active_task", "event_id", f)
}

func (s *TaskStore) listStatuses(ctx context.Context, view, order string, f Filter) ([]TaskStatus, error) {
	limit, args := f.clause()
	query := `SELECT task_id, root_path, source_path, destination_path, event_id, status, change_time FROM ` +
		view + ` ORDER BY ` + order + limit

	var out []TaskStatus
	err := s.withAccess(ctx, func() error {
		out = nil
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			t, err := scanStatus(rows)
			if err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", view, err)
	}
	return out, nil
}

// ErrorTasks lists errored tasks with their recorded exit code and stderr.
func (s *TaskStore) ErrorTasks(ctx context.Context, f Filter) ([]FailedTask, error) {
	limit, args := f.clause()
	query := `
		SELECT e.task_id, e.root_path, e.source_path, e.destination_path, e.event_id, e.status, e.change_time,
			r.exit_code, r.stderr
		FROM error_task e
		LEFT JOIN task_result r ON r.task_id = e.task_id
		ORDER BY e.task_id` + limit

	var out []FailedTask
	err := s.withAccess(ctx, func() error {
		out = nil
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var ft FailedTask
			var changed string
			var exitCode sql.NullInt64
			var stderr sql.NullString
			if err := rows.Scan(&ft.ID, &ft.Root, &ft.Source, &ft.Destination, &ft.EventID,
				&ft.Status, &changed, &exitCode, &stderr); err != nil {
				return err
			}
			ft.ChangedAt = parseTime(changed)
			if exitCode.Valid {
				ft.HasResult = true
				ft.ExitCode = int(exitCode.Int64)
				ft.Stderr = stderr.String
			}
			out = append(out, ft)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list errors: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatus(r rowScanner) (TaskStatus, error) {
	var t TaskStatus
	var changed string
	if err := r.Scan(&t.ID, &t.Root, &t.Source, &t.Destination, &t.EventID, &t.Status, &changed); err != nil {
		return TaskStatus{}, err
	}
	t.ChangedAt = parseTime(changed)
	return t, nil
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
