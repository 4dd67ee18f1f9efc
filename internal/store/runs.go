package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// StartRun records the beginning of a run.
func (s *TaskStore) StartRun(ctx context.Context, id, source, destination string) error {
	return s.withAccess(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO runs (run_id, source, destination, started_at) VALUES (?, ?, ?, ?)
		`, id, source, destination, s.timestamp())
		if err != nil {
			return fmt.Errorf("start run %s: %w", id, err)
		}
		return nil
	})
}

// FinishRun stamps the end of a run with its final counts.
func (s *TaskStore) FinishRun(ctx context.Context, id string, st Stats) error {
	return s.withAccess(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE runs SET finished_at = ?, task_count = ?, remaining_count = ?, error_count = ?
			WHERE run_id = ?
		`, s.timestamp(), st.TaskCount, st.RemainingCount, st.ErrorCount, id)
		if err != nil {
			return fmt.Errorf("finish run %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return NewNotFoundError("run", id)
		}
		return nil
	})
}

// GetRun returns a run by id.
func (s *TaskStore) GetRun(ctx context.Context, id string) (*Run, error) {
	var r *Run
	err := s.withAccess(ctx, func() error {
		row := s.db.QueryRowContext(ctx, `
			SELECT run_id, source, destination, started_at, finished_at, task_count, remaining_count, error_count
			FROM runs WHERE run_id = ?
		`, id)
		var err error
		r, err = scanRun(row)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewNotFoundError("run", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

// ListRuns returns runs, most recent first.
func (s *TaskStore) ListRuns(ctx context.Context, f Filter) ([]Run, error) {
	limit, args := f.clause()
	var out []Run
	err := s.withAccess(ctx, func() error {
		out = nil
		rows, err := s.db.QueryContext(ctx, `
			SELECT run_id, source, destination, started_at, finished_at, task_count, remaining_count, error_count
			FROM runs ORDER BY started_at DESC, run_id DESC`+limit, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			r, err := scanRun(rows)
			if err != nil {
				return err
			}
			out = append(out, *r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

func scanRun(r rowScanner) (*Run, error) {
	var run Run
	var started, finished string
	if err := r.Scan(&run.ID, &run.Source, &run.Destination, &started, &finished,
		&run.TaskCount, &run.RemainingCount, &run.ErrorCount); err != nil {
		return nil, err
	}
	run.StartedAt = parseTime(started)
	if finished != "" {
		run.FinishedAt = parseTime(finished)
	}
	return &run, nil
}
