package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const phaseKey = "discovery"

// SetDiscoveryPhase persists the discovery phase.
// Resetting to NotStarted is always allowed; moving from Completed to Started is not.
func (s *TaskStore) SetDiscoveryPhase(ctx context.Context, phase Phase) error {
	switch phase {
	case PhaseNotStarted, PhaseStarted, PhaseCompleted:
	default:
		return fmt.Errorf("%w: unknown phase %q", ErrInvalidPhase, phase)
	}

	return s.withAccess(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		current, err := readPhase(ctx, tx)
		if err != nil {
			return err
		}
		if phase == PhaseStarted && current == PhaseCompleted {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidPhase, current, phase)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO state (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, phaseKey, string(phase)); err != nil {
			return fmt.Errorf("set discovery phase: %w", err)
		}
		return tx.Commit()
	})
}

// DiscoveryPhase returns the persisted phase, NotStarted if never set.
func (s *TaskStore) DiscoveryPhase(ctx context.Context) (Phase, error) {
	var phase Phase
	err := s.withAccess(ctx, func() error {
		var err error
		phase, err = readPhase(ctx, s.db)
		return err
	})
	if err != nil {
		return PhaseNotStarted, err
	}
	return phase, nil
}

// IsDiscovering reports whether discovery is running and may still add tasks.
func (s *TaskStore) IsDiscovering(ctx context.Context) (bool, error) {
	phase, err := s.DiscoveryPhase(ctx)
	if err != nil {
		return false, err
	}
	return phase == PhaseStarted, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readPhase(ctx context.Context, q queryRower) (Phase, error) {
	var v string
	err := q.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, phaseKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return PhaseNotStarted, nil
	}
	if err != nil {
		return PhaseNotStarted, fmt.Errorf("read discovery phase: %w", err)
	}
	return Phase(v), nil
}
