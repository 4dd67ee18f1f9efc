package store

import (
	"errors"
	"fmt"
)

// Common store errors.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store is closed")

	// ErrInvalidStatus indicates a status that cannot be recorded by the caller.
	ErrInvalidStatus = errors.New("invalid task status")

	// ErrNotClaimed indicates a terminal transition for a task that is not in progress.
	ErrNotClaimed = errors.New("task is not claimed")

	// ErrInvalidPhase indicates a discovery phase transition that would revert Completed.
	ErrInvalidPhase = errors.New("invalid discovery phase transition")
)

// NotFoundError wraps ErrNotFound with entity details.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFoundError creates a typed not found error.
func NewNotFoundError(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsNotClaimed checks if an error reports a transition without a prior claim.
func IsNotClaimed(err error) bool {
	return errors.Is(err, ErrNotClaimed)
}
