// Package logging provides run ID tracing through contexts.
package logging

import (
	"context"

	"github.com/oklog/ulid/v2"
)

type contextKey string

const runIDKey contextKey = "run_id"

// NewRunID generates a lexically sortable run ID.
func NewRunID() string {
	return ulid.Make().String()
}

// WithRunID adds a run ID to context.
// If id is empty, generates a new one.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = NewRunID()
	}
	return context.WithValue(ctx, runIDKey, id)
}

// GetRunID extracts the run ID from context.
// Returns empty string if not present.
func GetRunID(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey).(string); ok {
		return v
	}
	return ""
}

// FromContext returns a component logger tagged with the context's run ID.
func FromContext(ctx context.Context, component string) *Logger {
	return New(component).WithRun(GetRunID(ctx))
}
