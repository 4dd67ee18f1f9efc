// Package runtime provides graceful shutdown handling for a transfer process.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/joss/rawrsync/internal/logging"
)

// ErrInterrupted is the cancellation cause when an operator stops the run.
var ErrInterrupted = errors.New("interrupted")

// DefaultShutdownTimeout bounds the whole cleanup sequence.
const DefaultShutdownTimeout = 30 * time.Second

// CleanupFunc releases one resource during shutdown.
type CleanupFunc func(ctx context.Context) error

type namedHandler struct {
	name string
	fn   CleanupFunc
}

// SignalError is the cancellation cause when a signal stops the run.
type SignalError struct {
	Signal os.Signal
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("received signal %v", e.Signal)
}

// Unwrap makes a SignalError match ErrInterrupted.
func (e *SignalError) Unwrap() error {
	return ErrInterrupted
}

// ShutdownManager owns the root context of a run and its cleanup handlers.
type ShutdownManager struct {
	mu       sync.Mutex
	handlers []namedHandler
	timeout  time.Duration

	ctx    context.Context
	cancel context.CancelCauseFunc

	once sync.Once
	err  error
	log  *logging.Logger
}

// NewShutdownManager derives a cancellable context from parent.
func NewShutdownManager(parent context.Context, timeout time.Duration) *ShutdownManager {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	ctx, cancel := context.WithCancelCause(parent)
	return &ShutdownManager{
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		log:     logging.New("shutdown"),
	}
}

// Context is cancelled by Cancel, a listened signal, or Close.
func (m *ShutdownManager) Context() context.Context {
	return m.ctx
}

// Cancel stops the run with cause. The first cause wins.
func (m *ShutdownManager) Cancel(cause error) {
	m.cancel(cause)
}

// Interrupted reports whether the run was stopped by Cancel(ErrInterrupted) or a signal.
func (m *ShutdownManager) Interrupted() bool {
	return errors.Is(context.Cause(m.ctx), ErrInterrupted)
}

// Register adds a cleanup handler.
// Handlers run one at a time, last registered first.
func (m *ShutdownManager) Register(name string, fn CleanupFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, namedHandler{name: name, fn: fn})
}

// RegisterSimple adds a cleanup function that cannot fail.
func (m *ShutdownManager) RegisterSimple(name string, fn func()) {
	m.Register(name, func(context.Context) error {
		fn()
		return nil
	})
}

// ListenForSignals cancels the context on the first of sigs.
// The returned func stops listening; Close calls it too.
func (m *ShutdownManager) ListenForSignals(sigs ...os.Signal) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	stopped := make(chan struct{})

	go func() {
		select {
		case sig := <-ch:
			m.log.Warn("signal_received", map[string]any{"signal": sig.String()}, nil)
			m.Cancel(&SignalError{Signal: sig})
		case <-stopped:
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			signal.Stop(ch)
			close(stopped)
		})
	}
	m.RegisterSimple("signals", stop)
	return stop
}

// Close cancels the context and runs every handler once.
// Later calls return the first result.
func (m *ShutdownManager) Close() error {
	m.once.Do(func() {
		m.cancel(context.Canceled)
		m.err = m.runHandlers()
	})
	return m.err
}

func (m *ShutdownManager) runHandlers() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.mu.Lock()
	handlers := make([]namedHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	var errs []error
	for i := len(handlers) - 1; i >= 0; i-- {
		h := handlers[i]
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("%s: skipped: %w", h.name, ctx.Err()))
			continue
		}
		start := time.Now()
		if err := h.fn(ctx); err != nil {
			m.log.Warn("cleanup_failed", map[string]any{"handler": h.name}, err)
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		m.log.TimedEvent("cleanup_done", start, map[string]any{"handler": h.name})
	}
	return errors.Join(errs...)
}
