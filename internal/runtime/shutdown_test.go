package runtime

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

func TestShutdownManager_DefaultTimeout(t *testing.T) {
	m := NewShutdownManager(context.Background(), 0)

	if m.timeout != DefaultShutdownTimeout {
		t.Errorf("expected timeout %v, got %v", DefaultShutdownTimeout, m.timeout)
	}
}

func TestShutdownManager_LIFO(t *testing.T) {
	m := NewShutdownManager(context.Background(), 5*time.Second)

	var order []string
	m.RegisterSimple("logs", func() { order = append(order, "logs") })
	m.RegisterSimple("store", func() { order = append(order, "store") })
	m.RegisterSimple("metrics", func() { order = append(order, "metrics") })

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	want := []string{"metrics", "store", "logs"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("handler %d: expected %s, got %s", i, want[i], order[i])
		}
	}
}

func TestShutdownManager_Context(t *testing.T) {
	m := NewShutdownManager(context.Background(), 5*time.Second)
	ctx := m.Context()

	select {
	case <-ctx.Done():
		t.Fatal("context should not be cancelled before shutdown")
	default:
	}

	_ = m.Close()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context should be cancelled after Close")
	}
	if m.Interrupted() {
		t.Error("Close alone is not an interruption")
	}
}

func TestShutdownManager_Cancel(t *testing.T) {
	m := NewShutdownManager(context.Background(), 5*time.Second)

	m.Cancel(ErrInterrupted)

	if !errors.Is(context.Cause(m.Context()), ErrInterrupted) {
		t.Errorf("expected ErrInterrupted cause, got %v", context.Cause(m.Context()))
	}
	if !m.Interrupted() {
		t.Error("expected Interrupted after Cancel(ErrInterrupted)")
	}
}

func TestShutdownManager_ParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	m := NewShutdownManager(parent, 5*time.Second)

	cancel()

	select {
	case <-m.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("context should follow its parent")
	}
}

func TestShutdownManager_Signal(t *testing.T) {
	m := NewShutdownManager(context.Background(), 5*time.Second)
	stop := m.ListenForSignals(syscall.SIGUSR1)
	defer stop()

	if err := syscall.Kill(os.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("kill: %v", err)
	}

	select {
	case <-m.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("signal did not cancel the context")
	}

	var sigErr *SignalError
	if !errors.As(context.Cause(m.Context()), &sigErr) || sigErr.Signal != syscall.SIGUSR1 {
		t.Errorf("expected SignalError for SIGUSR1, got %v", context.Cause(m.Context()))
	}
	if !m.Interrupted() {
		t.Error("a signal is an interruption")
	}
}

func TestShutdownManager_Timeout(t *testing.T) {
	m := NewShutdownManager(context.Background(), 100*time.Millisecond)

	var skipped atomic.Bool
	m.RegisterSimple("after-slow", func() { skipped.Store(false) })
	skipped.Store(true)
	m.Register("slow-handler", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})

	start := time.Now()
	err := m.Close()
	duration := time.Since(start)

	if duration > 500*time.Millisecond {
		t.Errorf("shutdown took too long: %v", duration)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
	if !skipped.Load() {
		t.Error("handlers after the deadline should be skipped")
	}
}

func TestShutdownManager_ErrorHandling(t *testing.T) {
	m := NewShutdownManager(context.Background(), 5*time.Second)

	var ran atomic.Bool
	m.RegisterSimple("success-handler", func() { ran.Store(true) })
	m.Register("error-handler", func(ctx context.Context) error {
		return errors.New("test error")
	})

	err := m.Close()
	if err == nil || err.Error() != "error-handler: test error" {
		t.Errorf("expected joined handler error, got %v", err)
	}
	if !ran.Load() {
		t.Error("a failing handler must not stop the rest")
	}
}

func TestShutdownManager_OnlyOnce(t *testing.T) {
	m := NewShutdownManager(context.Background(), 5*time.Second)

	var callCount int32
	m.Register("once-handler", func(ctx context.Context) error {
		atomic.AddInt32(&callCount, 1)
		return nil
	})

	_ = m.Close()
	_ = m.Close()
	_ = m.Close()

	if n := atomic.LoadInt32(&callCount); n != 1 {
		t.Errorf("handler should only be called once, got %d", n)
	}
}
