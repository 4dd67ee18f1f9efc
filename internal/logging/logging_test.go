package logging

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/joss/rawrsync/internal/config"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	SetBase(zap.New(core))
	t.Cleanup(func() { SetBase(zap.NewNop()) })
	return logs
}

func TestLoggerCreation(t *testing.T) {
	logger := New("test-component")

	if logger.Component() != "test-component" {
		t.Errorf("expected component 'test-component', got '%s'", logger.Component())
	}
	if logger.worker != "" || logger.run != "" {
		t.Errorf("expected empty worker/run, got %q/%q", logger.worker, logger.run)
	}
}

func TestLoggerWithWorker(t *testing.T) {
	logs := observe(t)

	New("component").WithWorker("worker-5").Info("claimed", map[string]any{"count": 3})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["worker"] != "worker-5" {
		t.Errorf("expected worker 'worker-5', got '%v'", ctx["worker"])
	}
	if ctx["count"] != int64(3) {
		t.Errorf("expected count 3, got '%v'", ctx["count"])
	}
	if entries[0].LoggerName != "component" {
		t.Errorf("expected logger name 'component', got '%s'", entries[0].LoggerName)
	}
}

func TestLoggerWithRun(t *testing.T) {
	logs := observe(t)

	l := New("manager")
	if l.WithRun("") != l {
		t.Error("WithRun(\"\") should return the same logger")
	}
	l.WithRun("01HRUN").Warn("remaining", nil, errors.New("boom"))

	entry := logs.All()[0]
	if entry.Level != zapcore.WarnLevel {
		t.Errorf("expected warn level, got %s", entry.Level)
	}
	ctx := entry.ContextMap()
	if ctx["run"] != "01HRUN" {
		t.Errorf("expected run '01HRUN', got '%v'", ctx["run"])
	}
	if ctx["error"] != "boom" {
		t.Errorf("expected error 'boom', got '%v'", ctx["error"])
	}
}

func TestTimedEvent(t *testing.T) {
	logs := observe(t)

	New("walker").TimedEvent("discovery_done", time.Now().Add(-50*time.Millisecond), nil)

	ctx := logs.All()[0].ContextMap()
	d, ok := ctx["duration"].(time.Duration)
	if !ok {
		t.Fatalf("expected duration field, got %T", ctx["duration"])
	}
	if d < 50*time.Millisecond {
		t.Errorf("expected duration >= 50ms, got %s", d)
	}
}

func TestInitWritesFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "rawrsync.log")
	closeFn, err := Init(config.LogConfig{
		Level:  "info",
		Format: "json",
		File:   file,
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { SetBase(zap.NewNop()) })

	New("cli").Info("run_started", map[string]any{"source": "/data"})
	New("cli").Debug("hidden", nil)
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"event":"run_started"`) {
		t.Errorf("expected run_started event in log, got: %s", out)
	}
	if !strings.Contains(out, `"component":"cli"`) {
		t.Errorf("expected component field in log, got: %s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug event should be filtered at info level: %s", out)
	}
}
