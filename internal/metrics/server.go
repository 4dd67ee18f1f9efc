// Package metrics provides a simple Prometheus-compatible metrics endpoint.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds runtime counters for a copy run.
type Metrics struct {
	// Discovery
	DirsVisited     atomic.Int64
	TasksDiscovered atomic.Int64
	TasksAdded      atomic.Int64

	// Claims
	ClaimBatches atomic.Int64
	EmptyClaims  atomic.Int64
	TasksClaimed atomic.Int64

	// Outcomes
	TasksCompleted atomic.Int64
	TasksErrored   atomic.Int64
	TaskPanics     atomic.Int64
	InFlight       atomic.Int64

	// Timing (last runner duration in ms)
	LastTaskDurationMs atomic.Int64
	TotalTaskMs        atomic.Int64

	startTime time.Time
}

var (
	global     *Metrics
	globalOnce sync.Once
)

// Global returns the global metrics instance
func Global() *Metrics {
	globalOnce.Do(func() {
		global = New()
	})
	return global
}

// New returns a fresh, unregistered instance.
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordVisit records one directory read by discovery.
func (m *Metrics) RecordVisit() {
	m.DirsVisited.Add(1)
}

// RecordDiscovered records a reported directory and whether it was a new task.
func (m *Metrics) RecordDiscovered(added bool) {
	m.TasksDiscovered.Add(1)
	if added {
		m.TasksAdded.Add(1)
	}
}

// RecordClaim records one claim call returning n tasks.
func (m *Metrics) RecordClaim(n int) {
	if n == 0 {
		m.EmptyClaims.Add(1)
		return
	}
	m.ClaimBatches.Add(1)
	m.TasksClaimed.Add(int64(n))
}

// TaskStarted marks a task as running.
func (m *Metrics) TaskStarted() {
	m.InFlight.Add(1)
}

// RecordTask records a finished task.
func (m *Metrics) RecordTask(success bool, duration time.Duration) {
	m.InFlight.Add(-1)
	if success {
		m.TasksCompleted.Add(1)
	} else {
		m.TasksErrored.Add(1)
	}
	ms := duration.Milliseconds()
	m.LastTaskDurationMs.Store(ms)
	m.TotalTaskMs.Add(ms)
}

// TaskAbandoned releases an in-flight slot for a task interrupted before it was recorded.
func (m *Metrics) TaskAbandoned() {
	m.InFlight.Add(-1)
}

// RecordPanic records a recovered panic inside a task.
func (m *Metrics) RecordPanic() {
	m.TaskPanics.Add(1)
}

type sample struct {
	name, kind, help string
	value            func() string
}

func (m *Metrics) samples() []sample {
	i := func(v *atomic.Int64) func() string {
		return func() string { return fmt.Sprintf("%d", v.Load()) }
	}
	return []sample{
		{"rawrsync_uptime_seconds", "gauge", "Time since the run started",
			func() string { return fmt.Sprintf("%.2f", time.Since(m.startTime).Seconds()) }},
		{"rawrsync_dirs_visited_total", "counter", "Directories read by discovery", i(&m.DirsVisited)},
		{"rawrsync_tasks_discovered_total", "counter", "Directories reported by discovery", i(&m.TasksDiscovered)},
		{"rawrsync_tasks_added_total", "counter", "Reported directories that were new tasks", i(&m.TasksAdded)},
		{"rawrsync_claim_batches_total", "counter", "Non-empty claim batches", i(&m.ClaimBatches)},
		{"rawrsync_empty_claims_total", "counter", "Claims that returned no task", i(&m.EmptyClaims)},
		{"rawrsync_tasks_claimed_total", "counter", "Tasks claimed by workers", i(&m.TasksClaimed)},
		{"rawrsync_tasks_completed_total", "counter", "Tasks that finished successfully", i(&m.TasksCompleted)},
		{"rawrsync_tasks_errored_total", "counter", "Tasks that finished with an error", i(&m.TasksErrored)},
		{"rawrsync_task_panics_total", "counter", "Panics recovered inside tasks", i(&m.TaskPanics)},
		{"rawrsync_tasks_in_flight", "gauge", "Tasks currently running", i(&m.InFlight)},
		{"rawrsync_last_task_duration_ms", "gauge", "Last runner duration", i(&m.LastTaskDurationMs)},
		{"rawrsync_task_duration_ms_total", "counter", "Sum of runner durations", i(&m.TotalTaskMs)},
	}
}

// Handler returns an HTTP handler for /metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		for _, s := range m.samples() {
			fmt.Fprintf(w, "# HELP %s %s\n", s.name, s.help)
			fmt.Fprintf(w, "# TYPE %s %s\n", s.name, s.kind)
			fmt.Fprintf(w, "%s %s\n\n", s.name, s.value())
		}
	}
}

// Server wraps the metrics HTTP server
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// NewServer creates a metrics server for m on addr (host:port)
func NewServer(addr string, m *Metrics) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start binds the listener and serves in background.
// Bind errors are returned; serve errors after that are passed to onErr.
func (s *Server) Start(onErr func(error)) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}
	s.ln = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && onErr != nil {
			onErr(err)
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.srv.Addr
	}
	return s.ln.Addr().String()
}

// Stop gracefully shuts down the metrics server
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
