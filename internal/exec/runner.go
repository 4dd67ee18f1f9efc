// Package exec provides a testable command execution abstraction.
package exec

import (
	"bytes"
	"context"
	"errors"
	osexec "os/exec"
	"strconv"
	"strings"
	"sync"
)

// Runner defines the interface for executing external commands.
// Inject this instead of calling exec.Command directly.
type Runner interface {
	// RunSeparate executes and returns stdout and stderr separately.
	RunSeparate(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

	// LookPath resolves a binary name.
	LookPath(name string) (string, error)
}

// OSRunner implements Runner using os/exec. No shell is involved.
type OSRunner struct {
	// Env overrides environment variables (nil = inherit from parent)
	Env []string
}

// NewOSRunner creates a new OS-based command runner.
func NewOSRunner() *OSRunner {
	return &OSRunner{}
}

func (r *OSRunner) command(ctx context.Context, name string, args []string) *osexec.Cmd {
	cmd := osexec.CommandContext(ctx, name, args...)
	if r.Env != nil {
		cmd.Env = r.Env
	}
	return cmd
}

// RunSeparate executes and returns stdout and stderr separately.
func (r *OSRunner) RunSeparate(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := r.command(ctx, name, args)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// LookPath searches PATH for name.
func (r *OSRunner) LookPath(name string) (string, error) {
	return osexec.LookPath(name)
}

// ExitCode extracts the process exit code from a RunSeparate error.
// It returns 0 for nil and -1 when the process never produced one
// (binary missing, context cancelled before start).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *osexec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return -1
}

// ExitError is a non-zero exit reported by MockRunner.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return "exit status " + strconv.Itoa(e.Code)
}

// ExitCode returns the simulated exit code.
func (e *ExitError) ExitCode() int { return e.Code }

// MockRunner implements Runner for testing. It is safe for concurrent use.
type MockRunner struct {
	mu sync.Mutex

	// Calls records all command invocations
	Calls []MockCall

	// Responses maps a command name to its response
	Responses map[string]MockResponse

	// Handler, when set, computes the response and takes precedence over Responses.
	Handler func(ctx context.Context, call MockCall) MockResponse

	// Missing lists binaries LookPath reports as absent.
	Missing map[string]bool
}

// MockCall records a single command invocation.
type MockCall struct {
	Name string
	Args []string
}

// Line renders the call as a space-joined command line.
func (c MockCall) Line() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// MockResponse defines the response for a mocked command.
type MockResponse struct {
	Stdout []byte
	Stderr []byte
	Err    error
}

// NewMockRunner creates a new mock runner.
func NewMockRunner() *MockRunner {
	return &MockRunner{
		Responses: make(map[string]MockResponse),
		Missing:   make(map[string]bool),
	}
}

// AddResponse sets the response for a command name.
func (m *MockRunner) AddResponse(name string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[name] = resp
}

// CallCount returns the number of recorded calls.
func (m *MockRunner) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Snapshot returns a copy of the recorded calls.
func (m *MockRunner) Snapshot() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.Calls))
	copy(out, m.Calls)
	return out
}

func (m *MockRunner) respond(ctx context.Context, name string, args []string) MockResponse {
	call := MockCall{Name: name, Args: append([]string(nil), args...)}
	m.mu.Lock()
	m.Calls = append(m.Calls, call)
	handler := m.Handler
	resp, ok := m.Responses[name]
	m.mu.Unlock()

	if handler != nil {
		return handler(ctx, call)
	}
	if ok {
		return resp
	}
	return MockResponse{}
}

func (m *MockRunner) RunSeparate(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	resp := m.respond(ctx, name, args)
	return resp.Stdout, resp.Stderr, resp.Err
}

func (m *MockRunner) LookPath(name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Missing[name] {
		return "", &osexec.Error{Name: name, Err: osexec.ErrNotFound}
	}
	return "/usr/bin/" + name, nil
}

// Default is the runner used when none is injected.
var Default Runner = NewOSRunner()
