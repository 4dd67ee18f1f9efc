// Package runner performs the copy of one task directory.
package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/joss/rawrsync/internal/exec"
	"github.com/joss/rawrsync/internal/store"
)

// Kinds accepted by New.
const (
	KindRsync = "rsync"
	KindNull  = "null"
)

// Outcome is the classified result of processing one task.
type Outcome struct {
	Status   store.Status
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Result converts the outcome to its persisted form.
func (o Outcome) Result() store.Result {
	return store.Result{
		ExitCode: o.ExitCode,
		Stdout:   o.Stdout,
		Stderr:   o.Stderr,
		Duration: o.Duration,
	}
}

// Runner copies source (inside root) to destination.
// A returned error means the runner could not classify the attempt;
// the caller records the task as errored.
type Runner interface {
	Process(ctx context.Context, root, source, destination string) (Outcome, error)
}

// Options configure New.
type Options struct {
	RsyncPath string
	ExtraArgs []string
	Exec      exec.Runner
}

// New returns the runner for kind.
func New(kind string, opts Options) (Runner, error) {
	switch kind {
	case "", KindRsync:
		return NewRsyncRunner(opts), nil
	case KindNull:
		return NullRunner{}, nil
	default:
		return nil, fmt.Errorf("unknown runner %q", kind)
	}
}

// NullRunner copies nothing and reports every task completed.
type NullRunner struct{}

// Process implements Runner.
func (NullRunner) Process(_ context.Context, _, source, destination string) (Outcome, error) {
	return Outcome{
		Status: store.StatusCompleted,
		Stdout: fmt.Sprintf("Copying [%s] to [%s]", source, destination),
	}, nil
}

// RsyncRunner invokes rsync once per task.
type RsyncRunner struct {
	path  string
	extra []string
	exec  exec.Runner
}

// NewRsyncRunner creates an RsyncRunner; zero options select "rsync" on PATH.
func NewRsyncRunner(opts Options) *RsyncRunner {
	r := &RsyncRunner{path: opts.RsyncPath, extra: opts.ExtraArgs, exec: opts.Exec}
	if r.path == "" {
		r.path = KindRsync
	}
	if r.exec == nil {
		r.exec = exec.Default
	}
	return r
}

// TrimRoot inserts the "/./" marker after root so a relative rsync
// recreates only the part of source below root.
// A source outside root is returned unchanged.
func TrimRoot(root, source string) string {
	root = strings.TrimSuffix(root, "/")
	if root == "" || !strings.HasPrefix(source, root) {
		return source
	}
	return root + "/." + strings.TrimPrefix(source, root)
}

// Args builds the rsync argument list: archive, quiet, update, directory,
// relative; one directory level below the source is copied, deeper trees
// belong to their own tasks; existing files are never overwritten.
func (r *RsyncRunner) Args(root, source, destination string) []string {
	args := []string{"-aqudR", "-f", "- /*/*/", "--ignore-existing"}
	args = append(args, r.extra...)
	return append(args,
		strings.TrimSuffix(TrimRoot(root, source), "/")+"/",
		strings.TrimSuffix(destination, "/")+"/",
	)
}

// Process implements Runner. Non-zero exit and failure to start both yield errored.
func (r *RsyncRunner) Process(ctx context.Context, root, source, destination string) (Outcome, error) {
	start := time.Now()
	stdout, stderr, err := r.exec.RunSeparate(ctx, r.path, r.Args(root, source, destination)...)
	out := Outcome{
		Stdout:   string(stdout),
		Stderr:   string(stderr),
		Duration: time.Since(start),
		ExitCode: exec.ExitCode(err),
	}
	if err != nil && out.ExitCode == -1 && out.Stderr == "" {
		out.Stderr = err.Error()
	}
	if out.ExitCode == 0 && err == nil {
		out.Status = store.StatusCompleted
	} else {
		out.Status = store.StatusErrored
	}
	return out, nil
}
