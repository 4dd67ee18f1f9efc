// Package discovery enumerates the directories that become copy tasks.
package discovery

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/joss/rawrsync/internal/logging"
)

// DefaultParallelism bounds concurrent directory reads when Config leaves it unset.
const DefaultParallelism = 8

// Sink receives every discovered directory as soon as it is found.
// Add reports whether the directory was new to the sink.
type Sink interface {
	Add(ctx context.Context, dir string) (bool, error)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, dir string) (bool, error)

// Add calls f.
func (f SinkFunc) Add(ctx context.Context, dir string) (bool, error) {
	return f(ctx, dir)
}

// Config tunes a Walker.
type Config struct {
	Parallelism    int
	Exclude        []string // doublestar patterns, relative to the walk root
	FollowSymlinks bool

	// OnVisit is called for every directory read.
	OnVisit func(dir string)
}

// Stats counts the work of one Discover call.
type Stats struct {
	DirsVisited int64
	Reported    int64
	Added       int64
	Excluded    int64
}

// Walker performs depth-limited discovery.
type Walker struct {
	cfg Config
	log *logging.Logger

	visited  atomic.Int64
	reported atomic.Int64
	added    atomic.Int64
	excluded atomic.Int64
}

// New validates cfg and returns a Walker.
func New(cfg Config) (*Walker, error) {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	for _, p := range cfg.Exclude {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	return &Walker{cfg: cfg, log: logging.New("discovery")}, nil
}

// Stats returns counters accumulated since the last Discover began.
func (w *Walker) Stats() Stats {
	return Stats{
		DirsVisited: w.visited.Load(),
		Reported:    w.reported.Load(),
		Added:       w.added.Load(),
		Excluded:    w.excluded.Load(),
	}
}

// Discover walks root down to depth and feeds directories to sink:
//
//   - at depth 0 the current directory is reported
//   - a directory without subdirectories reports its parent
//   - otherwise every subdirectory is walked with depth-1
//
// The first read or sink error cancels the remaining branches and is returned.
func (w *Walker) Discover(ctx context.Context, root string, depth int, sink Sink) error {
	if depth < 0 {
		return fmt.Errorf("negative recursion depth %d", depth)
	}
	w.visited.Store(0)
	w.reported.Store(0)
	w.added.Store(0)
	w.excluded.Store(0)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Parallelism)

	walk := &walk{w: w, root: filepath.Clean(root), sink: sink, g: g}
	g.Go(func() error {
		return walk.visit(gctx, walk.root, depth)
	})

	err := g.Wait()
	st := w.Stats()
	w.log.TimedEvent("walk_finished", start, map[string]any{
		"root":     root,
		"depth":    depth,
		"visited":  st.DirsVisited,
		"reported": st.Reported,
		"added":    st.Added,
		"excluded": st.Excluded,
	})
	if err != nil {
		return fmt.Errorf("discover %s: %w", root, err)
	}
	return nil
}

type walk struct {
	w    *Walker
	root string
	sink Sink
	g    *errgroup.Group
}

func (k *walk) visit(ctx context.Context, dir string, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if depth == 0 {
		return k.report(ctx, dir)
	}

	subdirs, err := k.subdirectories(dir)
	if err != nil {
		return err
	}
	if len(subdirs) == 0 {
		return k.report(ctx, filepath.Dir(dir))
	}

	for _, sub := range subdirs {
		sub := sub
		if k.g.TryGo(func() error { return k.visit(ctx, sub, depth-1) }) {
			continue
		}
		// Pool saturated; walk this branch on the current goroutine.
		if err := k.visit(ctx, sub, depth-1); err != nil {
			return err
		}
	}
	return nil
}

func (k *walk) subdirectories(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	k.w.visited.Add(1)
	if k.w.cfg.OnVisit != nil {
		k.w.cfg.OnVisit(dir)
	}

	var out []string
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if !k.isDir(e, path) {
			continue
		}
		if k.excluded(path) {
			k.w.excluded.Add(1)
			continue
		}
		out = append(out, path)
	}
	return out, nil
}

func (k *walk) isDir(e fs.DirEntry, path string) bool {
	if e.IsDir() {
		return true
	}
	if e.Type()&fs.ModeSymlink == 0 || !k.w.cfg.FollowSymlinks {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (k *walk) excluded(path string) bool {
	if len(k.w.cfg.Exclude) == 0 {
		return false
	}
	rel, err := filepath.Rel(k.root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, p := range k.w.cfg.Exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

func (k *walk) report(ctx context.Context, dir string) error {
	k.w.reported.Add(1)
	added, err := k.sink.Add(ctx, dir)
	if err != nil {
		return fmt.Errorf("add %s: %w", dir, err)
	}
	if added {
		k.w.added.Add(1)
	}
	return nil
}
