package discovery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type setSink struct {
	mu   sync.Mutex
	dirs map[string]int
	err  error
}

func newSetSink() *setSink {
	return &setSink{dirs: make(map[string]int)}
}

func (s *setSink) Add(_ context.Context, dir string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	s.dirs[dir]++
	return s.dirs[dir] == 1, nil
}

func (s *setSink) sorted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.dirs))
	for d := range s.dirs {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func mkdirs(t *testing.T, root string, rel ...string) {
	t.Helper()
	for _, r := range rel {
		require.NoError(t, os.MkdirAll(filepath.Join(root, r), 0o755))
	}
}

func TestDiscoverLeafConvention(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "a/x", "a/y", "b")
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "file.txt"), []byte("x"), 0o644))

	w, err := New(Config{})
	require.NoError(t, err)

	sink := newSetSink()
	require.NoError(t, w.Discover(context.Background(), root, 4, sink))

	assert.Equal(t, []string{root, filepath.Join(root, "a")}, sink.sorted())

	st := w.Stats()
	assert.Equal(t, int64(5), st.DirsVisited)
	assert.Equal(t, int64(3), st.Reported)
	assert.Equal(t, int64(2), st.Added)
}

func TestDiscoverDepthZero(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "a/b")

	w, err := New(Config{})
	require.NoError(t, err)

	sink := newSetSink()
	require.NoError(t, w.Discover(context.Background(), root, 0, sink))
	assert.Equal(t, []string{root}, sink.sorted())
}

func TestDiscoverStopsAtDepth(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "a/b/c/d", "e/f/g")

	w, err := New(Config{Parallelism: 1})
	require.NoError(t, err)

	sink := newSetSink()
	require.NoError(t, w.Discover(context.Background(), root, 2, sink))
	assert.Equal(t, []string{filepath.Join(root, "a", "b"), filepath.Join(root, "e", "f")}, sink.sorted())
}

func TestDiscoverEmptyRootReportsParent(t *testing.T) {
	root := t.TempDir()

	w, err := New(Config{})
	require.NoError(t, err)

	sink := newSetSink()
	require.NoError(t, w.Discover(context.Background(), root, 3, sink))
	assert.Equal(t, []string{filepath.Dir(root)}, sink.sorted())
}

func TestDiscoverExclude(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "proj/.git/objects", "proj/src/pkg", "node_modules/lib")

	w, err := New(Config{Exclude: []string{"**/.git", "node_modules"}})
	require.NoError(t, err)

	sink := newSetSink()
	require.NoError(t, w.Discover(context.Background(), root, 4, sink))
	assert.Equal(t, []string{filepath.Join(root, "proj", "src")}, sink.sorted())
	assert.Equal(t, int64(2), w.Stats().Excluded)
}

func TestDiscoverSymlinks(t *testing.T) {
	root := t.TempDir()
	target := t.TempDir()
	mkdirs(t, target, "inner")
	mkdirs(t, root, "real")
	if err := os.Symlink(target, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	w, err := New(Config{})
	require.NoError(t, err)
	sink := newSetSink()
	require.NoError(t, w.Discover(context.Background(), root, 1, sink))
	assert.Equal(t, []string{filepath.Join(root, "real")}, sink.sorted())

	w, err = New(Config{FollowSymlinks: true})
	require.NoError(t, err)
	sink = newSetSink()
	require.NoError(t, w.Discover(context.Background(), root, 1, sink))
	assert.Equal(t, []string{filepath.Join(root, "link"), filepath.Join(root, "real")}, sink.sorted())
}

func TestDiscoverSinkError(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "a", "b")

	w, err := New(Config{})
	require.NoError(t, err)

	boom := errors.New("disk full")
	sink := newSetSink()
	sink.err = boom
	err = w.Discover(context.Background(), root, 1, sink)
	assert.ErrorIs(t, err, boom)
}

func TestDiscoverMissingRoot(t *testing.T) {
	w, err := New(Config{})
	require.NoError(t, err)

	err = w.Discover(context.Background(), filepath.Join(t.TempDir(), "nope"), 2, newSetSink())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDiscoverCancelled(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "a")

	w, err := New(Config{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = w.Discover(ctx, root, 2, newSetSink())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRejectsBadPattern(t *testing.T) {
	_, err := New(Config{Exclude: []string{"[unterminated"}})
	assert.Error(t, err)

	_, err = New(Config{Exclude: []string{"**/.git"}})
	assert.NoError(t, err)
}

func TestOnVisitAndParallelism(t *testing.T) {
	root := t.TempDir()
	for _, d := range []string{"a", "b", "c", "d", "e", "f"} {
		mkdirs(t, root, filepath.Join(d, "leaf"))
	}

	var mu sync.Mutex
	visited := map[string]bool{}
	w, err := New(Config{Parallelism: 2, OnVisit: func(dir string) {
		mu.Lock()
		visited[dir] = true
		mu.Unlock()
	}})
	require.NoError(t, err)

	sink := newSetSink()
	require.NoError(t, w.Discover(context.Background(), root, 5, sink))
	assert.Len(t, sink.sorted(), 6)
	assert.Len(t, visited, 13)
	assert.True(t, visited[root])
}
