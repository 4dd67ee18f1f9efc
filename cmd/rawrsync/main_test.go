package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/rawrsync/internal/store"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func fixture(t *testing.T) (src, dst, dir string) {
	t.Helper()
	dir = t.TempDir()
	src = filepath.Join(dir, "src")
	dst = filepath.Join(dir, "dst")
	for _, d := range []string{"a/x", "a/y", "b"} {
		require.NoError(t, os.MkdirAll(filepath.Join(src, d), 0o755))
	}
	require.NoError(t, os.MkdirAll(dst, 0o755))
	return src, dst, dir
}

func TestRunNullRunner(t *testing.T) {
	src, dst, dir := fixture(t)
	db := filepath.Join(dir, "task_store.db")
	common := []string{"--store", db, "--pretty=false"}

	out, err := execute(t, append([]string{"run", "-s", src, "-d", dst, "-t", "2",
		"--runner", "null", "--log-file", filepath.Join(dir, "rawrsync.log")}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "tasks=2")
	assert.Contains(t, out, "completed=2 errored=0")
	assert.Contains(t, out, "ran=2 failed=0")
	assert.Contains(t, out, "Ran in [")

	out, err = execute(t, append([]string{"status"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "discovery=Completed")
	assert.Contains(t, out, "remaining=0 completed=2")

	out, err = execute(t, append([]string{"remaining"}, common...)...)
	require.NoError(t, err)
	assert.Equal(t, "No remaining tasks\n", out)

	out, err = execute(t, append([]string{"history"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "tasks=2 remaining=0 errored=0")

	out, err = execute(t, append([]string{"history", "1"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "task=1")
	assert.Contains(t, out, "completed")

	out, err = execute(t, append([]string{"requeue", "--errored"}, common...)...)
	require.NoError(t, err)
	assert.Equal(t, "requeued=0\n", out)
}

func TestRunDrainsBeforeReportingDiscoveryError(t *testing.T) {
	_, dst, dir := fixture(t)
	db := filepath.Join(dir, "task_store.db")
	missing := filepath.Join(dir, "gone")

	ctx := context.Background()
	st, err := store.Open(ctx, db)
	require.NoError(t, err)
	for _, d := range []string{"a", "b"} {
		_, err := st.AddTask(ctx, missing, filepath.Join(missing, d), dst)
		require.NoError(t, err)
	}
	require.NoError(t, st.Close())

	out, err := execute(t, "run", "-s", missing, "-d", dst, "--runner", "null",
		"--store", db, "--log-file", filepath.Join(dir, "rawrsync.log"), "--pretty=false")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "discovery: ")
	assert.Contains(t, out, "ran=2 failed=0", "known tasks drain despite the walk failing")
	assert.Contains(t, out, "Ran in [")
}

func TestRunRequiresSourceAndDestination(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "run", "--runner", "null", "--store", filepath.Join(dir, "db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source is required")
	assert.Contains(t, err.Error(), "destination is required")
}

func TestRunRejectsUnknownRunner(t *testing.T) {
	src, dst, dir := fixture(t)
	_, err := execute(t, "run", "-s", src, "-d", dst, "--runner", "scp", "--store", filepath.Join(dir, "db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown runner "scp"`)
}

func TestHistoryInvalidTaskID(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "history", "abc", "--store", filepath.Join(dir, "db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid task id "abc"`)
}

func TestConfigFileOverridesDefaults(t *testing.T) {
	src, dst, dir := fixture(t)
	file := filepath.Join(dir, "rawrsync.yaml")
	require.NoError(t, os.WriteFile(file, []byte("runner: \"null\"\nbatch_size: 3\n"), 0o644))

	cmd := runCmd()
	require.NoError(t, cmd.ParseFlags([]string{"-s", src, "-d", dst, "-t", "5"}))
	cfgFile = file
	t.Cleanup(func() { cfgFile = "" })

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "null", cfg.Runner)
	assert.Equal(t, 3, cfg.BatchSize)
	assert.Equal(t, 5, cfg.Threads)
	assert.Equal(t, 5, cfg.BlockingPool)
	assert.Equal(t, src, cfg.Source)
}
