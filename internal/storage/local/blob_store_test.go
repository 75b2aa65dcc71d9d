package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tablescan/internal/storage/local"
)

func TestNewCreatesMissingDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "results", "nested")
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	require.NotNil(t, store)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "writability marker must be removed")
}

func TestNewRejectsBadBaseDir(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "shard.gz")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	for name, dir := range map[string]string{
		"empty":     "",
		"blank":     "   ",
		"not a dir": file,
	} {
		_, err := local.New(local.Config{BaseDir: dir})
		require.Error(t, err, name)
	}
}

func TestNewRejectsReadOnlyDir(t *testing.T) {
	t.Parallel()
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}

	dir := t.TempDir()
	// #nosec G302 -- read-only directory is the case under test.
	require.NoError(t, os.Chmod(dir, 0o500))
	// #nosec G302 -- restored so TempDir cleanup succeeds.
	t.Cleanup(func() { _ = os.Chmod(dir, 0o700) })

	_, err := local.New(local.Config{BaseDir: dir})
	require.ErrorContains(t, err, "not writable")
}

func TestPutObjectWritesResult(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	for _, name := range []string{"count-0192.txt", "runs/2024/attributes-0193.txt"} {
		uri, err := store.PutObject(ctx, name, "text/plain", strings.NewReader("Count: 3\n"))
		require.NoError(t, err)
		full := filepath.Join(dir, name)
		require.Equal(t, "file://"+full, uri)

		// #nosec G304 -- reads from the test's temp directory.
		body, err := os.ReadFile(full)
		require.NoError(t, err)
		require.Equal(t, "Count: 3\n", string(body))
	}
}

func TestPutObjectReplacesAtomically(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.PutObject(ctx, "dedup-1.jsonl", "application/x-ndjson", strings.NewReader("old\n"))
	require.NoError(t, err)
	_, err = store.PutObject(ctx, "dedup-1.jsonl", "application/x-ndjson", strings.NewReader("new\n"))
	require.NoError(t, err)

	// #nosec G304 -- reads from the test's temp directory.
	body, err := os.ReadFile(filepath.Join(dir, "dedup-1.jsonl"))
	require.NoError(t, err)
	require.Equal(t, "new\n", string(body))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp siblings may survive")
}

func TestPutObjectRejectsBadPaths(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.PutObject(ctx, "", "text/plain", strings.NewReader("x"))
	require.ErrorContains(t, err, "path is required")
	_, err = store.PutObject(ctx, "../escape.txt", "text/plain", strings.NewReader("x"))
	require.ErrorContains(t, err, "path traversal")
	_, err = store.PutObject(ctx, "a/../../escape.txt", "text/plain", strings.NewReader("x"))
	require.ErrorContains(t, err, "path traversal")
}

func TestPutObjectRefusesSymlinkEscape(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(base, "link")))

	store, err := local.New(local.Config{BaseDir: base})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.PutObject(context.Background(), "link/escape.txt", "text/plain", strings.NewReader("x"))
	require.Error(t, err)

	entries, err := os.ReadDir(outside)
	require.NoError(t, err)
	require.Empty(t, entries)
}
