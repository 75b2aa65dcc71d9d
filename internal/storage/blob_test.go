package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tablescan/internal/storage/local"
	"github.com/JakeFAU/tablescan/internal/storage/memory"
)

func TestOpenLocalTargets(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "out")
	for _, target := range []string{dir, "file://" + dir} {
		tgt, err := Open(context.Background(), target, Options{})
		require.NoError(t, err)
		require.IsType(t, &local.BlobStore{}, tgt.Store)

		uri, err := tgt.Store.PutObject(context.Background(), "count-x.txt", "text/plain", strings.NewReader("ok"))
		require.NoError(t, err)
		require.Equal(t, "file://"+filepath.Join(dir, "count-x.txt"), uri)
		require.NoError(t, tgt.Close())
	}

	// #nosec G304 -- test reads from the controlled temp directory.
	b, err := os.ReadFile(filepath.Join(dir, "count-x.txt"))
	require.NoError(t, err)
	require.Equal(t, "ok", string(b))
}

func TestOpenMemoryTarget(t *testing.T) {
	t.Parallel()

	tgt, err := Open(context.Background(), "memory://", Options{})
	require.NoError(t, err)
	require.IsType(t, &memory.BlobStore{}, tgt.Store)
	require.NoError(t, tgt.Close())
}

func TestOpenRejectsUnknownTargets(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "ftp://host/x", Options{})
	require.ErrorIs(t, err, ErrUnsupportedTarget)

	_, err = Open(context.Background(), "  ", Options{})
	require.ErrorIs(t, err, ErrUnsupportedTarget)
}
