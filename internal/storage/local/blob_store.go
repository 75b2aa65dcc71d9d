// Package local writes job output beneath a directory on the local disk.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the directory every object path is resolved against.
	BaseDir string `mapstructure:"base_dir"`
}

// BlobStore confines writes to BaseDir through an os.Root, so neither ".."
// segments nor symlinks can place output outside it.
type BlobStore struct {
	dir  string
	root *os.Root
}

// New opens BaseDir, creating it when missing, and confirms it accepts writes.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, errors.New("base directory is required")
	}
	dir := filepath.Clean(cfg.BaseDir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("prepare base directory %s: %w", dir, err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open base directory %s: %w", dir, err)
	}
	s := &BlobStore{dir: dir, root: root}
	if err := s.checkWritable(); err != nil {
		return nil, errors.Join(err, root.Close())
	}
	return s, nil
}

func (s *BlobStore) checkWritable() error {
	name := ".writable-" + uuid.NewString()
	f, err := s.root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("base directory %s is not writable: %w", s.dir, err)
	}
	if err := errors.Join(f.Close(), s.root.Remove(name)); err != nil {
		return fmt.Errorf("remove writability marker: %w", err)
	}
	return nil
}

// Close releases the directory handle.
func (s *BlobStore) Close() error {
	return s.root.Close()
}

// PutObject writes r to rel under the base directory and returns a file://
// URI. Readers never observe a partial file: content lands in a hidden
// sibling that is renamed over rel once complete.
func (s *BlobStore) PutObject(_ context.Context, rel string, _ string, r io.Reader) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", errors.New("path is required")
	}
	rel = filepath.Clean(filepath.FromSlash(rel))
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("path traversal detected: %q", rel)
	}
	if parent := filepath.Dir(rel); parent != "." {
		if err := s.root.MkdirAll(parent, 0o750); err != nil {
			return "", fmt.Errorf("create %s: %w", parent, err)
		}
	}

	tmp := filepath.Join(filepath.Dir(rel), "."+filepath.Base(rel)+"."+uuid.NewString())
	f, err := s.root.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = s.root.Remove(tmp)
		return "", fmt.Errorf("write %s: %w", rel, err)
	}
	if err := f.Close(); err != nil {
		_ = s.root.Remove(tmp)
		return "", fmt.Errorf("flush %s: %w", rel, err)
	}
	if err := s.root.Rename(tmp, rel); err != nil {
		_ = s.root.Remove(tmp)
		return "", fmt.Errorf("publish %s: %w", rel, err)
	}
	return "file://" + filepath.Join(s.dir, rel), nil
}
