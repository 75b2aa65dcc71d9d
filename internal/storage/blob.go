// Package storage resolves job output targets into blob stores.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/JakeFAU/tablescan/internal/storage/gcs"
	"github.com/JakeFAU/tablescan/internal/storage/local"
	"github.com/JakeFAU/tablescan/internal/storage/memory"
	"github.com/JakeFAU/tablescan/internal/storage/s3"
)

// ErrUnsupportedTarget is returned for target schemes Open does not know.
var ErrUnsupportedTarget = errors.New("unsupported output target")

// BlobStore writes one named object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Options carries backend settings that cannot be expressed in the target URI.
type Options struct {
	S3Region   string
	S3PartSize int64
}

// Target is an opened output location.
type Target struct {
	Store BlobStore
	close func() error
}

// Close releases backend clients owned by the target.
func (t Target) Close() error {
	if t.close == nil {
		return nil
	}
	return t.close()
}

// Open resolves target into a blob store. A bare path or file:// URI writes
// to a directory, memory:// keeps output in process, gs://bucket/prefix
// writes to GCS and s3://bucket/prefix writes to S3.
func Open(ctx context.Context, target string, opts Options) (Target, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return Target{}, fmt.Errorf("%w: empty target", ErrUnsupportedTarget)
	}
	if !strings.Contains(target, "://") {
		return openLocal(target)
	}
	u, err := url.Parse(target)
	if err != nil {
		return Target{}, fmt.Errorf("parse output target %q: %w", target, err)
	}
	switch u.Scheme {
	case "file":
		return openLocal(u.Host + u.Path)
	case "memory":
		return Target{Store: memory.NewBlobStore()}, nil
	case "gs":
		s, err := gcs.Open(ctx, gcs.Config{Bucket: u.Host, Prefix: u.Path})
		if err != nil {
			return Target{}, err
		}
		return Target{Store: s, close: s.Close}, nil
	case "s3":
		s, err := s3.New(ctx, s3.Config{
			Bucket:   u.Host,
			Prefix:   u.Path,
			Region:   opts.S3Region,
			PartSize: opts.S3PartSize,
		})
		if err != nil {
			return Target{}, err
		}
		return Target{Store: s}, nil
	default:
		return Target{}, fmt.Errorf("%w: %q", ErrUnsupportedTarget, u.Scheme)
	}
}

func openLocal(dir string) (Target, error) {
	s, err := local.New(local.Config{BaseDir: dir})
	if err != nil {
		return Target{}, err
	}
	return Target{Store: s, close: s.Close}, nil
}
