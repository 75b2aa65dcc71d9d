// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Config names the bucket and the object prefix job output is written under.
type Config struct {
	Bucket string
	Prefix string
}

// openWriter starts an upload of one object.
type openWriter func(ctx context.Context, object, contentType string) io.WriteCloser

// BlobStore uploads job output into a single bucket.
type BlobStore struct {
	bucket string
	prefix string
	open   openWriter
	close  func() error
}

// New binds a store to an existing client. The caller keeps ownership of
// client; Close on the returned store is a no-op.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	bucket := client.Bucket(cfg.Bucket)
	return newStore(cfg, func(ctx context.Context, object, contentType string) io.WriteCloser {
		w := bucket.Object(object).NewWriter(ctx)
		w.ContentType = contentType
		return w
	}), nil
}

// Open builds a client from application default credentials and binds a
// store to it. Close releases the client.
func Open(ctx context.Context, cfg Config) (*BlobStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	s, err := New(client, cfg)
	if err != nil {
		return nil, errors.Join(err, client.Close())
	}
	s.close = client.Close
	return s, nil
}

func newStore(cfg Config, open openWriter) *BlobStore {
	return &BlobStore{
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		open:   open,
	}
}

// Close releases the client created by Open.
func (s *BlobStore) Close() error {
	if s.close == nil {
		return nil
	}
	if err := s.close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}

// ObjectName maps a path relative to the store onto its object name.
func (s *BlobStore) ObjectName(rel string) string {
	return path.Join(s.prefix, rel)
}

// PutObject streams r into the bucket and returns the object's gs:// URI.
// The object only becomes visible once the upload is committed on close.
func (s *BlobStore) PutObject(ctx context.Context, rel string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", errors.New("path is required")
	}
	name := s.ObjectName(rel)
	uri := "gs://" + s.bucket + "/" + name

	w := s.open(ctx, name, contentType)
	if _, err := io.Copy(w, r); err != nil {
		return "", fmt.Errorf("upload %s: %w", uri, errors.Join(err, w.Close()))
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("commit %s: %w", uri, err)
	}
	return uri, nil
}
