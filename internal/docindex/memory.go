// Package docindex provides an in-memory document index loaded from a
// JSON-lines file, where line i holds document i.
package docindex

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JakeFAU/tablescan/internal/source/shard"
)

// Memory is a read-only index held in memory. It is safe for concurrent use.
type Memory struct {
	docs []string
}

// NewMemory wraps docs; the slice must not be modified afterwards.
func NewMemory(docs []string) *Memory {
	return &Memory{docs: docs}
}

// Load reads path, decompressing it by extension like shard files.
func Load(path string) (*Memory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only file
	dec, err := shard.NewReader(shard.CodecFor(path), f)
	if err != nil {
		return nil, fmt.Errorf("open index decoder: %w", err)
	}
	defer dec.Close() //nolint:errcheck // decoder close only releases buffers
	return Read(dec)
}

// Read builds an index from newline-delimited documents. A trailing newline
// does not add an empty document.
func Read(r io.Reader) (*Memory, error) {
	br := bufio.NewReader(r)
	var docs []string
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			docs = append(docs, strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read index line %d: %w", len(docs)+1, err)
		}
	}
	return &Memory{docs: docs}, nil
}

// Len returns the number of documents.
func (m *Memory) Len(context.Context) (int, error) {
	return len(m.docs), nil
}

// Document returns document id.
func (m *Memory) Document(_ context.Context, id int) (string, error) {
	if id < 0 || id >= len(m.docs) {
		return "", fmt.Errorf("document %d out of range [0,%d)", id, len(m.docs))
	}
	return m.docs[id], nil
}

// ReadRange calls fn for every id in [start, end) in order.
func (m *Memory) ReadRange(ctx context.Context, start, end int, fn func(id int, doc string) error) error {
	for id := start; id < end; id++ {
		doc, err := m.Document(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(id, doc); err != nil {
			return err
		}
	}
	return nil
}
