package shard

import (
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec names the stream decoder applied to a shard.
type Codec string

// Supported codecs.
const (
	CodecPlain Codec = "plain"
	CodecGzip  Codec = "gzip"
	CodecZstd  Codec = "zstd"
	CodecS2    Codec = "s2"
	CodecLZ4   Codec = "lz4"
)

// CodecFor picks the decoder from the file extension. Unknown extensions are
// read as plain text.
func CodecFor(path string) Codec {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz", ".gzip":
		return CodecGzip
	case ".zst", ".zstd":
		return CodecZstd
	case ".sz", ".s2":
		return CodecS2
	case ".lz4":
		return CodecLZ4
	default:
		return CodecPlain
	}
}

// NewReader wraps r with the decoder for codec.
func NewReader(codec Codec, r io.Reader) (io.ReadCloser, error) {
	switch codec {
	case CodecGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr, nil
	case CodecZstd:
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case CodecS2:
		return io.NopCloser(s2.NewReader(r)), nil
	case CodecLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return io.NopCloser(r), nil
	}
}

// recordingReader remembers the first non-EOF error of the underlying file so
// decoder failures can be told apart from I/O failures.
type recordingReader struct {
	r   io.Reader
	mu  sync.Mutex
	err error
}

func (rr *recordingReader) Read(p []byte) (int, error) {
	n, err := rr.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		rr.mu.Lock()
		if rr.err == nil {
			rr.err = err
		}
		rr.mu.Unlock()
	}
	return n, err
}

func (rr *recordingReader) ioErr() error {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return rr.err
}
