// Package shard scans directories of compressed, newline-delimited shard files.
package shard

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/tablescan/internal/corpus"
	"github.com/JakeFAU/tablescan/internal/scan"
)

// Kind is the source kind reported in progress events.
const Kind = "shard"

const readBufferSize = 64 << 10

// DefaultExtensions selects gzip shards.
var DefaultExtensions = []string{".gz"}

// Config describes which files a Source reads.
type Config struct {
	// Root is a shard file or a directory walked recursively.
	Root string
	// Extensions filters discovered files by suffix, case-insensitively.
	Extensions []string
	Logger     *zap.Logger
}

// Source dispatches every line of every shard as its own task.
type Source struct {
	cfg    Config
	logger *zap.Logger
}

// New builds a shard Source.
func New(cfg Config) *Source {
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultExtensions
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{cfg: cfg, logger: logger.Named("shard")}
}

// Kind implements the runner source contract.
func (s *Source) Kind() string { return Kind }

// Discover returns the shard files under root in lexical order. Failing to
// read root itself is an error; unreadable subdirectories are skipped.
func Discover(root string, extensions []string, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			logger.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !hasExtension(d.Name(), extensions) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate shards under %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

func hasExtension(name string, extensions []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// Run enumerates the shards and feeds their lines to sched. Only a failure to
// enumerate Root is returned; corrupt or unreadable shards are counted and
// skipped. Cancelling ctx stops the run at the next shard boundary.
func (s *Source) Run(ctx context.Context, sched scan.Scheduler, proc corpus.Processor) error {
	files, err := Discover(s.cfg.Root, s.cfg.Extensions, s.logger)
	if err != nil {
		return err
	}
	s.logger.Info("shards discovered", zap.String("root", s.cfg.Root), zap.Int("shards", len(files)))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("shard scan stopped: %w", err)
		}
		if err := s.scanShard(ctx, sched, proc, path); err != nil {
			return err
		}
	}
	return nil
}

// scanShard returns an error only when sched refuses work.
func (s *Source) scanShard(ctx context.Context, sched scan.Scheduler, proc corpus.Processor, path string) error {
	unit := corpus.ShardUnit(path)
	f, err := os.Open(path)
	if err != nil {
		sched.MarkAbandoned(unit.Name(), fmt.Errorf("open shard: %w", err))
		return nil
	}
	defer f.Close() //nolint:errcheck // read-only file

	raw := &recordingReader{r: f}
	dec, err := NewReader(CodecFor(path), raw)
	if err != nil {
		s.fail(sched, unit, raw, fmt.Errorf("open decoder: %w", err))
		return nil
	}
	defer dec.Close() //nolint:errcheck // decoder close only releases buffers

	tracker := &unitTracker{unit: unit, proc: proc, sched: sched}
	tracker.pending.Store(1)
	defer tracker.done(ctx)

	reader := bufio.NewReaderSize(dec, readBufferSize)
	var lineNo int64
	for {
		line, readErr := reader.ReadString('\n')
		if line != "" && (readErr == nil || errors.Is(readErr, io.EOF)) {
			lineNo++
			if err := s.dispatch(sched, proc, tracker, parseLine(unit, lineNo, line)); err != nil {
				tracker.failed.Store(true)
				return err
			}
		}
		if readErr == nil {
			continue
		}
		if !errors.Is(readErr, io.EOF) {
			tracker.failed.Store(true)
			s.fail(sched, unit, raw, fmt.Errorf("read line %d: %w", lineNo+1, readErr))
		}
		return nil
	}
}

func (s *Source) dispatch(sched scan.Scheduler, proc corpus.Processor, tracker *unitTracker, rec corpus.Record) error {
	tracker.pending.Add(1)
	tracker.records.Add(1)
	err := sched.Submit(func(ctx context.Context) {
		defer tracker.done(ctx)
		perr := corpus.SafeProcess(ctx, proc, rec)
		sched.Finished(scan.Result{
			Unit: rec.Unit.Name(),
			Item: strconv.FormatInt(rec.Position, 10),
			Err:  perr,
		})
	})
	if err != nil {
		tracker.pending.Add(-1)
		return fmt.Errorf("submit %s line %d: %w", rec.Unit.Name(), rec.Position, err)
	}
	return nil
}

func (s *Source) fail(sched scan.Scheduler, unit corpus.Unit, raw *recordingReader, err error) {
	if ioErr := raw.ioErr(); ioErr != nil {
		sched.MarkAbandoned(unit.Name(), err)
		return
	}
	sched.MarkCorrupt(unit.Name(), err)
}

// parseLine splits a raw line on its first tab.
func parseLine(unit corpus.Unit, pos int64, line string) corpus.Record {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	rec := corpus.Record{Unit: unit, Position: pos}
	if key, value, ok := strings.Cut(line, "\t"); ok {
		rec.Key, rec.Value = key, value
	} else {
		rec.Value = line
	}
	return rec
}

// unitTracker fires Finalize once the reader and every record task of a shard
// are done, or Discard when the shard failed part way. pending starts at one
// for the reader itself.
type unitTracker struct {
	unit    corpus.Unit
	proc    corpus.Processor
	sched   scan.Scheduler
	pending atomic.Int64
	records atomic.Int64
	failed  atomic.Bool
}

func (t *unitTracker) done(ctx context.Context) {
	if t.pending.Add(-1) != 0 {
		return
	}
	if t.failed.Load() {
		corpus.DiscardUnit(ctx, t.proc, t.unit)
		return
	}
	err := corpus.SafeFinalize(ctx, t.proc, t.unit)
	t.sched.UnitDone(t.unit.Name(), t.records.Load(), err)
}
