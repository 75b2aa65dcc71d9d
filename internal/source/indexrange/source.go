// Package indexrange scans a random-access document index by splitting its id
// space into one static, contiguous range per worker.
package indexrange

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/tablescan/internal/corpus"
	"github.com/JakeFAU/tablescan/internal/scan"
)

// Kind is the source kind reported in progress events.
const Kind = "index"

// Index is a document store addressed by dense ids in [0, Len).
type Index interface {
	Len(ctx context.Context) (int, error)
	Document(ctx context.Context, id int) (string, error)
}

// RangeReader is implemented by indexes that can stream [start, end) in id
// order more cheaply than one Document call per id.
type RangeReader interface {
	ReadRange(ctx context.Context, start, end int, fn func(id int, doc string) error) error
}

// Range is the half-open id interval [Start, End).
type Range struct {
	Start int
	End   int
}

// Partition splits [0, total) into workers contiguous ranges of total/workers
// ids; the last range also takes the remainder. Ranges may be empty.
func Partition(total, workers int) []Range {
	if workers <= 0 {
		workers = 1
	}
	if total < 0 {
		total = 0
	}
	size := total / workers
	ranges := make([]Range, workers)
	for i := range ranges {
		ranges[i] = Range{Start: i * size, End: (i + 1) * size}
	}
	ranges[workers-1].End = total
	return ranges
}

// Source submits one task per range of an Index.
type Source struct {
	index  Index
	logger *zap.Logger
}

// New builds a Source over index.
func New(index Index, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{index: index, logger: logger.Named("indexrange")}
}

// Kind implements the runner source contract.
func (s *Source) Kind() string { return Kind }

// Run partitions the index across sched's workers. Only a failure to size the
// index is returned.
func (s *Source) Run(ctx context.Context, sched scan.Scheduler, proc corpus.Processor) error {
	total, err := s.index.Len(ctx)
	if err != nil {
		return fmt.Errorf("size index: %w", err)
	}
	ranges := Partition(total, sched.Workers())
	s.logger.Info("index partitioned", zap.Int("documents", total), zap.Int("ranges", len(ranges)))
	for _, r := range ranges {
		unit := corpus.RangeUnit(r.Start, r.End)
		if err := sched.Submit(func(taskCtx context.Context) {
			s.scanRange(taskCtx, sched, proc, unit)
		}); err != nil {
			return fmt.Errorf("submit %s: %w", unit.Name(), err)
		}
	}
	return nil
}

func (s *Source) scanRange(ctx context.Context, sched scan.Scheduler, proc corpus.Processor, unit corpus.Unit) {
	var records int64
	visit := func(id int, doc string) error {
		records++
		perr := corpus.SafeProcess(ctx, proc, corpus.Record{Unit: unit, Position: int64(id), Value: doc})
		sched.Finished(scan.Result{Unit: unit.Name(), Item: strconv.Itoa(id), Err: perr})
		return nil
	}

	var err error
	if rr, ok := s.index.(RangeReader); ok {
		err = rr.ReadRange(ctx, unit.Start, unit.End, visit)
	} else {
		for id := unit.Start; id < unit.End && err == nil; id++ {
			var doc string
			if doc, err = s.index.Document(ctx, id); err != nil {
				err = fmt.Errorf("read document %d: %w", id, err)
				break
			}
			err = visit(id, doc)
		}
	}
	if err != nil {
		corpus.DiscardUnit(ctx, proc, unit)
		sched.MarkCorrupt(unit.Name(), err)
		return
	}
	sched.UnitDone(unit.Name(), records, corpus.SafeFinalize(ctx, proc, unit))
}
