package jobs

import (
	"context"
	"io"

	"github.com/JakeFAU/tablescan/internal/corpus"
)

// WideTables keeps tables with more than MinColumns columns.
type WideTables struct {
	*Accumulator[[]string]
	minColumns int
}

// NewWideTables builds the wide-tables job.
func NewWideTables(opts Options) *WideTables {
	if opts.MinColumns <= 0 {
		opts.MinColumns = defaultMinColumns
	}
	return &WideTables{
		Accumulator: NewAccumulator(opts.Slots, newLines, appendLines),
		minColumns:  opts.MinColumns,
	}
}

// Name implements Job.
func (*WideTables) Name() string { return "wide-tables" }

// ContentType implements Job.
func (*WideTables) ContentType() string { return ContentNDJSON }

// Extension implements Job.
func (*WideTables) Extension() string { return "jsonl" }

// Process implements corpus.Processor.
func (wt *WideTables) Process(ctx context.Context, rec corpus.Record) error {
	d, err := corpus.ParseDataset(rec.Value)
	if err != nil {
		return err
	}
	if d.NumCols() <= wt.minColumns {
		return nil
	}
	wt.Update(ctx, rec.Unit, func(lines *[]string) { *lines = append(*lines, rec.Value) })
	return nil
}

// WriteResult implements Job.
func (wt *WideTables) WriteResult(w io.Writer) error {
	return writeLines(w, sortedCopy(wt.Total()))
}
