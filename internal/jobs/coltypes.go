package jobs

import (
	"context"
	"fmt"
	"io"

	"github.com/JakeFAU/tablescan/internal/corpus"
	"github.com/JakeFAU/tablescan/internal/typing"
)

// ColumnTypes builds a histogram of inferred column types, header cells
// excluded.
type ColumnTypes struct {
	*Accumulator[map[typing.DataType]int64]
}

// NewColumnTypes builds the column-types job.
func NewColumnTypes(opts Options) *ColumnTypes {
	return &ColumnTypes{NewAccumulator(opts.Slots,
		func() map[typing.DataType]int64 { return make(map[typing.DataType]int64) },
		func(total *map[typing.DataType]int64, part map[typing.DataType]int64) {
			for k, v := range part {
				(*total)[k] += v
			}
		})}
}

// Name implements Job.
func (*ColumnTypes) Name() string { return "column-types" }

// ContentType implements Job.
func (*ColumnTypes) ContentType() string { return ContentText }

// Extension implements Job.
func (*ColumnTypes) Extension() string { return "txt" }

// Process implements corpus.Processor.
func (c *ColumnTypes) Process(ctx context.Context, rec corpus.Record) error {
	d, err := corpus.ParseDataset(rec.Value)
	if err != nil {
		return err
	}
	kinds := make([]typing.DataType, d.NumCols())
	for i := range d.Relation {
		kinds[i] = typing.ClassifyColumn(d.Body(i))
	}
	c.Update(ctx, rec.Unit, func(h *map[typing.DataType]int64) {
		for _, k := range kinds {
			(*h)[k]++
		}
	})
	return nil
}

// WriteResult writes "<Type> <count>" lines in specificity order.
func (c *ColumnTypes) WriteResult(w io.Writer) error {
	h := c.Total()
	for _, k := range typing.All() {
		if h[k] == 0 {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s %d\n", k, h[k]); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	}
	return nil
}
