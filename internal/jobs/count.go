package jobs

import (
	"context"
	"fmt"
	"io"

	"github.com/JakeFAU/tablescan/internal/corpus"
)

const rule = "------------------------"

// Count tallies records.
type Count struct {
	*Accumulator[int64]
}

// NewCount builds the count job.
func NewCount(opts Options) *Count {
	return &Count{NewAccumulator(opts.Slots,
		func() int64 { return 0 },
		func(total *int64, part int64) { *total += part })}
}

// Name implements Job.
func (*Count) Name() string { return "count" }

// ContentType implements Job.
func (*Count) ContentType() string { return ContentText }

// Extension implements Job.
func (*Count) Extension() string { return "txt" }

// Process implements corpus.Processor.
func (c *Count) Process(ctx context.Context, rec corpus.Record) error {
	c.Update(ctx, rec.Unit, func(n *int64) { *n++ })
	return nil
}

// WriteResult implements Job.
func (c *Count) WriteResult(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%s\nCount: %d\n%s\n", rule, c.Total(), rule); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
