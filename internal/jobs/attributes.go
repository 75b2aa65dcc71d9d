package jobs

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/JakeFAU/tablescan/internal/corpus"
)

// Attributes extracts the header row of every table as a comma-terminated,
// lower-cased list.
type Attributes struct {
	*Accumulator[[]string]
}

// NewAttributes builds the attributes job.
func NewAttributes(opts Options) *Attributes {
	return &Attributes{NewAccumulator(opts.Slots, newLines, appendLines)}
}

// Name implements Job.
func (*Attributes) Name() string { return "attributes" }

// ContentType implements Job.
func (*Attributes) ContentType() string { return ContentText }

// Extension implements Job.
func (*Attributes) Extension() string { return "txt" }

// Process implements corpus.Processor.
func (a *Attributes) Process(ctx context.Context, rec corpus.Record) error {
	d, err := corpus.ParseDataset(rec.Value)
	if err != nil {
		return err
	}
	line := AttributeLine(d)
	a.Update(ctx, rec.Unit, func(lines *[]string) { *lines = append(*lines, line) })
	return nil
}

// AttributeLine renders the attributes of d with commas removed, each
// followed by a comma.
func AttributeLine(d *corpus.Dataset) string {
	var b strings.Builder
	for _, attr := range d.Attributes() {
		b.WriteString(strings.ToLower(strings.ReplaceAll(attr, ",", "")))
		b.WriteByte(',')
	}
	return b.String()
}

// WriteResult implements Job.
func (a *Attributes) WriteResult(w io.Writer) error {
	return writeLines(w, sortedCopy(a.Total()))
}

// AttributeCount counts attribute occurrences over lines produced by the
// attributes job.
type AttributeCount struct {
	*Accumulator[map[string]int64]
}

// NewAttributeCount builds the attribute-count job.
func NewAttributeCount(opts Options) *AttributeCount {
	return &AttributeCount{NewAccumulator(opts.Slots,
		func() map[string]int64 { return make(map[string]int64) },
		func(total *map[string]int64, part map[string]int64) {
			for k, v := range part {
				(*total)[k] += v
			}
		})}
}

// Name implements Job.
func (*AttributeCount) Name() string { return "attribute-count" }

// ContentType implements Job.
func (*AttributeCount) ContentType() string { return ContentText }

// Extension implements Job.
func (*AttributeCount) Extension() string { return "txt" }

// Process implements corpus.Processor.
func (a *AttributeCount) Process(ctx context.Context, rec corpus.Record) error {
	attrs := SplitAttributes(rec.Value)
	a.Update(ctx, rec.Unit, func(counts *map[string]int64) {
		for _, attr := range attrs {
			(*counts)[attr]++
		}
	})
	return nil
}

// SplitAttributes splits on commas and drops trailing empty fields. An empty
// line yields a single empty attribute.
func SplitAttributes(line string) []string {
	if line == "" {
		return []string{""}
	}
	parts := strings.Split(line, ",")
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// WriteResult writes "<attribute> <count>" lines, most frequent first.
func (a *AttributeCount) WriteResult(w io.Writer) error {
	counts := a.Total()
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%s %d\n", k, counts[k]); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	}
	return nil
}
