package jobs

import (
	"context"
	"io"
	"sort"
	"strings"

	"github.com/JakeFAU/tablescan/internal/corpus"
	"github.com/JakeFAU/tablescan/internal/hash/sha256"
)

// dedupGroups maps the joined attribute row to content sample digest to table JSON.
type dedupGroups map[string]map[string]string

// Dedup groups tables by their attribute row and keeps one table per content
// sample (the first two cells of every column) within each group. Among
// duplicates the lexically smallest JSON survives, whatever the unit order.
type Dedup struct {
	*Accumulator[dedupGroups]
}

// NewDedup builds the dedup job.
func NewDedup(opts Options) *Dedup {
	return &Dedup{NewAccumulator(opts.Slots,
		func() dedupGroups { return make(dedupGroups) },
		func(total *dedupGroups, part dedupGroups) {
			for key, samples := range part {
				for sample, doc := range samples {
					(*total).add(key, sample, doc)
				}
			}
		})}
}

func (g dedupGroups) add(key, sample, doc string) {
	samples, ok := g[key]
	if !ok {
		samples = make(map[string]string)
		g[key] = samples
	}
	if kept, seen := samples[sample]; !seen || doc < kept {
		samples[sample] = doc
	}
}

// Name implements Job.
func (*Dedup) Name() string { return "dedup" }

// ContentType implements Job.
func (*Dedup) ContentType() string { return ContentNDJSON }

// Extension implements Job.
func (*Dedup) Extension() string { return "jsonl" }

// Process implements corpus.Processor.
func (dd *Dedup) Process(ctx context.Context, rec corpus.Record) error {
	d, err := corpus.ParseDataset(rec.Value)
	if err != nil {
		return err
	}
	key := strings.Join(d.Attributes(), " ")
	sample := sha256.Sum(ContentSample(d))
	dd.Update(ctx, rec.Unit, func(g *dedupGroups) { g.add(key, sample, rec.Value) })
	return nil
}

// ContentSample concatenates the first two cells of every column.
func ContentSample(d *corpus.Dataset) string {
	var b strings.Builder
	for _, col := range d.Relation {
		for i := 0; i < 2 && i < len(col); i++ {
			b.WriteString(col[i])
		}
	}
	return b.String()
}

// WriteResult writes the surviving tables grouped by attribute row, ordered
// by sample digest within a group.
func (dd *Dedup) WriteResult(w io.Writer) error {
	groups := dd.Total()
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var lines []string
	for _, k := range keys {
		samples := make([]string, 0, len(groups[k]))
		for s := range groups[k] {
			samples = append(samples, s)
		}
		sort.Strings(samples)
		for _, s := range samples {
			lines = append(lines, groups[k][s])
		}
	}
	return writeLines(w, lines)
}
