package jobs

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tablescan/internal/corpus"
	"github.com/JakeFAU/tablescan/internal/docindex"
	"github.com/JakeFAU/tablescan/internal/scan"
	"github.com/JakeFAU/tablescan/internal/source/indexrange"
)

func table(t *testing.T, url, title string, header bool, cols ...[]string) string {
	t.Helper()
	d := corpus.Dataset{Relation: cols, URL: url, Title: title, HasHeader: &header, TableNum: -1, RecordOffset: -1, RecordEndOffset: -1}
	b, err := d.JSON()
	require.NoError(t, err)
	return string(b)
}

func runJob(t *testing.T, name string, opts Options, docs []string) (string, scan.Stats) {
	t.Helper()
	engine := scan.New(scan.Config{Workers: 3})
	opts.Slots = engine.Slots()
	job, err := New(name, opts)
	require.NoError(t, err)
	require.Equal(t, name, job.Name())
	src := indexrange.New(docindex.NewMemory(docs), nil)
	require.NoError(t, src.Run(context.Background(), engine, job))
	stats := engine.Shutdown()
	var buf bytes.Buffer
	require.NoError(t, job.WriteResult(&buf))
	return buf.String(), stats
}

func TestNamesAndUnknownJob(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"annotate", "attribute-count", "attributes", "column-types", "count", "dedup", "wide-tables"}, Names())
	_, err := New("pagerank", Options{})
	require.ErrorContains(t, err, "unknown job")
}

func TestCountJob(t *testing.T) {
	t.Parallel()

	out, stats := runJob(t, "count", Options{}, []string{"a", "b", "c", "d", "e"})
	require.Equal(t, int64(5), stats.Processed)
	require.Equal(t, "------------------------\nCount: 5\n------------------------\n", out)
}

func TestAttributesJob(t *testing.T) {
	t.Parallel()

	docs := []string{
		table(t, "http://a.com", "", true, []string{"Name, First", "x"}, []string{"AGE", "3"}),
		table(t, "http://b.com", "", false, []string{"City"}),
		"not json",
	}
	out, stats := runJob(t, "attributes", Options{}, docs)
	require.Equal(t, "city,\nname first,age,\n", out)
	require.Equal(t, int64(1), stats.Failed)
}

func TestAttributeCountJob(t *testing.T) {
	t.Parallel()

	out, _ := runJob(t, "attribute-count", Options{}, []string{"name,age,", "name,city", "zip"})
	require.Equal(t, "name 2\nage 1\ncity 1\nzip 1\n", out)
}

func TestSplitAttributes(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{""}, SplitAttributes(""))
	require.Empty(t, SplitAttributes(",,"))
	require.Equal(t, []string{"a", "", "b"}, SplitAttributes("a,,b,"))
}

func TestWideTablesJob(t *testing.T) {
	t.Parallel()

	cols := func(n int) [][]string {
		out := make([][]string, n)
		for i := range out {
			out[i] = []string{"h", "v"}
		}
		return out
	}
	wide := table(t, "http://w.com", "", true, cols(9)...)
	narrow := table(t, "http://n.com", "", true, cols(8)...)
	out, _ := runJob(t, "wide-tables", Options{}, []string{wide, narrow})
	require.Equal(t, wide+"\n", out)

	out, _ = runJob(t, "wide-tables", Options{MinColumns: 7}, []string{wide, narrow})
	require.Equal(t, 2, strings.Count(out, "\n"))
}

type memoryDocuments struct {
	mu   sync.Mutex
	docs map[int64]string
	fail bool
	// flaky fails this many writes before the store recovers.
	flaky int
}

func (m *memoryDocuments) PutDocument(_ context.Context, id int64, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("store unavailable")
	}
	if m.flaky > 0 {
		m.flaky--
		return errors.New("connection reset")
	}
	m.docs[id] = body
	return nil
}

// ordered returns the stored documents by id, failing on any gap.
func (m *memoryDocuments) ordered(t *testing.T) []string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.docs))
	for i := range out {
		doc, ok := m.docs[int64(i)]
		require.True(t, ok, "document %d missing", i)
		out[i] = doc
	}
	return out
}

func TestAnnotateJob(t *testing.T) {
	t.Parallel()

	keep := table(t, "http://www.example.co.uk/Some_Page-list%20of%20things.html", "The Best Cafés in Town", true,
		[]string{"Name", "Alpha", "Beta"}, []string{"Price", "$1", "$2.50"})
	headerless := table(t, "http://shop.example.com/items", "", false, []string{"a", "1", "2"})
	foreign := table(t, "http://example.de/tabelle", "", true, []string{"a", "b"})

	docs := &memoryDocuments{docs: map[int64]string{}}
	out, stats := runJob(t, "annotate", Options{HeaderedOnly: true, Documents: docs}, []string{keep, headerless, foreign})
	require.Zero(t, stats.Failed)
	require.Equal(t, 1, strings.Count(out, "\n"))
	require.Len(t, docs.docs, 1)
	require.Contains(t, docs.docs, int64(0))

	d, err := corpus.ParseDataset(strings.TrimSpace(out))
	require.NoError(t, err)
	require.Equal(t, "example.co.uk", d.Domain)
	require.Equal(t, []string{"best", "cafes", "town"}, d.TitleTermSet)
	require.Equal(t, []string{"some", "page", "list", "things"}, d.URLTermSet)
	require.Equal(t, []string{"String", "Currency"}, d.ColumnTypes)

	out, _ = runJob(t, "annotate", Options{}, []string{keep, headerless, foreign})
	require.Equal(t, 2, strings.Count(out, "\n"))
}

func TestAnnotateStoreFailureIsRecordFailure(t *testing.T) {
	t.Parallel()

	keep := table(t, "http://example.com/x", "", true, []string{"a", "1"})
	_, stats := runJob(t, "annotate", Options{Documents: &memoryDocuments{fail: true}}, []string{keep})
	require.Equal(t, int64(1), stats.Failed)
}

func TestAnnotateStoreFailureKeepsIDsDense(t *testing.T) {
	t.Parallel()

	var tables []string
	for _, path := range []string{"a", "b", "c"} {
		tables = append(tables, table(t, "http://example.com/"+path, "", true, []string{"k", path}))
	}
	docs := &memoryDocuments{docs: map[int64]string{}, flaky: 1}
	_, stats := runJob(t, "annotate", Options{Documents: docs}, tables)
	require.Equal(t, int64(1), stats.Failed)

	stored := docs.ordered(t)
	require.Len(t, stored, 2)

	// The stored table reads back as an index without holes.
	out, rescan := runJob(t, "count", Options{}, stored)
	require.Zero(t, rescan.Corrupt)
	require.Equal(t, int64(2), rescan.Processed)
	require.Contains(t, out, "Count: 2")
}

func TestDedupJob(t *testing.T) {
	t.Parallel()

	first := table(t, "http://a.com/1", "", true, []string{"Name", "Alice", "Zed"}, []string{"Age", "31", "9"})
	copyOf := table(t, "http://a.com/2", "", true, []string{"Name", "Alice", "Other"}, []string{"Age", "31", "10"})
	distinct := table(t, "http://a.com/3", "", true, []string{"Name", "Bob"}, []string{"Age", "42"})
	other := table(t, "http://b.com/1", "", true, []string{"City", "Paris"})

	out, stats := runJob(t, "dedup", Options{}, []string{first, copyOf, distinct, other, "{broken"})
	require.Equal(t, int64(1), stats.Failed)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, other, lines[0])
	survivor, loser := min(first, copyOf), max(first, copyOf)
	require.Contains(t, lines, survivor)
	require.NotContains(t, lines, loser)

	reversed, _ := runJob(t, "dedup", Options{}, []string{copyOf, other, distinct, first})
	require.Equal(t, out, reversed)
}

func TestColumnTypesJob(t *testing.T) {
	t.Parallel()

	docs := []string{
		table(t, "http://a.com", "", true, []string{"n", "1", "2"}, []string{"p", "$3", "$4"}),
		table(t, "http://b.com", "", true, []string{"n", "7"}, []string{"s", "x"}, []string{"e"}),
	}
	out, _ := runJob(t, "column-types", Options{}, docs)
	require.Equal(t, "None 1\nString 1\nInteger 2\nCurrency 1\n", out)
}

func TestTerms(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"naive", "resume", "2014"}, Terms("Naïve  RÉSUMÉ of 2014!"))
	require.Empty(t, Terms("the and of"))
	require.NotNil(t, Terms(""))
}

func TestSplitURLPath(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"", "a", "b", "c"}, SplitURLPath("http://x.com/a/b_c.htm"))
	require.Equal(t, []string{"not a url"}, SplitURLPath("not a url"))
	require.Equal(t, "", RegistrableDomain("mailto:someone"))
	require.Equal(t, "example.com", RegistrableDomain("https://deep.sub.example.com:8080/x"))
}

func TestAccumulatorSpillAndFinalize(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator(2, func() int { return 0 }, func(total *int, part int) { *total += part })
	unit := corpus.ShardUnit("x.gz")
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acc.Update(ctx, unit, func(n *int) { *n++ })
		}()
	}
	wg.Wait()
	require.Zero(t, acc.Total(), "nothing merges before finalize")
	require.NoError(t, acc.Finalize(ctx, unit))
	require.NoError(t, acc.Finalize(ctx, unit))
	require.NoError(t, acc.Finalize(ctx, corpus.ShardUnit("never-seen.gz")))
	require.Equal(t, 50, acc.Total())
}

func TestAccumulatorDiscardDropsPartials(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator(1, func() int { return 0 }, func(total *int, part int) { *total += part })
	ctx := context.Background()
	good, cut := corpus.ShardUnit("good.gz"), corpus.ShardUnit("cut.gz")
	acc.Update(ctx, good, func(n *int) { *n += 3 })
	acc.Update(ctx, cut, func(n *int) { *n += 5 })
	require.Equal(t, 2, acc.Pending())

	acc.Discard(ctx, cut)
	require.Equal(t, 1, acc.Pending())
	require.NoError(t, acc.Finalize(ctx, good))
	require.NoError(t, acc.Finalize(ctx, cut))
	require.Zero(t, acc.Pending())
	require.Equal(t, 3, acc.Total())
}
