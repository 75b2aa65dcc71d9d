// Package jobs holds the corpus processors that can be run by name: counting,
// schema extraction, filtering, annotation, deduplication and column typing.
package jobs

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/JakeFAU/tablescan/internal/corpus"
)

// Content types of job results.
const (
	ContentText   = "text/plain; charset=utf-8"
	ContentNDJSON = "application/x-ndjson"
)

// Job is a named processor whose merged result can be written out.
type Job interface {
	corpus.Processor
	Name() string
	ContentType() string
	// Extension is the file extension of the result object, without a dot.
	Extension() string
	WriteResult(w io.Writer) error
}

// DocumentWriter stores annotated tables under dense ids. Implementations
// synchronise concurrent writers themselves.
type DocumentWriter interface {
	PutDocument(ctx context.Context, id int64, body string) error
}

// Options configures job construction.
type Options struct {
	// Slots is the number of worker slots of the engine running the job.
	Slots int
	// MinColumns is the exclusive lower bound for wide tables (default 8).
	MinColumns int
	// HeaderedOnly makes annotate skip tables without header cells.
	HeaderedOnly bool
	// DomainSuffixes filters annotate input by URL substring.
	DomainSuffixes []string
	// Documents receives annotated tables when non-nil.
	Documents DocumentWriter
}

// DefaultDomainSuffixes are the URL fragments annotate keeps by default.
var DefaultDomainSuffixes = []string{".com", ".net", ".org", ".uk"}

const defaultMinColumns = 8

type factory func(Options) Job

var registry = map[string]factory{
	"count":           func(o Options) Job { return NewCount(o) },
	"attributes":      func(o Options) Job { return NewAttributes(o) },
	"attribute-count": func(o Options) Job { return NewAttributeCount(o) },
	"wide-tables":     func(o Options) Job { return NewWideTables(o) },
	"annotate":        func(o Options) Job { return NewAnnotate(o) },
	"dedup":           func(o Options) Job { return NewDedup(o) },
	"column-types":    func(o Options) Job { return NewColumnTypes(o) },
}

// Names lists the registered job names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the job registered under name.
func New(name string, opts Options) (Job, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown job %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return f(opts), nil
}

func appendLines(total *[]string, part []string) {
	*total = append(*total, part...)
}

func newLines() []string { return nil }

func writeLines(w io.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	}
	return nil
}

func sortedCopy(lines []string) []string {
	out := append([]string(nil), lines...)
	sort.Strings(out)
	return out
}
