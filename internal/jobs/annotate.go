package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/net/publicsuffix"

	"github.com/JakeFAU/tablescan/internal/corpus"
	"github.com/JakeFAU/tablescan/internal/typing"
)

// Annotate filters tables by domain and header, adds search terms, the
// registrable domain and per-column types, and optionally stores the result
// under a dense document id.
type Annotate struct {
	*Accumulator[[]string]
	headeredOnly bool
	suffixes     []string
	documents    DocumentWriter
	skipped      atomic.Int64

	// idMu serialises document writes so an id is only consumed by a
	// successful PutDocument and the stored ids stay dense.
	idMu   sync.Mutex
	nextID int64
}

// NewAnnotate builds the annotate job.
func NewAnnotate(opts Options) *Annotate {
	if len(opts.DomainSuffixes) == 0 {
		opts.DomainSuffixes = DefaultDomainSuffixes
	}
	return &Annotate{
		Accumulator:  NewAccumulator(opts.Slots, newLines, appendLines),
		headeredOnly: opts.HeaderedOnly,
		suffixes:     opts.DomainSuffixes,
		documents:    opts.Documents,
	}
}

// Name implements Job.
func (*Annotate) Name() string { return "annotate" }

// ContentType implements Job.
func (*Annotate) ContentType() string { return ContentNDJSON }

// Extension implements Job.
func (*Annotate) Extension() string { return "jsonl" }

// Skipped is the number of tables filtered out so far.
func (a *Annotate) Skipped() int64 { return a.skipped.Load() }

// Process implements corpus.Processor.
func (a *Annotate) Process(ctx context.Context, rec corpus.Record) error {
	d, err := corpus.ParseDataset(rec.Value)
	if err != nil {
		return err
	}
	if !a.keep(d) {
		a.skipped.Add(1)
		return nil
	}
	AnnotateDataset(d)
	body, err := d.JSON()
	if err != nil {
		return err
	}
	doc := string(body)
	if a.documents != nil {
		if err := a.store(ctx, doc); err != nil {
			return err
		}
	}
	a.Update(ctx, rec.Unit, func(lines *[]string) { *lines = append(*lines, doc) })
	return nil
}

func (a *Annotate) store(ctx context.Context, doc string) error {
	a.idMu.Lock()
	defer a.idMu.Unlock()
	if err := a.documents.PutDocument(ctx, a.nextID, doc); err != nil {
		return fmt.Errorf("store document %d: %w", a.nextID, err)
	}
	a.nextID++
	return nil
}

// Stored is the number of documents written to the document store.
func (a *Annotate) Stored() int64 {
	a.idMu.Lock()
	defer a.idMu.Unlock()
	return a.nextID
}

func (a *Annotate) keep(d *corpus.Dataset) bool {
	if a.headeredOnly && !d.Headered() {
		return false
	}
	for _, suffix := range a.suffixes {
		if strings.Contains(d.URL, suffix) {
			return true
		}
	}
	return false
}

// AnnotateDataset sets the domain, title terms, URL terms and column types of d.
func AnnotateDataset(d *corpus.Dataset) {
	d.Domain = RegistrableDomain(d.URL)
	d.TitleTermSet = Terms(d.Title)
	d.URLTermSet = Terms(strings.Join(SplitURLPath(d.URL), " "))
	d.ColumnTypes = make([]string, d.NumCols())
	for i := range d.Relation {
		d.ColumnTypes[i] = typing.ClassifyColumn(d.Body(i)).String()
	}
}

// WriteResult implements Job.
func (a *Annotate) WriteResult(w io.Writer) error {
	return writeLines(w, sortedCopy(a.Total()))
}

func parseAbsoluteURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.New("not an absolute url")
	}
	return u, nil
}

// RegistrableDomain returns the public suffix plus one label of rawURL's
// host, or "" when it has none.
func RegistrableDomain(rawURL string) string {
	u, err := parseAbsoluteURL(rawURL)
	if err != nil {
		return ""
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(u.Hostname())
	if err != nil {
		return ""
	}
	return domain
}
