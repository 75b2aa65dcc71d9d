package corpus

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// ErrMalformedRecord marks a record payload that is not a valid table.
var ErrMalformedRecord = errors.New("malformed record")

// TableType is the coarse classification of an extracted table.
type TableType string

// Table types assigned by the extractor.
const (
	TableLayout   TableType = "LAYOUT"
	TableRelation TableType = "RELATION"
	TableMatrix   TableType = "MATRIX"
	TableEntity   TableType = "ENTITY"
	TableOther    TableType = "OTHER"
)

// Dataset is one extracted web table. Relation is column oriented: the first
// cell of every column is its attribute name when the table has a header.
type Dataset struct {
	Relation       [][]string `json:"relation"`
	PageTitle      string     `json:"pageTitle"`
	Title          string     `json:"title"`
	URL            string     `json:"url"`
	HasHeader      *bool      `json:"hasHeader"`
	HeaderPosition *string    `json:"headerPosition"`
	TableType      *TableType `json:"tableType"`

	TableNum        int      `json:"tableNum"`
	S3Link          string   `json:"s3Link"`
	RecordEndOffset int64    `json:"recordEndOffset"`
	RecordOffset    int64    `json:"recordOffset"`
	TermSet         []string `json:"termSet"`

	// Set by annotation.
	ColumnTypes  []string `json:"columnTypes,omitempty"`
	URLTermSet   []string `json:"urlTermSet,omitempty"`
	TitleTermSet []string `json:"titleTermSet,omitempty"`
	Domain       string   `json:"domain,omitempty"`
}

// ParseDataset decodes a record payload.
func ParseDataset(payload string) (*Dataset, error) {
	d := &Dataset{TableNum: -1, RecordEndOffset: -1, RecordOffset: -1}
	if err := json.Unmarshal([]byte(payload), d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}
	if d.Relation == nil {
		return nil, fmt.Errorf("%w: missing relation", ErrMalformedRecord)
	}
	return d, nil
}

// JSON encodes the dataset.
func (d *Dataset) JSON() ([]byte, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode dataset: %w", err)
	}
	return b, nil
}

// NumCols returns the number of columns.
func (d *Dataset) NumCols() int {
	return len(d.Relation)
}

// Headered reports whether the source HTML carried header cells.
func (d *Dataset) Headered() bool {
	return d.HasHeader != nil && *d.HasHeader
}

// Attributes returns the first cell of every column; empty columns yield "".
func (d *Dataset) Attributes() []string {
	attrs := make([]string, len(d.Relation))
	for i, col := range d.Relation {
		if len(col) > 0 {
			attrs[i] = col[0]
		}
	}
	return attrs
}

// Body returns column i without its first cell.
func (d *Dataset) Body(i int) []string {
	col := d.Relation[i]
	if len(col) == 0 {
		return nil
	}
	return col[1:]
}
