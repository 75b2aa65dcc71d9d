// Package typing infers the value type of web-table columns from their cells.
package typing

import (
	"fmt"
	"strings"
)

// DataType is the inferred kind of a cell or column value.
type DataType int

// Known data types in declaration order.
const (
	None DataType = iota
	String
	Email
	URL
	Datetime
	Double
	Long
	Integer
	Currency
)

var dataTypeInfo = [...]struct {
	name        string
	specificity int
}{
	None:     {"None", -1},
	String:   {"String", 0},
	Email:    {"Email", 1},
	URL:      {"URL", 2},
	Datetime: {"Datetime", 3},
	Double:   {"Double", 4},
	Long:     {"Long", 6},
	Integer:  {"Integer", 7},
	Currency: {"Currency", 8},
}

// All returns every data type ordered by ascending specificity.
func All() []DataType {
	return []DataType{None, String, Email, URL, Datetime, Double, Long, Integer, Currency}
}

// Specificity ranks the type; higher values are narrower numeric kinds.
func (d DataType) Specificity() int {
	if !d.valid() {
		return dataTypeInfo[None].specificity
	}
	return dataTypeInfo[d].specificity
}

// Numeric reports whether the type is at least as specific as Double.
func (d DataType) Numeric() bool {
	return d.Specificity() >= Double.Specificity()
}

func (d DataType) String() string {
	if !d.valid() {
		return fmt.Sprintf("DataType(%d)", int(d))
	}
	return dataTypeInfo[d].name
}

func (d DataType) valid() bool {
	return d >= None && int(d) < len(dataTypeInfo)
}

// ParseDataType resolves a type name case-insensitively.
func ParseDataType(name string) (DataType, error) {
	for _, d := range All() {
		if strings.EqualFold(dataTypeInfo[d].name, strings.TrimSpace(name)) {
			return d, nil
		}
	}
	return None, fmt.Errorf("unknown data type %q", name)
}

// MarshalText encodes the type as its display name.
func (d DataType) MarshalText() ([]byte, error) {
	if !d.valid() {
		return nil, fmt.Errorf("invalid data type %d", int(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText decodes a display name produced by MarshalText.
func (d *DataType) UnmarshalText(text []byte) error {
	parsed, err := ParseDataType(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
