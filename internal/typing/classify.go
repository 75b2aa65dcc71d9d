package typing

import (
	"regexp"
	"sort"
	"unicode/utf8"
)

const (
	// majorityGap is the frequency gap between the two most common types
	// above which the most common type wins outright.
	majorityGap = 0.40
	// numericShare is the share of numeric cells above which a mixed column
	// is still treated as numeric.
	numericShare = 0.9
	// minCoverage is the fraction of a cell that a pattern match must span.
	minCoverage = 0.6
)

var cellPatterns = []struct {
	kind DataType
	re   *regexp.Regexp
}{
	{Currency, regexp.MustCompile(`-?\s*([$£₤]\s*[\d,]+(\.\d+)?)|([\d,]+(\.\d+)?\s*[€])`)},
	{Double, regexp.MustCompile(`-?[\d,]+\.\d+(\s)?(%)?`)},
	{Integer, regexp.MustCompile(`(^|[^\d])-?[\d,]{1,9}(\s)?(%)?($|[^\d])`)},
	{Long, regexp.MustCompile(`-?[\d,]+`)},
}

// ClassifyCell returns the type of a single cell. Empty cells are None; a
// pattern only counts when its first match spans more than 60% of the cell.
func ClassifyCell(cell string) DataType {
	if cell == "" {
		return None
	}
	size := float64(utf8.RuneCountInString(cell))
	for _, p := range cellPatterns {
		loc := p.re.FindStringIndex(cell)
		if loc == nil {
			continue
		}
		if float64(utf8.RuneCountInString(cell[loc[0]:loc[1]]))/size > minCoverage {
			return p.kind
		}
	}
	return String
}

// TypeCounts is a histogram of per-cell types.
type TypeCounts map[DataType]int

// CountTypes classifies every cell of a column.
func CountTypes(column []string) TypeCounts {
	counts := make(TypeCounts, len(cellPatterns)+2)
	for _, cell := range column {
		counts[ClassifyCell(cell)]++
	}
	return counts
}

type typeCount struct {
	kind  DataType
	count int
}

// ClassifyColumn returns the single type that best describes a column.
//
// Empty cells are ignored when voting but still count towards the column
// length used for every ratio. A mixed column falls back to the least
// specific numeric type present when more than 90% of its cells are numeric.
func ClassifyColumn(column []string) DataType {
	counts := CountTypes(column)
	delete(counts, None)
	switch len(counts) {
	case 0:
		return None
	case 1:
		for kind := range counts {
			return kind
		}
	}

	ranked := make([]typeCount, 0, len(counts))
	for kind, n := range counts {
		ranked = append(ranked, typeCount{kind: kind, count: n})
	}
	// Descending by frequency; specificity only makes the order deterministic.
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].kind.Specificity() < ranked[j].kind.Specificity()
	})

	// Ratios are single precision and widened only for the comparison.
	total := float32(len(column))
	first := float32(ranked[0].count) / total
	second := float32(ranked[1].count) / total
	if float64(first-second) > majorityGap {
		return ranked[0].kind
	}

	numeric := 0
	for _, tc := range ranked {
		if tc.kind.Numeric() {
			numeric += tc.count
		}
	}
	if float64(float32(numeric)/total) > numericShare {
		sort.Slice(ranked, func(i, j int) bool {
			return ranked[i].kind.Specificity() < ranked[j].kind.Specificity()
		})
		for _, tc := range ranked {
			if tc.kind.Numeric() {
				return tc.kind
			}
		}
	}
	return String
}
