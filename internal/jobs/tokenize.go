package jobs

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxTokenLength = 255

// Lucene's classic English stop set.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "but": {},
	"by": {}, "for": {}, "if": {}, "in": {}, "into": {}, "is": {}, "it": {}, "no": {},
	"not": {}, "of": {}, "on": {}, "or": {}, "such": {}, "that": {}, "the": {},
	"their": {}, "then": {}, "there": {}, "these": {}, "they": {}, "this": {},
	"to": {}, "was": {}, "will": {}, "with": {},
}

var urlSplit = regexp.MustCompile(`[/_-]|%20`)

// Terms folds s to ASCII, lower-cases it and returns its alphanumeric tokens
// without stop words. The result is never nil.
func Terms(s string) []string {
	folded, _, err := transform.String(foldChain(), s)
	if err != nil {
		folded = s
	}
	fields := strings.FieldsFunc(strings.ToLower(folded), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, stop := stopWords[f]; stop || len(f) > maxTokenLength {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

// foldChain strips combining marks; a transformer is stateful, so each call
// gets its own.
func foldChain() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// SplitURLPath splits the path of rawURL on '/', '_', '-' and "%20" after
// removing a trailing .htm or .html extension. Unparseable URLs are split
// as a whole.
func SplitURLPath(rawURL string) []string {
	path := rawURL
	if u, err := parseAbsoluteURL(rawURL); err == nil {
		path = u.EscapedPath()
		if strings.HasSuffix(path, ".htm") || strings.HasSuffix(path, ".html") {
			path = path[:strings.LastIndex(path, ".")]
		}
	}
	parts := urlSplit.Split(path, -1)
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}
