// Package keyword extracts ranked keywords from free text for tagging
// and concept linking.
package keyword

import (
	"sort"
	"strings"
	"unicode"
)

const (
	DefaultMaxKeywords = 5
	DefaultMinLength   = 3
)

// Options configures keyword extraction.
type Options struct {
	MaxKeywords int
	MinLength   int
}

// DefaultOptions returns default extraction options.
func DefaultOptions() Options {
	return Options{
		MaxKeywords: DefaultMaxKeywords,
		MinLength:   DefaultMinLength,
	}
}

// stopwords are common English words excluded from extraction.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true,
	"had": true, "has": true, "have": true, "her": true, "his": true,
	"i": true, "if": true, "in": true, "into": true, "is": true, "it": true,
	"its": true, "my": true, "no": true, "not": true, "of": true, "on": true,
	"or": true, "our": true, "she": true, "so": true, "that": true,
	"the": true, "their": true, "them": true, "then": true, "there": true,
	"they": true, "this": true, "to": true, "was": true, "we": true,
	"were": true, "what": true, "when": true, "which": true, "who": true,
	"will": true, "with": true, "would": true, "you": true, "your": true,
}

// Extract returns up to opts.MaxKeywords keywords from text, ranked by
// frequency and then by first appearance. Stopwords, short tokens, and
// pure numbers are skipped.
func Extract(text string, opts Options) []string {
	if opts.MaxKeywords == 0 {
		opts = DefaultOptions()
	}

	type entry struct {
		word  string
		count int
		first int
	}

	seen := make(map[string]*entry)
	var order []*entry

	for i, tok := range Tokenize(text) {
		if len(tok) < opts.MinLength || stopwords[tok] || numeric(tok) {
			continue
		}
		if e, ok := seen[tok]; ok {
			e.count++
			continue
		}
		e := &entry{word: tok, count: 1, first: i}
		seen[tok] = e
		order = append(order, e)
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].count != order[j].count {
			return order[i].count > order[j].count
		}
		return order[i].first < order[j].first
	})

	out := make([]string, 0, opts.MaxKeywords)
	for _, e := range order {
		if len(out) == opts.MaxKeywords {
			break
		}
		out = append(out, e.word)
	}
	return out
}

// Tokenize lowercases text and splits it on any rune that is not a
// letter or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func numeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(s) > 0
}
