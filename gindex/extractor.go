package gindex

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Extractor derives search terms from payload bytes.
type Extractor interface {
	Terms(data []byte) []string
}

// WordExtractor splits valid UTF-8 text into lowercase words.
// Non-text payloads produce no terms.
type WordExtractor struct {
	// Words shorter than MinLen runes are dropped. Defaults to 2.
	MinLen int

	// Words longer than MaxLen runes are dropped. Defaults to 64.
	MaxLen int

	// At most MaxTerms distinct terms are kept per payload. Defaults to 256.
	MaxTerms int
}

func (e WordExtractor) Terms(data []byte) []string {
	if !utf8.Valid(data) {
		return nil
	}

	minLen, maxLen, maxTerms := e.MinLen, e.MaxLen, e.MaxTerms
	if minLen <= 0 {
		minLen = 2
	}
	if maxLen <= 0 {
		maxLen = 64
	}
	if maxTerms <= 0 {
		maxTerms = 256
	}

	words := strings.FieldsFunc(string(data), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(words))
	terms := make([]string, 0, min(len(words), maxTerms))
	for _, w := range words {
		n := utf8.RuneCountInString(w)
		if n < minLen || n > maxLen {
			continue
		}
		w = strings.ToLower(w)
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		terms = append(terms, w)
		if len(terms) == maxTerms {
			break
		}
	}
	slices.Sort(terms)
	return terms
}

// NormalizeTerm applies the same folding as [WordExtractor]
// so that queries match indexed terms.
func NormalizeTerm(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}
