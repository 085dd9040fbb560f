// Package metrics scores a predicted document against its ground truth.
//
// Both sides are reduced to ordered flat key/value lists by a
// dataset-specific adapter (see Flatten) and compared after normalization:
// case and every non-alphanumeric character carry no weight.
package metrics

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agext/levenshtein"
)

// Normalize lower-cases s and keeps only letters and digits.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// NormalizedDistance is the Levenshtein distance divided by the longer
// string's rune length. Two empty strings are at distance 0.
func NormalizedDistance(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 0
	}
	return float64(levenshtein.Distance(a, b, nil)) / float64(longest)
}

// Similarity is 1 - NormalizedDistance.
func Similarity(a, b string) float64 {
	return 1 - NormalizedDistance(a, b)
}
