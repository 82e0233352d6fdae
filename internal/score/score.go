// Package score ranks free text and short names against a search query.
//
// Two policies exist. Relevance is for documents (chain link bodies, artifact
// text): verbatim substring beats word overlap beats fuzzy similarity. Name is
// for short identifiers (memory keys, chain names): Jaro-Winkler plus a fixed
// bonus when the query is a substring.
package score

import (
	"cmp"
	"slices"
	"strings"

	"github.com/xrash/smetrics"
)

// Bonuses added by Name when the query occurs inside the name.
const (
	MemoryKeyBoost = 0.2
	ChainNameBoost = 0.3
)

// Floors applied by the callers that filter.
const (
	ChainNameFloor = 0.4
	GlobalFloor    = 0.3
)

// fuzzyPrefix is how much of a document the fuzzy fallback compares against.
const fuzzyPrefix = 100

// JaroWinkler returns the Jaro-Winkler similarity of a and b: the common
// prefix (up to four bytes) boosts scores above 0.7. Strings are compared
// byte by byte, so a multi-byte character counts as several mismatches.
func JaroWinkler(a, b string) float64 {
	return smetrics.JaroWinkler(a, b, 0.7, 4)
}

// Relevance scores text against query in [0, 1].
func Relevance(text, query string) float64 {
	text = strings.ToLower(text)
	query = strings.ToLower(query)

	if strings.Contains(text, query) {
		ratio := 0.1
		if len(text) > 0 {
			ratio = min(ratio, float64(len(query))/float64(len(text)))
		}
		return 0.9 + ratio
	}

	words := strings.Fields(query)
	matched := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			matched++
		}
	}
	if matched > 0 {
		return 0.5 + 0.4*float64(matched)/float64(len(words))
	}

	return JaroWinkler(headRunes(text, fuzzyPrefix), query) * 0.5
}

// Name scores a short identifier against query, capped at 1.
func Name(name, query string, boost float64) float64 {
	name = strings.ToLower(name)
	query = strings.ToLower(query)
	s := JaroWinkler(name, query)
	if strings.Contains(name, query) {
		s += boost
	}
	return min(1.0, s)
}

// Preview returns at most n runes of s.
func Preview(s string, n int) string {
	return headRunes(s, n)
}

func headRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// NoFloor disables floor filtering in RankNames.
const NoFloor = -1.0

// Match is one ranked name.
type Match struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// RankNames scores every name with Name, keeps those strictly above floor,
// sorts by descending score and truncates to limit. Ties keep lexical order.
func RankNames(names []string, query string, boost, floor float64, limit int) []Match {
	sorted := slices.Clone(names)
	slices.Sort(sorted)

	matches := make([]Match, 0, len(sorted))
	for _, n := range sorted {
		s := Name(n, query, boost)
		if s > floor {
			matches = append(matches, Match{Name: n, Score: s})
		}
	}
	SortDesc(matches, func(m Match) float64 { return m.Score })
	if limit >= 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// SortDesc stable-sorts items by descending key.
func SortDesc[T any](items []T, key func(T) float64) {
	slices.SortStableFunc(items, func(a, b T) int {
		return cmp.Compare(key(b), key(a))
	})
}
