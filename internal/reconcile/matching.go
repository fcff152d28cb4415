package reconcile

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Matcher decides whether a candidate task title matches the event's key.
// The tolerance is policy, not code: exact and fuzzy variants ship, and
// callers select one from configuration.
type Matcher interface {
	Match(key, candidate string) (score float64, ok bool)
}

var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize folds diacritics, lowercases, and collapses whitespace so
// "José  da Silva" and "jose da silva" compare equal.
func Normalize(s string) string {
	folded, _, err := transform.String(foldDiacritics, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}
	return strings.Join(strings.Fields(folded), " ")
}

// ExactMatcher matches on normalized equality.
type ExactMatcher struct{}

func (ExactMatcher) Match(key, candidate string) (float64, bool) {
	if Normalize(key) == Normalize(candidate) {
		return 1, true
	}
	return 0, false
}

// FuzzyMatcher matches on Jaro-Winkler similarity over normalized strings.
type FuzzyMatcher struct {
	Threshold float64
}

func (m FuzzyMatcher) Match(key, candidate string) (float64, bool) {
	score := jaroWinkler(Normalize(key), Normalize(candidate))
	return score, score >= m.Threshold
}

// jaroWinkler is the classic similarity in [0,1]. Implemented here because
// the comparison feeds a tunable policy threshold and must stay stable
// across dependency upgrades.
func jaroWinkler(a, b string) float64 {
	sim := jaro(a, b)
	if sim == 0 {
		return 0
	}

	// Common prefix bonus, capped at 4 runes.
	prefix := 0
	ra, rb := []rune(a), []rune(b)
	for prefix < len(ra) && prefix < len(rb) && ra[prefix] == rb[prefix] {
		prefix++
		if prefix == 4 {
			break
		}
	}
	return sim + float64(prefix)*0.1*(1-sim)
}

func jaro(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 && lb == 0 {
		return 1
	}
	if la == 0 || lb == 0 {
		return 0
	}

	window := max(la, lb)/2 - 1
	if window < 0 {
		window = 0
	}

	matchedA := make([]bool, la)
	matchedB := make([]bool, lb)
	matches := 0
	for i := 0; i < la; i++ {
		lo := i - window
		if lo < 0 {
			lo = 0
		}
		hi := i + window + 1
		if hi > lb {
			hi = lb
		}
		for j := lo; j < hi; j++ {
			if matchedB[j] || ra[i] != rb[j] {
				continue
			}
			matchedA[i] = true
			matchedB[j] = true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0
	}

	transpositions := 0
	j := 0
	for i := 0; i < la; i++ {
		if !matchedA[i] {
			continue
		}
		for !matchedB[j] {
			j++
		}
		if ra[i] != rb[j] {
			transpositions++
		}
		j++
	}

	m := float64(matches)
	t := float64(transpositions) / 2
	return (m/float64(la) + m/float64(lb) + (m-t)/m) / 3
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
