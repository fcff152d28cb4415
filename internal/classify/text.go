package classify

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeToken lowercases and strips diacritics so "Ação" and "acao"
// score identically.
func normalizeToken(token string) string {
	folded, _, err := transform.String(foldDiacritics, strings.ToLower(token))
	if err != nil {
		return strings.ToLower(token)
	}
	return folded
}

// stemToken applies a light bilingual stem: drop a plural "s", then one
// trailing a/e/o when at least three runes remain. Enough to collapse
// common Portuguese inflections without a full stemmer.
func stemToken(token string) string {
	t := normalizeToken(token)
	t = strings.TrimSuffix(t, "s")
	if len(t) > 3 {
		switch t[len(t)-1] {
		case 'a', 'e', 'o':
			t = t[:len(t)-1]
		}
	}
	return t
}

// tokenize splits text into scored tokens: diacritics folded, punctuation
// dropped, tokens of one or two runes discarded, remainder stemmed.
func tokenize(text string) []string {
	normalized := normalizeToken(text)
	fields := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) <= 2 {
			continue
		}
		tokens = append(tokens, stemToken(f))
	}
	return tokens
}

// Fingerprint reduces text to its learning key: normalized alphanumerics
// and single spaces.
func Fingerprint(text string) string {
	normalized := normalizeToken(text)
	var sb strings.Builder
	for _, r := range normalized {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || r == ' ' {
			sb.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}
