package memory

import (
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"the": {}, "is": {}, "in": {}, "at": {}, "which": {}, "on": {}, "and": {},
	"a": {}, "an": {}, "of": {}, "for": {}, "to": {}, "by": {}, "with": {},
	"that": {}, "this": {}, "these": {}, "those": {}, "are": {}, "be": {},
}

// Normalize turns a question into its token set: lower-cased, every rune
// outside [a-z0-9] and whitespace replaced by a space, stop-words and
// single-character tokens dropped, duplicates removed in first-seen order.
func Normalize(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case unicode.IsSpace(r):
			return r
		default:
			return ' '
		}
	}, strings.ToLower(text))

	fields := strings.Fields(cleaned)
	tokens := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		if len(field) <= 1 {
			continue
		}
		if _, stop := stopWords[field]; stop {
			continue
		}
		if _, dup := seen[field]; dup {
			continue
		}
		seen[field] = struct{}{}
		tokens = append(tokens, field)
	}
	return tokens
}

// Similarity is the Jaccard index of two token sets. Two empty sets score
// 1, one empty set scores 0.
func Similarity(a, b []string) float64 {
	setA := toSet(a)
	setB := toSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for token := range setA {
		if _, ok := setB[token]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func toSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		set[token] = struct{}{}
	}
	return set
}
