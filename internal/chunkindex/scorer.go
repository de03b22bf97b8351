package chunkindex

import (
	"strings"
	"unicode"
)

// Tokenize lowercases text and splits it into alphanumeric runs. Everything
// else (punctuation, whitespace, symbols) separates tokens.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// Score returns the fraction of distinct query tokens present in the chunk:
// |query ∩ chunk| / max(|query|, 1). A chunk containing every query token
// scores 1.0; a chunk sharing none scores 0.0. Deliberately simple and
// explainable; ties between chunks are broken by encounter order, which is
// not guaranteed stable as the index grows.
func Score(queryTokens []string, chunk string) float64 {
	distinct := make(map[string]struct{}, len(queryTokens))
	for _, t := range queryTokens {
		distinct[t] = struct{}{}
	}
	if len(distinct) == 0 {
		return 0
	}

	chunkTokens := make(map[string]struct{})
	for _, t := range Tokenize(chunk) {
		chunkTokens[t] = struct{}{}
	}

	matched := 0
	for t := range distinct {
		if _, ok := chunkTokens[t]; ok {
			matched++
		}
	}

	return float64(matched) / float64(len(distinct))
}
