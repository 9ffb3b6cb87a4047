package util

import (
	"regexp"
	"strings"
)

var wordPattern = regexp.MustCompile(`\w+`)

// Tokens lowercases text and returns its distinct word tokens.
func Tokens(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		out[w] = struct{}{}
	}
	return out
}

// OverlapRatio returns |tokens(reference) ∩ tokens(candidate)| / |tokens(reference)|,
// a loose lexical similarity in [0, 1]. An empty reference yields 0.
func OverlapRatio(reference, candidate string) float64 {
	ref := Tokens(reference)
	if len(ref) == 0 {
		return 0
	}
	cand := Tokens(candidate)
	shared := 0
	for w := range ref {
		if _, ok := cand[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(ref))
}
