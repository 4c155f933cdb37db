package metricscalculator

import (
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// unitCost counts substitutions as one edit so distances normalize into [0,1]
// against the longer input.
var unitCost = levenshtein.Options{
	InsCost: 1,
	DelCost: 1,
	SubCost: 1,
	Matches: levenshtein.IdenticalRunes,
}

// CharacterErrorRate is the character edit distance divided by the reference
// length. An empty reference yields 0 for an empty candidate and 1 otherwise.
func CharacterErrorRate(reference, candidate string) float64 {
	ref := []rune(reference)
	cand := []rune(candidate)
	if len(ref) == 0 {
		if len(cand) == 0 {
			return 0
		}
		return 1
	}
	return float64(levenshtein.DistanceForStrings(ref, cand, unitCost)) / float64(len(ref))
}

// WordErrorRate is the word-level edit distance divided by the number of
// reference words. Words compare case-insensitively.
func WordErrorRate(reference, candidate string) float64 {
	ref, cand := wordRunes(reference, candidate)
	if len(ref) == 0 {
		if len(cand) == 0 {
			return 0
		}
		return 1
	}
	return float64(levenshtein.DistanceForStrings(ref, cand, unitCost)) / float64(len(ref))
}

// Similarity returns a 0-100 closeness score between a reference text and a
// candidate: the mean of character and word similarity, each clamped at zero.
func Similarity(reference, candidate string) float64 {
	if strings.TrimSpace(reference) == "" && strings.TrimSpace(candidate) == "" {
		return 100
	}
	charSim := 1 - normalizedDistance([]rune(reference), []rune(candidate))
	refWords, candWords := wordRunes(reference, candidate)
	wordSim := 1 - normalizedDistance(refWords, candWords)
	return Clamp(50*(charSim+wordSim), 0, 100)
}

func normalizedDistance(a, b []rune) float64 {
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}
	return float64(levenshtein.DistanceForStrings(a, b, unitCost)) / float64(longest)
}

// wordRunes maps every distinct word in both texts onto its own rune, so the
// rune-based edit distance counts whole-word edits.
func wordRunes(a, b string) ([]rune, []rune) {
	vocab := map[string]rune{}
	encode := func(text string) []rune {
		fields := strings.Fields(strings.ToLower(text))
		out := make([]rune, len(fields))
		for i, w := range fields {
			r, ok := vocab[w]
			if !ok {
				// Private-use plane keeps codes clear of surrogates.
				r = rune(0xF0000 + len(vocab))
				vocab[w] = r
			}
			out[i] = r
		}
		return out
	}
	return encode(a), encode(b)
}
