// Package match implements the hybrid fuzzy matcher used to resolve
// spoken location and device references: normalized edit distance,
// stop-word-stripped token comparison, a phonetic encoder tuned for
// speech-to-text artifacts, and the weighted blend of all of them with
// embedding similarity.
package match

import (
	"math"
	"strings"
)

// stopWords are articles, conjunctions, pronouns, and domain filler words
// that carry no discriminating signal in a device or room name.
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {},
	"and": {}, "or": {}, "but": {}, "nor": {},
	"my": {}, "your": {}, "our": {}, "his": {}, "her": {}, "its": {}, "their": {},
	"this": {}, "that": {}, "these": {}, "those": {}, "it": {},
	"light": {}, "lights": {}, "lamp": {}, "lamps": {},
	"bulb": {}, "bulbs": {}, "led": {}, "leds": {},
}

// NormalizedLevenshtein returns edit-distance similarity in [0,1],
// case-insensitive. Both inputs empty scores 1, exactly one empty scores 0.
func NormalizedLevenshtein(a, b string) float64 {
	ra := []rune(strings.ToLower(a))
	rb := []rune(strings.ToLower(b))
	if len(ra) == 0 && len(rb) == 0 {
		return 1.0
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0.0
	}
	// Single-row DP over the shorter string.
	if len(rb) > len(ra) {
		ra, rb = rb, ra
	}
	prev := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		diag := prev[0]
		prev[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			ins := prev[j-1] + 1
			del := prev[j] + 1
			sub := diag + cost
			diag = prev[j]
			prev[j] = minInt(ins, minInt(del, sub))
		}
	}
	dist := prev[len(rb)]
	maxLen := len(ra)
	return 1.0 - float64(dist)/float64(maxLen)
}

// CoreTokens splits text on whitespace, apostrophes, hyphens, and
// underscores, lowercases, and drops stop words.
func CoreTokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '\r', '\'', '’', '-', '_':
			return true
		}
		return false
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, stop := stopWords[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// TokenCoreSimilarity compares only the discriminating tokens of two
// names: each core token of a takes its best Levenshtein similarity
// against any core token of b, averaged over a's token count. The
// asymmetric denominator keeps extra context words in the candidate from
// penalizing a short query.
func TokenCoreSimilarity(a, b string) float64 {
	ta := CoreTokens(a)
	tb := CoreTokens(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1.0
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0.0
	}
	return bestMatchAverage(ta, tb)
}

// bestMatchAverage is the shared best-match-then-average pattern used by
// both token-core and phonetic similarity.
func bestMatchAverage(a, b []string) float64 {
	var total float64
	for _, ta := range a {
		best := 0.0
		for _, tb := range b {
			if sim := NormalizedLevenshtein(ta, tb); sim > best {
				best = sim
			}
		}
		total += best
	}
	return total / float64(len(a))
}

// BuildPhoneticKeys encodes each core token of name, dropping empty
// codes. Keys are computed once at cache-build time and reused on every
// search.
func BuildPhoneticKeys(name string) []string {
	tokens := CoreTokens(name)
	keys := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if code := Metaphone(t); code != "" {
			keys = append(keys, code)
		}
	}
	return keys
}

// PhoneticSimilarity scores two pre-built key lists with the same
// best-match-then-average pattern as TokenCoreSimilarity.
func PhoneticSimilarity(keysA, keysB []string) float64 {
	if len(keysA) == 0 && len(keysB) == 0 {
		return 1.0
	}
	if len(keysA) == 0 || len(keysB) == 0 {
		return 0.0
	}
	return bestMatchAverage(keysA, keysB)
}

// PhoneticSimilarityNames is the cold-path overload that builds keys on
// the fly from raw names.
func PhoneticSimilarityNames(a, b string) float64 {
	return PhoneticSimilarity(BuildPhoneticKeys(a), BuildPhoneticKeys(b))
}

// HybridScore blends embedding similarity with the best of the three
// string metrics: score = w*embeddingSim + (1-w)*max(lev, tokenCore,
// phonetic).
func HybridScore(embeddingSim float64, searchTerm, entityName string, embeddingWeight float64, searchKeys, entityKeys []string) float64 {
	stringSim := math.Max(
		NormalizedLevenshtein(searchTerm, entityName),
		math.Max(
			TokenCoreSimilarity(searchTerm, entityName),
			PhoneticSimilarity(searchKeys, entityKeys),
		),
	)
	return embeddingWeight*embeddingSim + (1.0-embeddingWeight)*stringSim
}

// HybridScoreNames computes phonetic keys from the raw strings for
// callers without a pre-built key cache.
func HybridScoreNames(embeddingSim float64, searchTerm, entityName string, embeddingWeight float64) float64 {
	return HybridScore(embeddingSim, searchTerm, entityName, embeddingWeight,
		BuildPhoneticKeys(searchTerm), BuildPhoneticKeys(entityName))
}

// CosineSimilarity over float32 vectors. Returns 0 when either side is
// empty or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := 0; i < len(a); i++ {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
