package engine

import (
	"math"
	"strings"
)

// tokenize splits text into lowercase tokens, stripping punctuation.
// Single-character tokens are dropped.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	var tokens []string
	var current strings.Builder
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			current.WriteRune(r)
		} else {
			if current.Len() > 1 {
				tokens = append(tokens, current.String())
			}
			current.Reset()
		}
	}
	if current.Len() > 1 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

// LexicalIndex builds the sparse term-weight map stored alongside each
// entity's content. Weights are augmented term frequency, L2-normalized, so
// two indexes compare by plain dot product.
func LexicalIndex(text string) map[string]float64 {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	tf := make(map[string]int, len(tokens))
	maxTF := 0
	for _, tok := range tokens {
		tf[tok]++
		if tf[tok] > maxTF {
			maxTF = tf[tok]
		}
	}

	index := make(map[string]float64, len(tf))
	var sum float64
	for term, count := range tf {
		// Augmented TF to prevent bias towards longer documents
		w := 0.5 + 0.5*float64(count)/float64(maxTF)
		index[term] = w
		sum += w * w
	}

	norm := math.Sqrt(sum)
	for term := range index {
		index[term] /= norm
	}
	return index
}

// LexicalScore computes the sparse dot product of two lexical indexes.
// Both sides are L2-normalized at build time, so this is cosine similarity.
func LexicalScore(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	// Iterate the smaller map
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for term, w := range a {
		if w2, ok := b[term]; ok {
			dot += w * w2
		}
	}
	return dot
}
