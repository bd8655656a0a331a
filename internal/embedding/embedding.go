package embedding

import (
	"math"
	"strings"
	"unicode"
)

// TermVector is a sparse term -> frequency map. It is the lexical fingerprint
// used for similarity scoring; not a learned vector.
type TermVector map[string]float64

// Embedder converts text into a sparse term vector. The lexical implementation
// is the default; a semantic backend can be substituted without touching the
// scorer or assembler contracts.
type Embedder interface {
	Embed(text string) TermVector
}

// LexicalEmbedder produces bag-of-words term frequencies: lower-cased, split
// on non-word boundaries, tokens of length <= 2 discarded.
type LexicalEmbedder struct{}

func NewLexicalEmbedder() *LexicalEmbedder { return &LexicalEmbedder{} }

func (e *LexicalEmbedder) Embed(text string) TermVector {
	vec := make(TermVector)
	for _, tok := range Tokenize(text) {
		vec[tok]++
	}
	return vec
}

// Tokenize lower-cases the input and splits it on runs of non-word characters,
// dropping tokens of length <= 2.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	terms := fields[:0]
	for _, f := range fields {
		if len(f) > 2 {
			terms = append(terms, f)
		}
	}
	return terms
}

// Cosine computes cosine similarity over the union of terms in a and b.
// Returns 0 when either vector has zero norm. The result is clamped to [0,1].
func Cosine(a, b TermVector) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for term, wa := range a {
		dot += wa * b[term]
		normA += wa * wa
	}
	for _, wb := range b {
		normB += wb * wb
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	score := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
