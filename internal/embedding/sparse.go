package embedding

import (
	"context"
	"hash/fnv"
	"strings"
)

// TermFrequencyEncoder is a SparseEncoder producing term-frequency
// weights keyed by an FNV-1a hash of each token, grounded on the same
// tokenize idiom vectorstore's in-memory BM25-ish scorer uses. No
// vocabulary table is persisted; the hash keyspace is wide enough
// (uint32) that collisions are rare and, since this only feeds a
// rank-fusion signal rather than an exact lookup, tolerable.
type TermFrequencyEncoder struct{}

// NewTermFrequencyEncoder creates a TermFrequencyEncoder.
func NewTermFrequencyEncoder() *TermFrequencyEncoder {
	return &TermFrequencyEncoder{}
}

// EncodeSparse tokenizes text and returns a normalized term-frequency
// vector keyed by hashed term.
func (e *TermFrequencyEncoder) EncodeSparse(_ context.Context, text string) (map[uint32]float32, error) {
	terms := tokenize(text)
	if len(terms) == 0 {
		return map[uint32]float32{}, nil
	}

	counts := make(map[uint32]float32, len(terms))
	for _, term := range terms {
		counts[hashTerm(term)]++
	}

	total := float32(len(terms))
	for k, v := range counts {
		counts[k] = v / total
	}
	return counts, nil
}

func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	terms := make([]string, 0, len(fields))
	for _, w := range fields {
		w = strings.Trim(w, ".,!?;:\"'()[]{}")
		if w != "" {
			terms = append(terms, w)
		}
	}
	return terms
}

func hashTerm(term string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(term))
	return h.Sum32()
}
