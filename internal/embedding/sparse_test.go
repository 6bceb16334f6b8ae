package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTermFrequencyEncoder_EncodeSparseNormalizesWeights(t *testing.T) {
	enc := NewTermFrequencyEncoder()
	vec, err := enc.EncodeSparse(context.Background(), "cat dog cat")
	require.NoError(t, err)

	var total float32
	for _, w := range vec {
		total += w
	}
	assert.InDelta(t, float32(1.0), total, 0.0001)
	assert.Len(t, vec, 2)
}

func TestTermFrequencyEncoder_EmptyTextReturnsEmptyVector(t *testing.T) {
	enc := NewTermFrequencyEncoder()
	vec, err := enc.EncodeSparse(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, vec)
}

func TestTermFrequencyEncoder_SameTermAlwaysHashesTheSame(t *testing.T) {
	enc := NewTermFrequencyEncoder()
	a, err := enc.EncodeSparse(context.Background(), "hello")
	require.NoError(t, err)
	b, err := enc.EncodeSparse(context.Background(), "hello hello")
	require.NoError(t, err)

	var keyA uint32
	for k := range a {
		keyA = k
	}
	_, ok := b[keyA]
	assert.True(t, ok)
}
