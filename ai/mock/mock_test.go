package mock

import (
	"context"
	"testing"

	"github.com/poiesic/clearance/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float32 {
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot
}

func TestHashedVectorIsDeterministicAndNormalized(t *testing.T) {
	a := HashedVector("Annual leave policy", 64)
	b := HashedVector("annual LEAVE policy.", 64)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, cosine(a, a), 1e-5)

	assert.Equal(t, make([]float32, 8), HashedVector("  ...  ", 8))
}

func TestHashedVectorSharedWordsAreSimilar(t *testing.T) {
	query := HashedVector("parental leave", 256)
	related := HashedVector("parental leave entitlements for staff", 256)
	unrelated := HashedVector("procurement thresholds", 256)

	assert.Greater(t, cosine(query, related), cosine(query, unrelated))
}

func TestMockEmbedder(t *testing.T) {
	e := NewMockEmbedderWithDimensions(16)
	ctx := context.Background()

	v, err := e.EmbedText(ctx, "hello")
	require.NoError(t, err)
	assert.Len(t, v, 16)

	vs, err := e.EmbedTexts(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Len(t, vs, 3)
	assert.Equal(t, 2, e.CallCount())

	e.Reset()
	assert.Zero(t, e.CallCount())
	assert.Equal(t, DefaultDimensions, NewMockEmbedder().Dimensions())
}

func TestMockReranker(t *testing.T) {
	r := NewMockReranker()
	scores, err := r.Rerank(context.Background(), "leave policy", []ai.RerankCandidate{
		{Title: "Leave", Text: "policy on leave"},
		{Title: "Travel", Text: "economy flights"},
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 0}, scores)
	assert.Equal(t, 1, r.CallCount())
}

func TestMockProvider(t *testing.T) {
	p := NewMockProvider()
	assert.NotNil(t, p.Embedder())
	assert.Nil(t, p.Reranker())
	require.NoError(t, p.Close())

	withReranker := NewMockProviderWithServices(NewMockEmbedder(), NewMockReranker())
	assert.NotNil(t, withReranker.Reranker())
}
