package mock

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/poiesic/clearance/ai"
)

// MockReranker is a test double for ai.Reranker.
type MockReranker struct {
	// RerankFunc is called by Rerank if set.
	// If nil, each candidate scores the number of query words it contains.
	RerankFunc func(ctx context.Context, query string, candidates []ai.RerankCandidate) ([]float32, error)

	callCount atomic.Int64
}

// NewMockReranker creates a mock reranker with default word-overlap scoring.
func NewMockReranker() *MockReranker {
	return &MockReranker{}
}

// Rerank scores candidates.
func (m *MockReranker) Rerank(ctx context.Context, query string, candidates []ai.RerankCandidate) ([]float32, error) {
	m.callCount.Add(1)

	if m.RerankFunc != nil {
		return m.RerankFunc(ctx, query, candidates)
	}

	words := strings.Fields(strings.ToLower(query))
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		text := strings.ToLower(c.Title + " " + c.Text)
		for _, w := range words {
			if strings.Contains(text, w) {
				scores[i]++
			}
		}
	}
	return scores, nil
}

// CallCount returns the number of times Rerank was called.
func (m *MockReranker) CallCount() int {
	return int(m.callCount.Load())
}

// Reset clears the call count and custom function.
func (m *MockReranker) Reset() {
	m.callCount.Store(0)
	m.RerankFunc = nil
}
