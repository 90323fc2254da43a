package mock

import "github.com/poiesic/clearance/ai"

// MockProvider is a test double for ai.AIProvider.
type MockProvider struct {
	embedder *MockEmbedder
	reranker *MockReranker
}

// NewMockProvider creates a mock provider with a default embedder and no
// reranker.
//
// Returns ai.AIProvider interface for consistency with production constructors.
// Use GetMockEmbedder() to access the concrete type for test assertions.
func NewMockProvider() ai.AIProvider {
	return &MockProvider{embedder: NewMockEmbedder()}
}

// NewMockProviderWithServices creates a mock provider with custom mock services.
// reranker may be nil.
func NewMockProviderWithServices(embedder *MockEmbedder, reranker *MockReranker) ai.AIProvider {
	return &MockProvider{
		embedder: embedder,
		reranker: reranker,
	}
}

// Embedder returns the mock embedder.
func (p *MockProvider) Embedder() ai.Embedder {
	return p.embedder
}

// Reranker returns the mock reranker, or nil when none was supplied.
func (p *MockProvider) Reranker() ai.Reranker {
	if p.reranker == nil {
		return nil
	}
	return p.reranker
}

// Close is a no-op for mock provider.
func (p *MockProvider) Close() error {
	return nil
}

// GetMockEmbedder returns the underlying mock embedder for test assertions.
func (p *MockProvider) GetMockEmbedder() *MockEmbedder {
	return p.embedder
}

// GetMockReranker returns the underlying mock reranker, which may be nil.
func (p *MockProvider) GetMockReranker() *MockReranker {
	return p.reranker
}
