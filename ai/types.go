package ai

// RerankCandidate is one item offered to a Reranker.
type RerankCandidate struct {
	// Title of the source document.
	Title string

	// Text is the passage text, or the document summary for results that
	// reference a whole document.
	Text string
}
