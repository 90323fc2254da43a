package reembed

import "errors"

var (
	// ErrDocumentRepositoryRequired is returned when a document repository is not provided
	ErrDocumentRepositoryRequired = errors.New("document repository required")

	// ErrIndexerRequired is returned when an indexer is not provided
	ErrIndexerRequired = errors.New("indexer required")
)
