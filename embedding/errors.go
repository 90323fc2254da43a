package embedding

import "errors"

var (
	// ErrBackend is returned when the embedding backend fails, times out,
	// or returns a malformed response, after retries are exhausted.
	ErrBackend = errors.New("embedding backend error")

	// ErrDimensionality is returned when the backend produces vectors wider
	// than the canonical dimensionality. It is a configuration problem and
	// is never retried.
	ErrDimensionality = errors.New("embedding wider than canonical dimensionality")

	// ErrEmbedderRequired is returned when no embedder is provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrInvalidDimensions is returned for a non-positive canonical dimensionality.
	ErrInvalidDimensions = errors.New("canonical dimensionality must be positive")

	// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")
)
