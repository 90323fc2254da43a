// Package embedding adapts an ai.Embedder to the fixed vector width the
// vector store is built for.
//
// Function pads, validates, batches, paces and retries backend calls. Errors
// come back as ErrBackend (transient failures after retries), ErrDimensionality
// (configuration, never retried) or the caller's context error.
package embedding
