// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package search

import "errors"

var (
	// ErrDocumentRepositoryRequired is returned when a document repository is not provided.
	ErrDocumentRepositoryRequired = errors.New("document repository required")

	// ErrVectorStoreRequired is returned when a vector store is not provided.
	ErrVectorStoreRequired = errors.New("vector store required")

	// ErrEmbeddingRequired is returned when an embedding function is not provided.
	ErrEmbeddingRequired = errors.New("embedding function required")

	// ErrInvalidWeights is returned when fusion weights are negative or both zero.
	ErrInvalidWeights = errors.New("invalid fusion weights")

	// ErrInvalidLimit is returned when a search limit is not positive.
	ErrInvalidLimit = errors.New("limit must be positive")

	// ErrTryNext is returned by a strategy that found nothing, handing the
	// query to the next strategy in the chain.
	ErrTryNext = errors.New("try next strategy")

	// ErrStaleAccessAttributes describes an embedding record whose access
	// attributes contradict its document. It is logged, never returned.
	ErrStaleAccessAttributes = errors.New("stale access attributes")
)
