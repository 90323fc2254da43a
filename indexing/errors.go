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

package indexing

import "errors"

var (
	// ErrDocumentRepositoryRequired is returned when a document repository is not provided.
	ErrDocumentRepositoryRequired = errors.New("document repository required")

	// ErrVectorStoreRequired is returned when a vector store is not provided.
	ErrVectorStoreRequired = errors.New("vector store required")

	// ErrEmbeddingRequired is returned when an embedding function is not provided.
	ErrEmbeddingRequired = errors.New("embedding function required")

	// ErrExtraction is returned when the text extraction callback fails.
	ErrExtraction = errors.New("text extraction failed")

	// ErrNotClaimed is returned when another job holds the document or its
	// state does not allow a new embedding attempt.
	ErrNotClaimed = errors.New("document not claimed")

	// ErrDocumentGone is returned when the document was deleted while it was
	// being indexed.
	ErrDocumentGone = errors.New("document deleted during indexing")
)
