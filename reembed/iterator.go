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

package reembed

import (
	"context"

	"github.com/poiesic/clearance/access"
	"github.com/poiesic/clearance/core"
	"github.com/poiesic/clearance/storage"
)

const (
	// DefaultBatchSize is the default number of documents handed to fn at once
	DefaultBatchSize = 20
)

// DocumentIterator walks every stored document in ID order, in batches.
type DocumentIterator struct {
	repo      storage.DocumentRepository
	batchSize int
	filter    func(*core.Document) bool
}

// NewDocumentIterator creates a new document iterator.
// batchSize: number of documents per batch (values <= 0 use DefaultBatchSize)
// filter: optional; documents it rejects are skipped
func NewDocumentIterator(repo storage.DocumentRepository, batchSize int, filter func(*core.Document) bool) *DocumentIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &DocumentIterator{repo: repo, batchSize: batchSize, filter: filter}
}

// Count returns how many documents ForEach would visit.
func (it *DocumentIterator) Count(ctx context.Context) (int, error) {
	docs, err := it.documents(ctx)
	return len(docs), err
}

// ForEach calls fn for each batch of documents.
// Iteration stops on first error from fn or when all documents are visited.
// Context cancellation is checked between batches.
func (it *DocumentIterator) ForEach(ctx context.Context, fn func([]*core.Document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	docs, err := it.documents(ctx)
	if err != nil {
		return err
	}

	for i := 0; i < len(docs); i += it.batchSize {
		batch := docs[i:min(i+it.batchSize, len(docs))]
		if err := fn(batch); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (it *DocumentIterator) documents(ctx context.Context) ([]*core.Document, error) {
	docs, err := it.repo.ListDocuments(ctx, access.Unrestricted())
	if err != nil || it.filter == nil {
		return docs, err
	}
	kept := docs[:0]
	for _, doc := range docs {
		if it.filter(doc) {
			kept = append(kept, doc)
		}
	}
	return kept, nil
}
