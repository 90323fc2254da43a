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
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/clearance/core"
	"github.com/poiesic/clearance/storage"
)

// Scope selects which documents a run visits.
type Scope int

const (
	// ScopeAll re-embeds every document, including embedded ones.
	ScopeAll Scope = iota
	// ScopeMissing embeds documents that are not embedded or failed.
	ScopeMissing
	// ScopeFailed retries only failed documents.
	ScopeFailed
)

// ParseScope converts "all", "missing" or "failed" to a Scope.
func ParseScope(s string) (Scope, error) {
	switch s {
	case "", "all":
		return ScopeAll, nil
	case "missing":
		return ScopeMissing, nil
	case "failed":
		return ScopeFailed, nil
	}
	return 0, fmt.Errorf("unknown scope %q", s)
}

func (s Scope) includes(doc *core.Document) bool {
	switch s {
	case ScopeMissing:
		return doc.EmbeddingState != core.EmbeddingDone && doc.EmbeddingState != core.EmbeddingInProgress
	case ScopeFailed:
		return doc.EmbeddingState == core.EmbeddingFailed
	}
	return true
}

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of documents fetched per batch
	BatchSize int

	// ReportInterval is how often to report progress (number of documents)
	ReportInterval int

	// Scope selects the documents to process
	Scope Scope

	// StaleClaimAfter lets the run take over embedding claims older than this
	StaleClaimAfter time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:       DefaultBatchSize,
		ReportInterval:  10,
		Scope:           ScopeAll,
		StaleClaimAfter: 5 * time.Minute,
	}
}

// Summary counts the outcomes of a run.
type Summary struct {
	Total    int
	Embedded int
	Failed   int
	Skipped  int
}

// Reembedder orchestrates the re-embedding of stored documents.
type Reembedder struct {
	config    *Config
	progress  io.Writer
	processor *BatchProcessor
	iterator  *DocumentIterator
}

// NewReembedder creates a new reembedder.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(repo storage.DocumentRepository, indexer Indexer, config *Config, progress io.Writer, logger *slog.Logger) (*Reembedder, error) {
	if repo == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if indexer == nil {
		return nil, ErrIndexerRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "reembed")

	return &Reembedder{
		config:    config,
		progress:  progress,
		processor: NewBatchProcessor(indexer, config.StaleClaimAfter, logger),
		iterator:  NewDocumentIterator(repo, config.BatchSize, config.Scope.includes),
	}, nil
}

// Run processes every document in scope. Individual failures are counted
// in the summary; only listing errors and cancellation end the run early.
func (r *Reembedder) Run(ctx context.Context) (Summary, error) {
	var summary Summary
	total, err := r.iterator.Count(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to list documents: %w", err)
	}
	summary.Total = total
	if total == 0 {
		fmt.Fprintf(r.progress, "No documents to embed (0 documents)\n")
		return summary, nil
	}

	fmt.Fprintf(r.progress, "Starting embedding of %d documents (batch size: %d)\n", total, r.iterator.batchSize)
	tracker := NewProgressTracker(r.progress, total, r.config.ReportInterval)
	tracker.Start()

	err = r.iterator.ForEach(ctx, func(docs []*core.Document) error {
		return r.processor.Process(ctx, docs, func(_ core.ID, o Outcome) {
			switch o {
			case OutcomeEmbedded:
				summary.Embedded++
			case OutcomeFailed:
				summary.Failed++
			case OutcomeSkipped:
				summary.Skipped++
			}
			tracker.Record(o == OutcomeFailed)
		})
	})
	tracker.Finish()
	if err != nil {
		return summary, err
	}

	elapsed := tracker.Elapsed()
	fmt.Fprintf(r.progress, "Embedding complete. %d embedded, %d failed, %d skipped in %v\n",
		summary.Embedded, summary.Failed, summary.Skipped, elapsed.Round(time.Millisecond))
	return summary, nil
}
