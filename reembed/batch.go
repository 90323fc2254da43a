package reembed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/poiesic/clearance/core"
	"github.com/poiesic/clearance/indexing"
	"github.com/poiesic/clearance/storage"
)

// Indexer is the part of indexing.Indexer the reembedder depends on.
type Indexer interface {
	ClaimAndIndex(ctx context.Context, id core.ID, policy storage.ClaimPolicy) (indexing.Result, error)
}

// Outcome is what happened to one document.
type Outcome int

const (
	OutcomeEmbedded Outcome = iota + 1
	OutcomeFailed
	OutcomeSkipped // claimed by a running job
)

// BatchProcessor re-indexes batches of documents with a forced claim.
type BatchProcessor struct {
	indexer Indexer
	policy  storage.ClaimPolicy
	logger  *slog.Logger
}

// NewBatchProcessor creates a batch processor. In-progress claims older
// than staleAfter are taken over; younger ones are skipped.
func NewBatchProcessor(indexer Indexer, staleAfter time.Duration, logger *slog.Logger) *BatchProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchProcessor{
		indexer: indexer,
		policy:  storage.ClaimPolicy{Force: true, StaleAfter: staleAfter},
		logger:  logger,
	}
}

// Process indexes each document in turn and calls report with its outcome.
// A failed document does not stop the batch; a cancelled context does.
func (bp *BatchProcessor) Process(ctx context.Context, docs []*core.Document, report func(core.ID, Outcome)) error {
	for _, doc := range docs {
		_, err := bp.indexer.ClaimAndIndex(ctx, doc.Id, bp.policy)
		switch {
		case err == nil:
			report(doc.Id, OutcomeEmbedded)
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, indexing.ErrNotClaimed):
			bp.logger.Info("document busy, skipping", "documentID", doc.Id)
			report(doc.Id, OutcomeSkipped)
		case errors.Is(err, indexing.ErrDocumentGone):
			report(doc.Id, OutcomeSkipped)
		default:
			bp.logger.Warn("error re-embedding document", "documentID", doc.Id, "err", err)
			report(doc.Id, OutcomeFailed)
		}
	}
	return nil
}
