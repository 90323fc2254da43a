package lifecycle

import (
	"context"
	"log/slog"

	"github.com/poiesic/clearance/storage"
)

// VectorStoreHandler keeps embedding records in step with their documents:
// access changes are copied onto every record and deletions remove them.
type VectorStoreHandler struct {
	vectors storage.VectorStore
	logger  *slog.Logger
}

var _ Handler = (*VectorStoreHandler)(nil)

// NewVectorStoreHandler creates a handler for vectors.
func NewVectorStoreHandler(vectors storage.VectorStore, logger *slog.Logger) (*VectorStoreHandler, error) {
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VectorStoreHandler{vectors: vectors, logger: logger.With("component", "vector-sync")}, nil
}

// Handle applies ev to the vector store.
func (h *VectorStoreHandler) Handle(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventAccessChanged:
		n, err := h.vectors.SyncAccessAttributes(ctx, ev.DocumentID, ev.Access)
		if err != nil {
			return err
		}
		h.logger.Debug("synced access attributes", "documentID", ev.DocumentID, "records", n)
	case EventDeleted:
		n, err := h.vectors.DeleteRecords(ctx, ev.DocumentID)
		if err != nil {
			return err
		}
		h.logger.Debug("deleted records", "documentID", ev.DocumentID, "records", n)
	}
	return nil
}
