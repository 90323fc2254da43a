package storage

import (
	"context"

	"github.com/poiesic/clearance/access"
	"github.com/poiesic/clearance/core"
)

// DocumentRepository provides operations for managing policy documents and
// their embedding state. Implementations must be thread-safe and support
// concurrent access.
type DocumentRepository interface {
	// AddDocuments stores new documents.
	// For documents with ID=0, generates new IDs from sequence.
	// Sets InsertedAt and UpdatedAt, and EmbeddingState to not-embedded when unset.
	// Returns ErrDuplicateKey if a document with the same non-zero ID exists.
	AddDocuments(ctx context.Context, docs ...*core.Document) ([]*core.Document, error)

	// UpdateDocument replaces an existing document's content and metadata.
	// Updates the UpdatedAt timestamp automatically.
	// Returns ErrNotFound if the document doesn't exist.
	UpdateDocument(ctx context.Context, doc *core.Document) (*core.Document, error)

	// GetDocument retrieves a single document by ID.
	// Returns ErrNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, id core.ID) (*core.Document, error)

	// GetDocuments retrieves multiple documents by their IDs.
	// Returns only the documents that exist (no error for missing documents).
	GetDocuments(ctx context.Context, ids ...core.ID) ([]*core.Document, error)

	// ListDocuments returns every document whose access attributes satisfy
	// pred, ordered by ID ascending.
	ListDocuments(ctx context.Context, pred access.Predicate) ([]*core.Document, error)

	// UpdateAccess replaces a document's access attributes.
	// Returns the updated document, or ErrNotFound.
	UpdateAccess(ctx context.Context, id core.ID, attrs core.AccessAttributes) (*core.Document, error)

	// ClaimEmbedding atomically moves a document into the embedding state if
	// policy allows it. Returns the claimed document and true on success,
	// or the current document and false when the claim was refused.
	ClaimEmbedding(ctx context.Context, id core.ID, policy ClaimPolicy) (*core.Document, bool, error)

	// CompleteEmbedding ends an embedding attempt. A nil cause marks the
	// document embedded with the given passage count; otherwise it is marked
	// failed and the cause recorded.
	CompleteEmbedding(ctx context.Context, id core.ID, passageCount int, cause error) error

	// ResetEmbedding marks a document not-embedded so the next query or
	// re-embedding run picks it up again.
	ResetEmbedding(ctx context.Context, id core.ID) error

	// DeleteDocument removes a document and any embedding records it still has.
	// Returns ErrNotFound if the document doesn't exist.
	DeleteDocument(ctx context.Context, id core.ID) error

	// Close releases repository resources.
	Close() error
}

// VectorStore persists embedding records and answers filtered similarity
// queries. Implementations must be thread-safe; writes for the same document
// are serialized.
type VectorStore interface {
	// Upsert replaces every record of a document with one record per passage.
	// Readers see either the old set or the new set, whatever the document's
	// size. passages and vectors are parallel. Returns ErrNotFound if the
	// document does not exist.
	Upsert(ctx context.Context, documentID core.ID, passages []*core.Passage, vectors [][]float32, attrs core.AccessAttributes) error

	// Search returns up to limit records that satisfy pred, ordered by cosine
	// similarity descending. Ties break on lower passage ordinal, then lower
	// document ID. Records failing pred are never scored or returned.
	Search(ctx context.Context, vector []float32, pred access.Predicate, limit int) ([]*core.VectorMatch, error)

	// SyncAccessAttributes rewrites the access attributes on every record of
	// a document without touching vectors. Returns the number of records updated.
	SyncAccessAttributes(ctx context.Context, documentID core.ID, attrs core.AccessAttributes) (int, error)

	// DeleteRecords removes every record of a document. Returns the number removed.
	DeleteRecords(ctx context.Context, documentID core.ID) (int, error)

	// GetRecords returns a document's records ordered by passage ordinal.
	GetRecords(ctx context.Context, documentID core.ID) ([]*core.EmbeddingRecord, error)

	// Close releases store resources.
	Close() error
}
