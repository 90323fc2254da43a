package badger

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/clearance/access"
	"github.com/poiesic/clearance/core"
	"github.com/poiesic/clearance/storage"
)

// DocumentRepository implements storage.DocumentRepository for BadgerDB.
type DocumentRepository struct {
	backend *Backend
	idSeq   *badger.Sequence
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(backend *Backend) (*DocumentRepository, error) {
	idSeq, err := backend.GetSequence(documentIDSeq)
	if err != nil {
		return nil, err
	}

	return &DocumentRepository{
		backend: backend,
		idSeq:   idSeq,
	}, nil
}

// Close releases the ID sequence.
func (r *DocumentRepository) Close() error {
	return r.idSeq.Release()
}

// AddDocuments stores new documents.
func (r *DocumentRepository) AddDocuments(ctx context.Context, docs ...*core.Document) ([]*core.Document, error) {
	err := r.backend.Update(func(tx *badger.Txn) error {
		for _, doc := range docs {
			if doc.Id == 0 {
				nextID, err := r.nextID()
				if err != nil {
					return err
				}
				doc.Id = nextID
			} else {
				existing, err := readDocument(tx, doc.Id)
				if err != nil {
					return err
				}
				if existing != nil {
					return storage.ErrDuplicateKey
				}
			}

			now := time.Now().UTC()
			if doc.InsertedAt.IsZero() {
				doc.InsertedAt = now
			}
			doc.UpdatedAt = now
			if doc.EmbeddingState == 0 {
				doc.EmbeddingState = core.EmbeddingNotEmbedded
			}

			if err := tx.Set(makeDocumentKey(doc.Id), storage.MarshalDocument(doc)); err != nil {
				return err
			}
		}
		return nil
	})

	return docs, err
}

func (r *DocumentRepository) nextID() (core.ID, error) {
	nextID, err := r.idSeq.Next()
	if err != nil {
		return 0, err
	}
	// BadgerDB sequences can return 0 on first call, so we skip it
	if nextID == 0 {
		nextID, err = r.idSeq.Next()
		if err != nil {
			return 0, err
		}
	}
	return core.ID(nextID), nil
}

// UpdateDocument replaces an existing document's content and metadata.
func (r *DocumentRepository) UpdateDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	err := r.backend.Update(func(tx *badger.Txn) error {
		old, err := readDocument(tx, doc.Id)
		if err != nil {
			return err
		}
		if old == nil {
			return storage.ErrNotFound
		}
		doc.InsertedAt = old.InsertedAt
		doc.UpdatedAt = time.Now().UTC()
		return tx.Set(makeDocumentKey(doc.Id), storage.MarshalDocument(doc))
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// GetDocument retrieves a single document by ID.
func (r *DocumentRepository) GetDocument(ctx context.Context, id core.ID) (*core.Document, error) {
	var result *core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readDocument(tx, id)
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// GetDocuments retrieves multiple documents by their IDs.
func (r *DocumentRepository) GetDocuments(ctx context.Context, ids ...core.ID) ([]*core.Document, error) {
	var result []*core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range ids {
			doc, err := readDocument(tx, id)
			if err != nil {
				return err
			}
			if doc != nil {
				result = append(result, doc)
			}
		}
		return nil
	}, false)
	return result, err
}

// ListDocuments returns every document visible under pred, ordered by ID.
func (r *DocumentRepository) ListDocuments(ctx context.Context, pred access.Predicate) ([]*core.Document, error) {
	var results []*core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(documentPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var doc *core.Document
			err := iter.Item().Value(func(val []byte) error {
				var err error
				doc, err = storage.UnmarshalDocument(val)
				return err
			})
			if err != nil {
				return err
			}
			if pred.Matches(doc.Access) {
				results = append(results, doc)
			}
		}
		return nil
	}, false)
	return results, err
}

// UpdateAccess replaces a document's access attributes.
func (r *DocumentRepository) UpdateAccess(ctx context.Context, id core.ID, attrs core.AccessAttributes) (*core.Document, error) {
	var updated *core.Document
	err := r.mutate(id, func(doc *core.Document) (bool, error) {
		doc.Access = attrs
		doc.UpdatedAt = time.Now().UTC()
		updated = doc
		return true, nil
	})
	return updated, err
}

// ClaimEmbedding atomically moves a document into the embedding state.
func (r *DocumentRepository) ClaimEmbedding(ctx context.Context, id core.ID, policy storage.ClaimPolicy) (*core.Document, bool, error) {
	var (
		current *core.Document
		claimed bool
	)
	err := r.mutate(id, func(doc *core.Document) (bool, error) {
		current = doc
		claimed = policy.Allows(doc)
		if claimed {
			policy.ApplyClaim(doc)
		}
		return claimed, nil
	})
	if err != nil {
		// A concurrent claim won the race for this document.
		if errors.Is(err, storage.ErrConflict) {
			return current, false, nil
		}
		return nil, false, err
	}
	return current, claimed, nil
}

// CompleteEmbedding ends an embedding attempt.
func (r *DocumentRepository) CompleteEmbedding(ctx context.Context, id core.ID, passageCount int, cause error) error {
	return r.mutate(id, func(doc *core.Document) (bool, error) {
		storage.ApplyCompletion(doc, passageCount, cause)
		return true, nil
	})
}

// ResetEmbedding marks a document not-embedded.
func (r *DocumentRepository) ResetEmbedding(ctx context.Context, id core.ID) error {
	return r.mutate(id, func(doc *core.Document) (bool, error) {
		doc.EmbeddingState = core.EmbeddingNotEmbedded
		doc.PassageCount = 0
		doc.UpdatedAt = time.Now().UTC()
		return true, nil
	})
}

// DeleteDocument removes a document together with its embedding records.
// The document and its record generation pointer go in one transaction, so
// no record outlives the document even if a writer raced the deletion.
func (r *DocumentRepository) DeleteDocument(ctx context.Context, id core.ID) error {
	err := r.backend.Update(func(tx *badger.Txn) error {
		doc, err := readDocument(tx, id)
		if err != nil {
			return err
		}
		if doc == nil {
			return storage.ErrNotFound
		}
		if err := tx.Delete(makeGenerationKey(id)); err != nil {
			return err
		}
		return tx.Delete(makeDocumentKey(id))
	})
	if err != nil {
		return err
	}
	if n, err := r.backend.dropRecords(makePartialRecordKey(id)); err != nil {
		r.backend.logger.Warn("error dropping records of deleted document", "documentID", id, "err", err)
	} else if n > 0 {
		r.backend.logger.Debug("dropped records of deleted document", "documentID", id, "records", n)
	}
	return nil
}

// mutate reads a document, applies fn and writes it back when fn reports a change.
func (r *DocumentRepository) mutate(id core.ID, fn func(doc *core.Document) (bool, error)) error {
	return r.backend.Update(func(tx *badger.Txn) error {
		doc, err := readDocument(tx, id)
		if err != nil {
			return err
		}
		if doc == nil {
			return storage.ErrNotFound
		}
		changed, err := fn(doc)
		if err != nil || !changed {
			return err
		}
		return tx.Set(makeDocumentKey(id), storage.MarshalDocument(doc))
	})
}

// readDocument reads a document within a transaction. Returns nil, nil if missing.
func readDocument(tx *badger.Txn, id core.ID) (*core.Document, error) {
	item, err := tx.Get(makeDocumentKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc *core.Document
	err = item.Value(func(val []byte) error {
		var err error
		doc, err = storage.UnmarshalDocument(val)
		return err
	})
	return doc, err
}
