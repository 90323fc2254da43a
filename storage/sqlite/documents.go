package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/clearance/access"
	"github.com/poiesic/clearance/core"
	"github.com/poiesic/clearance/storage"
)

const documentColumns = `id, title, keywords, summary, body, visibility, owning_unit, publication,
	uploader_id, embedding_state, passage_count, embedding_attempts, last_embedding_error,
	embedding_started_at, embedding_ended_at, inserted_at, updated_at`

const documentUpdate = `UPDATE documents SET title = ?, keywords = ?, summary = ?, body = ?,
	visibility = ?, owning_unit = ?, publication = ?, uploader_id = ?,
	embedding_state = ?, passage_count = ?, embedding_attempts = ?, last_embedding_error = ?,
	embedding_started_at = ?, embedding_ended_at = ?, inserted_at = ?, updated_at = ?
	WHERE id = ?`

// documentRepository implements storage.DocumentRepository.
type documentRepository struct {
	store *Store
}

var _ storage.DocumentRepository = (*documentRepository)(nil)

// Close is a no-op; the Store owns the connection.
func (r *documentRepository) Close() error {
	return nil
}

// AddDocuments stores new documents.
func (r *documentRepository) AddDocuments(ctx context.Context, docs ...*core.Document) ([]*core.Document, error) {
	err := r.store.write(ctx, func(tx *sql.Tx) error {
		for _, doc := range docs {
			now := time.Now().UTC()
			if doc.InsertedAt.IsZero() {
				doc.InsertedAt = now
			}
			doc.UpdatedAt = now
			if doc.EmbeddingState == 0 {
				doc.EmbeddingState = core.EmbeddingNotEmbedded
			}

			args, err := documentArgs(doc)
			if err != nil {
				return err
			}
			var id any
			if doc.Id != 0 {
				id = toDBID(doc.Id)
			}

			res, err := tx.ExecContext(ctx, `
				INSERT INTO documents (`+documentColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO NOTHING
			`, append([]any{id}, args...)...)
			if err != nil {
				return fmt.Errorf("inserting document: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				return storage.ErrDuplicateKey
			}
			if doc.Id == 0 {
				lastID, err := res.LastInsertId()
				if err != nil {
					return err
				}
				doc.Id = fromDBID[core.ID](lastID)
			}
		}
		return nil
	})
	return docs, err
}

// UpdateDocument replaces an existing document's content and metadata.
func (r *documentRepository) UpdateDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	err := r.store.write(ctx, func(tx *sql.Tx) error {
		old, err := getDocument(ctx, tx, doc.Id)
		if err != nil {
			return err
		}
		doc.InsertedAt = old.InsertedAt
		doc.UpdatedAt = time.Now().UTC()
		return saveDocument(ctx, tx, doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// GetDocument retrieves a single document by ID.
func (r *documentRepository) GetDocument(ctx context.Context, id core.ID) (*core.Document, error) {
	if err := r.store.checkOpen(); err != nil {
		return nil, err
	}
	return getDocument(ctx, r.store.db, id)
}

// GetDocuments retrieves multiple documents by their IDs.
func (r *documentRepository) GetDocuments(ctx context.Context, ids ...core.ID) ([]*core.Document, error) {
	if err := r.store.checkOpen(); err != nil {
		return nil, err
	}
	var result []*core.Document
	for _, id := range ids {
		doc, err := getDocument(ctx, r.store.db, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, doc)
	}
	return result, nil
}

// ListDocuments returns every document visible under pred, ordered by ID.
// The predicate is compiled into the WHERE clause.
func (r *documentRepository) ListDocuments(ctx context.Context, pred access.Predicate) ([]*core.Document, error) {
	if err := r.store.checkOpen(); err != nil {
		return nil, err
	}
	where, args := compilePredicate(pred)
	rows, err := r.store.db.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE "+where+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []*core.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// UpdateAccess replaces a document's access attributes.
func (r *documentRepository) UpdateAccess(ctx context.Context, id core.ID, attrs core.AccessAttributes) (*core.Document, error) {
	var updated *core.Document
	err := r.mutate(ctx, id, func(doc *core.Document) bool {
		doc.Access = attrs
		doc.UpdatedAt = time.Now().UTC()
		updated = doc
		return true
	})
	return updated, err
}

// ClaimEmbedding atomically moves a document into the embedding state.
func (r *documentRepository) ClaimEmbedding(ctx context.Context, id core.ID, policy storage.ClaimPolicy) (*core.Document, bool, error) {
	var (
		current *core.Document
		claimed bool
	)
	err := r.mutate(ctx, id, func(doc *core.Document) bool {
		current = doc
		claimed = policy.Allows(doc)
		if claimed {
			policy.ApplyClaim(doc)
		}
		return claimed
	})
	if err != nil {
		return nil, false, err
	}
	return current, claimed, nil
}

// CompleteEmbedding ends an embedding attempt.
func (r *documentRepository) CompleteEmbedding(ctx context.Context, id core.ID, passageCount int, cause error) error {
	return r.mutate(ctx, id, func(doc *core.Document) bool {
		storage.ApplyCompletion(doc, passageCount, cause)
		return true
	})
}

// ResetEmbedding marks a document not-embedded.
func (r *documentRepository) ResetEmbedding(ctx context.Context, id core.ID) error {
	return r.mutate(ctx, id, func(doc *core.Document) bool {
		doc.EmbeddingState = core.EmbeddingNotEmbedded
		doc.PassageCount = 0
		doc.UpdatedAt = time.Now().UTC()
		return true
	})
}

// DeleteDocument removes a document. Its embedding records go with it
// through the foreign key cascade.
func (r *documentRepository) DeleteDocument(ctx context.Context, id core.ID) error {
	return r.store.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", toDBID(id))
		if err != nil {
			return fmt.Errorf("deleting document: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

func (r *documentRepository) mutate(ctx context.Context, id core.ID, fn func(doc *core.Document) bool) error {
	return r.store.write(ctx, func(tx *sql.Tx) error {
		doc, err := getDocument(ctx, tx, id)
		if err != nil {
			return err
		}
		if !fn(doc) {
			return nil
		}
		return saveDocument(ctx, tx, doc)
	})
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func getDocument(ctx context.Context, q queryer, id core.ID) (*core.Document, error) {
	row := q.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ?", toDBID(id))
	doc, err := scanDocument(row)
	if err != nil {
		return nil, notFound(err)
	}
	return doc, nil
}

func saveDocument(ctx context.Context, tx *sql.Tx, doc *core.Document) error {
	args, err := documentArgs(doc)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, documentUpdate, append(args, toDBID(doc.Id))...); err != nil {
		return fmt.Errorf("updating document: %w", err)
	}
	return nil
}

// documentArgs returns every column value except id, in documentColumns order.
func documentArgs(doc *core.Document) ([]any, error) {
	keywords := doc.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	keywordsJSON, err := json.Marshal(keywords)
	if err != nil {
		return nil, fmt.Errorf("marshalling keywords: %w", err)
	}
	return []any{
		doc.Title, string(keywordsJSON), doc.Summary, doc.Text,
		doc.Access.Visibility.String(), doc.Access.OwningUnit,
		doc.Access.Publication.String(), doc.Access.UploaderID,
		doc.EmbeddingState.String(), doc.PassageCount, doc.EmbeddingAttempts, doc.LastEmbeddingError,
		toMicros(doc.EmbeddingStartedAt), toMicros(doc.EmbeddingEndedAt),
		toMicros(doc.InsertedAt), toMicros(doc.UpdatedAt),
	}, nil
}

func scanDocument(s scanner) (*core.Document, error) {
	var doc core.Document
	var id, startedAt, endedAt, inserted, updated int64
	var keywordsJSON, visibility, publication, embeddingState string
	if err := s.Scan(&id, &doc.Title, &keywordsJSON, &doc.Summary, &doc.Text,
		&visibility, &doc.Access.OwningUnit, &publication, &doc.Access.UploaderID,
		&embeddingState, &doc.PassageCount, &doc.EmbeddingAttempts, &doc.LastEmbeddingError,
		&startedAt, &endedAt, &inserted, &updated); err != nil {
		return nil, err
	}

	var err error
	doc.Id = fromDBID[core.ID](id)
	if err := json.Unmarshal([]byte(keywordsJSON), &doc.Keywords); err != nil {
		return nil, fmt.Errorf("unmarshalling keywords: %w", err)
	}
	if len(doc.Keywords) == 0 {
		doc.Keywords = nil
	}
	if doc.Access.Visibility, err = core.ParseVisibility(visibility); err != nil {
		return nil, err
	}
	if doc.Access.Publication, err = core.ParsePublicationState(publication); err != nil {
		return nil, err
	}
	if doc.EmbeddingState, err = core.ParseEmbeddingState(embeddingState); err != nil {
		return nil, err
	}
	doc.EmbeddingStartedAt = fromMicros(startedAt)
	doc.EmbeddingEndedAt = fromMicros(endedAt)
	doc.InsertedAt = fromMicros(inserted)
	doc.UpdatedAt = fromMicros(updated)
	return &doc, nil
}
