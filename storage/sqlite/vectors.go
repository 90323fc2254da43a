package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/poiesic/clearance/access"
	"github.com/poiesic/clearance/core"
	"github.com/poiesic/clearance/storage"
)

const recordColumns = `document_id, ordinal, passage_id, text, vector,
	visibility, owning_unit, publication, uploader_id, synced_at`

// vectorStore implements storage.VectorStore. Similarity is computed in Go
// over the rows the compiled predicate lets through.
type vectorStore struct {
	store *Store
}

var _ storage.VectorStore = (*vectorStore)(nil)

// Close is a no-op; the Store owns the connection.
func (v *vectorStore) Close() error {
	return nil
}

// Upsert replaces every record of a document in one transaction. The
// document must exist.
func (v *vectorStore) Upsert(ctx context.Context, documentID core.ID, passages []*core.Passage, vectors [][]float32, attrs core.AccessAttributes) error {
	records, err := storage.BuildRecords(documentID, passages, vectors, attrs)
	if err != nil {
		return err
	}

	return v.store.write(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM documents WHERE id = ?", toDBID(documentID)).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: document %d", storage.ErrNotFound, documentID)
		}
		if err != nil {
			return fmt.Errorf("checking document: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM embedding_records WHERE document_id = ?", toDBID(documentID)); err != nil {
			return fmt.Errorf("clearing records: %w", err)
		}
		if len(records) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, "INSERT INTO embedding_records ("+recordColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close()

		for _, rec := range records {
			_, err := stmt.ExecContext(ctx,
				toDBID(rec.DocumentId), rec.Ordinal, toDBID(rec.PassageId), rec.Text,
				float32SliceToBytes(rec.Vector),
				rec.Access.Visibility.String(), rec.Access.OwningUnit,
				rec.Access.Publication.String(), rec.Access.UploaderID,
				toMicros(rec.SyncedAt))
			if err != nil {
				return fmt.Errorf("inserting record %d: %w", rec.Ordinal, err)
			}
		}
		return nil
	})
}

// Search scores every record satisfying pred and returns the best limit.
func (v *vectorStore) Search(ctx context.Context, vector []float32, pred access.Predicate, limit int) ([]*core.VectorMatch, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", storage.ErrInvalidQuery)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", storage.ErrInvalidQuery)
	}
	if err := v.store.checkOpen(); err != nil {
		return nil, err
	}

	where, args := compilePredicate(pred)
	rows, err := v.store.db.QueryContext(ctx, "SELECT "+recordColumns+" FROM embedding_records WHERE "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var (
		matches    []*core.VectorMatch
		mismatched int
	)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if len(rec.Vector) != len(vector) {
			mismatched++
			continue
		}
		matches = append(matches, &core.VectorMatch{
			Record: rec,
			Score:  storage.CosineSimilarity(vector, rec.Vector),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if mismatched > 0 {
		v.store.logger.Warn("skipped records with mismatched dimensions",
			"count", mismatched, "query_dimensions", len(vector))
	}
	return storage.TopMatches(matches, limit), nil
}

// SyncAccessAttributes rewrites the access columns of a document's records.
func (v *vectorStore) SyncAccessAttributes(ctx context.Context, documentID core.ID, attrs core.AccessAttributes) (int, error) {
	var n int64
	err := v.store.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE embedding_records
			SET visibility = ?, owning_unit = ?, publication = ?, uploader_id = ?, synced_at = ?
			WHERE document_id = ?
		`, attrs.Visibility.String(), attrs.OwningUnit, attrs.Publication.String(), attrs.UploaderID,
			toMicros(timeNow()), toDBID(documentID))
		if err != nil {
			return fmt.Errorf("syncing access attributes: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

// DeleteRecords removes every record of a document.
func (v *vectorStore) DeleteRecords(ctx context.Context, documentID core.ID) (int, error) {
	var n int64
	err := v.store.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM embedding_records WHERE document_id = ?", toDBID(documentID))
		if err != nil {
			return fmt.Errorf("deleting records: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

// GetRecords returns a document's records ordered by ordinal.
func (v *vectorStore) GetRecords(ctx context.Context, documentID core.ID) ([]*core.EmbeddingRecord, error) {
	if err := v.store.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := v.store.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM embedding_records WHERE document_id = ? ORDER BY ordinal",
		toDBID(documentID))
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var records []*core.EmbeddingRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(s scanner) (*core.EmbeddingRecord, error) {
	var rec core.EmbeddingRecord
	var docID, passageID, syncedAt int64
	var vector []byte
	var visibility, publication string
	if err := s.Scan(&docID, &rec.Ordinal, &passageID, &rec.Text, &vector,
		&visibility, &rec.Access.OwningUnit, &publication, &rec.Access.UploaderID, &syncedAt); err != nil {
		return nil, err
	}

	var err error
	if rec.Access.Visibility, err = core.ParseVisibility(visibility); err != nil {
		return nil, err
	}
	if rec.Access.Publication, err = core.ParsePublicationState(publication); err != nil {
		return nil, err
	}
	rec.DocumentId = fromDBID[core.ID](docID)
	rec.PassageId = fromDBID[core.ID](passageID)
	rec.Vector = bytesToFloat32Slice(vector)
	rec.SyncedAt = fromMicros(syncedAt)
	return &rec, nil
}
