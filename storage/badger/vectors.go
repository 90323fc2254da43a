package badger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/clearance/access"
	"github.com/poiesic/clearance/core"
	"github.com/poiesic/clearance/storage"
)

// VectorStore implements storage.VectorStore for BadgerDB.
//
// Records are keyed by document ID, generation and passage ordinal. Only the
// generation a document's pointer names is visible; writers fill a new
// generation with write batches and then move the pointer.
type VectorStore struct {
	backend *Backend
	genSeq  *badger.Sequence
	locks   *documentLocks
	logger  *slog.Logger
}

var _ storage.VectorStore = (*VectorStore)(nil)

// NewVectorStore creates a new VectorStore.
func NewVectorStore(backend *Backend) (*VectorStore, error) {
	genSeq, err := backend.GetSequence(generationSeq)
	if err != nil {
		return nil, err
	}
	return &VectorStore{
		backend: backend,
		genSeq:  genSeq,
		locks:   newDocumentLocks(),
		logger:  backend.logger.With("component", "badger-vector-store"),
	}, nil
}

// Close releases the generation sequence.
func (s *VectorStore) Close() error {
	return s.genSeq.Release()
}

// Upsert replaces every record of a document. Readers see either the old
// set or the new one. The document must exist.
func (s *VectorStore) Upsert(ctx context.Context, documentID core.ID, passages []*core.Passage, vectors [][]float32, attrs core.AccessAttributes) error {
	records, err := storage.BuildRecords(documentID, passages, vectors, attrs)
	if err != nil {
		return err
	}

	unlock := s.locks.lock(documentID)
	defer unlock()

	return s.replace(ctx, documentID, records)
}

// replace writes records as a new generation and publishes it. The caller
// holds the document lock.
func (s *VectorStore) replace(ctx context.Context, documentID core.ID, records []*core.EmbeddingRecord) error {
	generation, err := s.nextGeneration()
	if err != nil {
		return err
	}

	err = s.backend.Batch(func(wb *badger.WriteBatch) error {
		for _, rec := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := wb.Set(makeRecordKey(documentID, generation, rec.Ordinal), storage.MarshalEmbeddingRecord(rec)); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		var previous uint64
		previous, err = s.publish(documentID, generation)
		if err == nil {
			if previous != 0 {
				s.discard(documentID, previous)
			}
			return nil
		}
	}
	s.discard(documentID, generation)
	return err
}

// publish points the document at generation and returns the generation it
// replaced. It fails with storage.ErrNotFound once the document is deleted,
// so a late writer never resurrects records.
func (s *VectorStore) publish(documentID core.ID, generation uint64) (uint64, error) {
	var previous uint64
	err := s.backend.Update(func(tx *badger.Txn) error {
		doc, err := readDocument(tx, documentID)
		if err != nil {
			return err
		}
		if doc == nil {
			return fmt.Errorf("%w: document %d", storage.ErrNotFound, documentID)
		}
		previous, err = readGeneration(tx, documentID)
		if err != nil {
			return err
		}
		return tx.Set(makeGenerationKey(documentID), encodeGeneration(generation))
	})
	return previous, err
}

// discard drops an unreachable generation. Failures leave invisible garbage
// and are only logged.
func (s *VectorStore) discard(documentID core.ID, generation uint64) {
	if _, err := s.backend.dropRecords(makeGenerationRecordKey(documentID, generation)); err != nil {
		s.logger.Warn("error dropping record generation", "documentID", documentID, "generation", generation, "err", err)
	}
}

func (s *VectorStore) nextGeneration() (uint64, error) {
	generation, err := s.genSeq.Next()
	if err != nil {
		return 0, err
	}
	// 0 means "no records"
	return generation + 1, nil
}

// Search scores every record that satisfies pred and returns the best limit.
// The predicate is checked against the record's own access attributes before
// the vector is decoded, inside the same read transaction.
func (s *VectorStore) Search(ctx context.Context, vector []float32, pred access.Predicate, limit int) ([]*core.VectorMatch, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", storage.ErrInvalidQuery)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", storage.ErrInvalidQuery)
	}

	var (
		matches    []*core.VectorMatch
		mismatched int
	)
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		live, err := readGenerations(tx)
		if err != nil {
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			documentID, generation, ok := parseRecordKey(iter.Item().Key())
			if !ok || live[documentID] != generation {
				continue
			}
			err := iter.Item().Value(func(val []byte) error {
				_, _, attrs, err := storage.UnmarshalRecordAccess(val)
				if err != nil {
					return err
				}
				if !pred.Matches(attrs) {
					return nil
				}
				rec, err := storage.UnmarshalEmbeddingRecord(val)
				if err != nil {
					return err
				}
				if len(rec.Vector) != len(vector) {
					mismatched++
					return nil
				}
				matches = append(matches, &core.VectorMatch{
					Record: rec,
					Score:  storage.CosineSimilarity(vector, rec.Vector),
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	if mismatched > 0 {
		s.logger.Warn("skipped records with foreign dimension", "count", mismatched, "dimension", len(vector))
	}

	return storage.TopMatches(matches, limit), nil
}

// SyncAccessAttributes rewrites access attributes on a document's records.
// The rewritten set is published as a new generation, so no reader sees a
// mix of old and new attributes.
func (s *VectorStore) SyncAccessAttributes(ctx context.Context, documentID core.ID, attrs core.AccessAttributes) (int, error) {
	unlock := s.locks.lock(documentID)
	defer unlock()

	records, err := s.GetRecords(ctx, documentID)
	if err != nil || len(records) == 0 {
		return 0, err
	}
	now := time.Now().UTC()
	for _, rec := range records {
		rec.Access = attrs
		rec.SyncedAt = now
	}
	if err := s.replace(ctx, documentID, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// DeleteRecords removes every record of a document.
func (s *VectorStore) DeleteRecords(ctx context.Context, documentID core.ID) (int, error) {
	unlock := s.locks.lock(documentID)
	defer unlock()

	var deleted int
	err := s.backend.Update(func(tx *badger.Txn) error {
		generation, err := readGeneration(tx, documentID)
		if err != nil || generation == 0 {
			deleted = 0
			return err
		}
		deleted = countKeys(tx, makeGenerationRecordKey(documentID, generation))
		return tx.Delete(makeGenerationKey(documentID))
	})
	if err != nil {
		return 0, err
	}
	if _, err := s.backend.dropRecords(makePartialRecordKey(documentID)); err != nil {
		s.logger.Warn("error dropping records", "documentID", documentID, "err", err)
	}
	return deleted, nil
}

// GetRecords returns a document's records ordered by ordinal.
func (s *VectorStore) GetRecords(ctx context.Context, documentID core.ID) ([]*core.EmbeddingRecord, error) {
	var records []*core.EmbeddingRecord
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		records, err = readRecords(tx, documentID)
		return err
	}, false)
	return records, err
}

func readRecords(tx *badger.Txn, documentID core.ID) ([]*core.EmbeddingRecord, error) {
	generation, err := readGeneration(tx, documentID)
	if err != nil || generation == 0 {
		return nil, err
	}

	opts := badger.DefaultIteratorOptions
	opts.Prefix = makeGenerationRecordKey(documentID, generation)
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var records []*core.EmbeddingRecord
	for iter.Rewind(); iter.Valid(); iter.Next() {
		err := iter.Item().Value(func(val []byte) error {
			rec, err := storage.UnmarshalEmbeddingRecord(val)
			if err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return records, nil
}
