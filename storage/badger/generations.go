package badger

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/clearance/core"
)

// A document's records are written under a fresh generation and become
// visible only when the document's generation key is pointed at it. The
// pointer moves in a small transaction, so replacing or deleting any number
// of records is atomic to readers without one oversized transaction.

// readGeneration returns a document's live generation, or 0 if it has none.
func readGeneration(tx *badger.Txn, documentID core.ID) (uint64, error) {
	item, err := tx.Get(makeGenerationKey(documentID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var generation uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt generation for document %d", documentID)
		}
		generation = binary.BigEndian.Uint64(val)
		return nil
	})
	return generation, err
}

// readGenerations maps every document with records to its live generation.
func readGenerations(tx *badger.Txn) (map[core.ID]uint64, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(generationPrefix)
	iter := tx.NewIterator(opts)
	defer iter.Close()

	live := make(map[core.ID]uint64)
	for iter.Rewind(); iter.Valid(); iter.Next() {
		id, ok := parseGenerationKey(iter.Item().Key())
		if !ok {
			continue
		}
		err := iter.Item().Value(func(val []byte) error {
			if len(val) == 8 {
				live[id] = binary.BigEndian.Uint64(val)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return live, nil
}

// countKeys counts the keys under prefix.
func countKeys(tx *badger.Txn, prefix []byte) int {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var n int
	for iter.Rewind(); iter.Valid(); iter.Next() {
		n++
	}
	return n
}

// dropRecords deletes every key under prefix in write batches. Callers make
// the keys unreachable first, so a partial drop only leaves garbage behind.
func (b *Backend) dropRecords(prefix []byte) (int, error) {
	var keys [][]byte
	err := b.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			keys = append(keys, iter.Item().KeyCopy(nil))
		}
		return nil
	}, false)
	if err != nil || len(keys) == 0 {
		return 0, err
	}

	err = b.Batch(func(wb *badger.WriteBatch) error {
		for _, key := range keys {
			if err := wb.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	return len(keys), err
}
