package badger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/clearance/access"
	"github.com/poiesic/clearance/core"
	"github.com/poiesic/clearance/storage"
	"github.com/poiesic/clearance/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	tmpDir := t.TempDir()
	backend, err := OpenBackend(tmpDir, false)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestBackendClose(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)

	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())
	assert.NoError(t, backend.Close(), "closing twice is harmless")
}

func TestClosedBackendReportsStorageClosed(t *testing.T) {
	docs, vectors, backend, err := NewMemoryStores()
	require.NoError(t, err)
	docs.Close()
	require.NoError(t, backend.Close())

	_, err = vectors.Search(context.Background(), []float32{1}, access.Unrestricted(), 5)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) (storage.DocumentRepository, storage.VectorStore) {
		docs, vectors, backend, err := NewMemoryStores()
		require.NoError(t, err)
		t.Cleanup(func() {
			vectors.Close()
			docs.Close()
			backend.Close()
		})
		return docs, vectors
	})
}

func TestStoresPersistAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	docs, vectors, backend, err := NewStores(dir)
	require.NoError(t, err)
	_, err = docs.AddDocuments(ctx, &core.Document{Id: 3, Title: "Data protection", Access: storagetest.PublicApproved})
	require.NoError(t, err)
	require.NoError(t, vectors.Upsert(ctx, 3, storagetest.Passages(3, 2), storagetest.Vectors(2, 1, 0), storagetest.PublicApproved))
	vectors.Close()
	docs.Close()
	require.NoError(t, backend.Close())

	docs, vectors, backend, err = NewStores(dir)
	require.NoError(t, err)
	defer func() { vectors.Close(); docs.Close(); backend.Close() }()

	doc, err := docs.GetDocument(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "Data protection", doc.Title)

	records, err := vectors.GetRecords(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestSearchRespectsContextCancellation(t *testing.T) {
	docs, vectors, backend, err := NewMemoryStores()
	require.NoError(t, err)
	defer func() { vectors.Close(); docs.Close(); backend.Close() }()

	ctx := context.Background()
	_, err = docs.AddDocuments(ctx, &core.Document{Id: 1, Access: storagetest.PublicApproved})
	require.NoError(t, err)
	require.NoError(t, vectors.Upsert(ctx, 1, storagetest.Passages(1, 3), storagetest.Vectors(3, 1, 0), storagetest.PublicApproved))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = vectors.Search(cancelled, []float32{1, 0}, access.Unrestricted(), 5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDocumentLocks(t *testing.T) {
	locks := newDocumentLocks()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock(42)
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Empty(t, locks.locks, "unused locks are released")
}

func TestKeys(t *testing.T) {
	a := makeRecordKey(1, 1, 2)
	b := makeRecordKey(1, 1, 10)
	c := makeRecordKey(1, 2, 0)
	d := makeRecordKey(2, 1, 0)

	assert.Less(t, string(a), string(b))
	assert.Less(t, string(b), string(c))
	assert.Less(t, string(c), string(d))
	assert.Equal(t, makePartialRecordKey(1), a[:len(makePartialRecordKey(1))])
	assert.Equal(t, makeGenerationRecordKey(1, 2), c[:len(makeGenerationRecordKey(1, 2))])
	assert.Less(t, string(makeDocumentKey(9)), string(makeDocumentKey(256)))

	id, generation, ok := parseRecordKey(c)
	require.True(t, ok)
	assert.Equal(t, core.ID(1), id)
	assert.Equal(t, uint64(2), generation)
	_, _, ok = parseRecordKey(makePartialRecordKey(1))
	assert.False(t, ok)

	id, ok = parseGenerationKey(makeGenerationKey(7))
	require.True(t, ok)
	assert.Equal(t, core.ID(7), id)
}

// rawRecordKeys counts stored record keys of a document across generations.
func rawRecordKeys(t *testing.T, backend *Backend, id core.ID) int {
	t.Helper()
	var n int
	require.NoError(t, backend.WithTx(func(tx *badger.Txn) error {
		n = countKeys(tx, makePartialRecordKey(id))
		return nil
	}, false))
	return n
}

func TestUpsertDropsReplacedGeneration(t *testing.T) {
	docs, vectors, backend, err := NewMemoryStores()
	require.NoError(t, err)
	defer backend.Close()
	defer docs.Close()
	defer vectors.Close()
	ctx := context.Background()

	_, err = docs.AddDocuments(ctx, &core.Document{Id: 5, Access: storagetest.PublicApproved})
	require.NoError(t, err)
	require.NoError(t, vectors.Upsert(ctx, 5, storagetest.Passages(5, 4), storagetest.Vectors(4, 1, 0), storagetest.PublicApproved))
	require.NoError(t, vectors.Upsert(ctx, 5, storagetest.Passages(5, 2), storagetest.Vectors(2, 0, 1), storagetest.PublicApproved))
	assert.Equal(t, 2, rawRecordKeys(t, backend, 5))

	_, err = vectors.SyncAccessAttributes(ctx, 5, storagetest.Restricted("hr"))
	require.NoError(t, err)
	assert.Equal(t, 2, rawRecordKeys(t, backend, 5))
}

func TestDeleteDocumentLeavesNoRecordKeys(t *testing.T) {
	docs, vectors, backend, err := NewMemoryStores()
	require.NoError(t, err)
	defer backend.Close()
	defer docs.Close()
	defer vectors.Close()
	ctx := context.Background()

	_, err = docs.AddDocuments(ctx, &core.Document{Id: 6, Access: storagetest.PublicApproved})
	require.NoError(t, err)
	require.NoError(t, vectors.Upsert(ctx, 6, storagetest.Passages(6, 3), storagetest.Vectors(3, 1, 0), storagetest.PublicApproved))

	require.NoError(t, docs.DeleteDocument(ctx, 6))
	assert.Zero(t, rawRecordKeys(t, backend, 6))

	err = vectors.Upsert(ctx, 6, storagetest.Passages(6, 1), storagetest.Vectors(1, 1, 0), storagetest.PublicApproved)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Zero(t, rawRecordKeys(t, backend, 6), "a late writer cleans up its own generation")
}
