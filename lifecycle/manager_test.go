package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/poiesic/clearance/access"
	"github.com/poiesic/clearance/ai/mock"
	"github.com/poiesic/clearance/core"
	"github.com/poiesic/clearance/embedding"
	"github.com/poiesic/clearance/indexing"
	"github.com/poiesic/clearance/storage"
	"github.com/poiesic/clearance/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	public = core.AccessAttributes{Visibility: core.VisibilityPublic, Publication: core.PublicationApproved}
	hrOnly = core.AccessAttributes{Visibility: core.VisibilityRestricted, OwningUnit: "hr", Publication: core.PublicationApproved}
)

type fixture struct {
	docs    storage.DocumentRepository
	vectors storage.VectorStore
	bus     *Bus
	manager *Manager
}

func setup(t *testing.T, busOpts ...BusOption) *fixture {
	t.Helper()
	docs, vectors, backend, err := badger.NewMemoryStores()
	require.NoError(t, err)

	bus, err := NewBus(busOpts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		bus.Release()
		vectors.Close()
		docs.Close()
		backend.Close()
	})

	handler, err := NewVectorStoreHandler(vectors, nil)
	require.NoError(t, err)
	bus.Subscribe(handler)

	manager, err := NewManager(docs, bus)
	require.NoError(t, err)
	return &fixture{docs: docs, vectors: vectors, bus: bus, manager: manager}
}

// embed writes records for doc as the indexing job would.
func (f *fixture) embed(t *testing.T, doc *core.Document, n int) {
	t.Helper()
	passages := make([]*core.Passage, n)
	vectors := make([][]float32, n)
	for i := range passages {
		passages[i] = &core.Passage{DocumentId: doc.Id, Ordinal: i, Text: "passage"}
		vectors[i] = []float32{float32(i + 1), 1}
	}
	require.NoError(t, f.vectors.Upsert(context.Background(), doc.Id, passages, vectors, doc.Access))
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Handle(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kinds []EventKind
	for _, ev := range r.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func TestNewManagerValidation(t *testing.T) {
	bus, err := NewBus()
	require.NoError(t, err)
	_, err = NewManager(nil, bus)
	assert.ErrorIs(t, err, ErrDocumentRepositoryRequired)

	f := setup(t)
	_, err = NewManager(f.docs, nil)
	assert.ErrorIs(t, err, ErrBusRequired)

	_, err = NewVectorStoreHandler(nil, nil)
	assert.ErrorIs(t, err, ErrVectorStoreRequired)
}

func TestRegister(t *testing.T) {
	f := setup(t)
	rec := &recorder{}
	f.bus.Subscribe(rec)

	added, err := f.manager.Register(context.Background(),
		&core.Document{Title: "one", Access: public},
		&core.Document{Title: "two", Access: hrOnly},
	)
	require.NoError(t, err)
	require.Len(t, added, 2)
	for _, doc := range added {
		assert.NotZero(t, doc.Id)
		assert.Equal(t, core.EmbeddingNotEmbedded, doc.EmbeddingState)
	}
	assert.Equal(t, []EventKind{EventRegistered, EventRegistered}, rec.kinds())
}

func TestRegisterRejectsInvalidAccess(t *testing.T) {
	f := setup(t)
	_, err := f.manager.Register(context.Background(), &core.Document{
		Access: core.AccessAttributes{Visibility: core.VisibilityConfidential, OwningUnit: "hr", Publication: core.PublicationApproved},
	})
	assert.ErrorIs(t, err, core.ErrUploaderRequired)
}

func TestChangeAccessSyncsRecords(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	added, err := f.manager.Register(ctx, &core.Document{Title: "Pay scales", Access: public})
	require.NoError(t, err)
	doc := added[0]
	f.embed(t, doc, 3)
	before, err := f.vectors.GetRecords(ctx, doc.Id)
	require.NoError(t, err)

	updated, err := f.manager.ChangeAccess(ctx, doc.Id, hrOnly)
	require.NoError(t, err)
	assert.Equal(t, hrOnly, updated.Access)

	after, err := f.vectors.GetRecords(ctx, doc.Id)
	require.NoError(t, err)
	require.Len(t, after, 3)
	for i, rec := range after {
		assert.Equal(t, hrOnly, rec.Access)
		assert.Equal(t, before[i].Vector, rec.Vector, "vectors untouched")
	}
}

func TestChangeAccessUnchangedIsNoop(t *testing.T) {
	f := setup(t)
	rec := &recorder{}
	ctx := context.Background()
	added, err := f.manager.Register(ctx, &core.Document{Access: public})
	require.NoError(t, err)
	f.bus.Subscribe(rec)

	_, err = f.manager.ChangeAccess(ctx, added[0].Id, public)
	require.NoError(t, err)
	assert.Empty(t, rec.kinds())
}

func TestChangeAccessReportsHandlerError(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	added, err := f.manager.Register(ctx, &core.Document{Access: public})
	require.NoError(t, err)

	boom := errors.New("sync failed")
	f.bus.Subscribe(HandlerFunc(func(context.Context, Event) error { return boom }))

	_, err = f.manager.ChangeAccess(ctx, added[0].Id, hrOnly)
	assert.ErrorIs(t, err, boom)
}

func TestDeleteRemovesRecordsThenDocument(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	added, err := f.manager.Register(ctx, &core.Document{Access: public})
	require.NoError(t, err)
	doc := added[0]
	f.embed(t, doc, 2)

	require.NoError(t, f.manager.Delete(ctx, doc.Id))

	records, err := f.vectors.GetRecords(ctx, doc.Id)
	require.NoError(t, err)
	assert.Empty(t, records)
	_, err = f.docs.GetDocument(ctx, doc.Id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteKeepsDocumentWhenRecordRemovalFails(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	added, err := f.manager.Register(ctx, &core.Document{Access: public})
	require.NoError(t, err)
	f.bus.Subscribe(HandlerFunc(func(_ context.Context, ev Event) error {
		if ev.Kind == EventDeleted {
			return errors.New("store down")
		}
		return nil
	}))

	assert.Error(t, f.manager.Delete(ctx, added[0].Id))
	_, err = f.docs.GetDocument(ctx, added[0].Id)
	assert.NoError(t, err)
}

func TestDeleteDuringInFlightIndexingLeavesNoRecords(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	added, err := f.manager.Register(ctx, &core.Document{Text: "Leave requests go to the line manager first.", Access: public})
	require.NoError(t, err)
	doc := added[0]

	fn, err := embedding.New(mock.NewMockEmbedderWithDimensions(8), 8)
	require.NoError(t, err)
	ix, err := indexing.New(f.docs, f.vectors, fn)
	require.NoError(t, err)

	// An indexing job finishes after the records were removed but before the
	// document itself is deleted.
	var indexErr error
	f.bus.Subscribe(HandlerFunc(func(ctx context.Context, ev Event) error {
		if ev.Kind == EventDeleted {
			_, indexErr = ix.ClaimAndIndex(ctx, ev.DocumentID, storage.ClaimPolicy{})
		}
		return nil
	}))

	require.NoError(t, f.manager.Delete(ctx, doc.Id))
	require.NoError(t, indexErr)

	_, err = f.docs.GetDocument(ctx, doc.Id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	records, err := f.vectors.GetRecords(ctx, doc.Id)
	require.NoError(t, err)
	assert.Empty(t, records)
	matches, err := f.vectors.Search(ctx, mock.HashedVector("leave", 8), access.Unrestricted(), 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRequestReembed(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	added, err := f.manager.Register(ctx, &core.Document{Access: public})
	require.NoError(t, err)
	id := added[0].Id

	_, claimed, err := f.docs.ClaimEmbedding(ctx, id, storage.ClaimPolicy{})
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, f.docs.CompleteEmbedding(ctx, id, 4, nil))

	require.NoError(t, f.manager.RequestReembed(ctx, id))
	doc, err := f.docs.GetDocument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.EmbeddingNotEmbedded, doc.EmbeddingState)
}

func TestAsyncPropagation(t *testing.T) {
	f := setup(t, WithAsyncPropagation(2))
	assert.True(t, f.bus.Async())
	ctx := context.Background()
	added, err := f.manager.Register(ctx, &core.Document{Access: public})
	require.NoError(t, err)
	doc := added[0]
	f.embed(t, doc, 2)

	_, err = f.manager.ChangeAccess(ctx, doc.Id, hrOnly)
	require.NoError(t, err)
	f.bus.Wait()

	records, err := f.vectors.GetRecords(ctx, doc.Id)
	require.NoError(t, err)
	for _, rec := range records {
		assert.Equal(t, hrOnly, rec.Access)
	}
}

func TestAsyncBusDeliversDeletionSynchronously(t *testing.T) {
	bus, err := NewBus(WithAsyncPropagation(1))
	require.NoError(t, err)
	defer bus.Release()

	rec := &recorder{}
	bus.Subscribe(rec)
	require.NoError(t, bus.Publish(context.Background(), Event{Kind: EventDeleted, DocumentID: 1}))
	assert.Equal(t, []EventKind{EventDeleted}, rec.kinds(), "delivered before Publish returned")
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "access_changed", EventAccessChanged.String())
	assert.Equal(t, "unknown", EventKind(0).String())
}
