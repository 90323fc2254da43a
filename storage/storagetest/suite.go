// Package storagetest holds the behavioral tests every storage backend must pass.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/poiesic/clearance/access"
	"github.com/poiesic/clearance/core"
	"github.com/poiesic/clearance/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory opens a fresh, empty pair of stores. Cleanup is registered on t.
type Factory func(t *testing.T) (storage.DocumentRepository, storage.VectorStore)

// PublicApproved is the access attribute set everyone can see.
var PublicApproved = core.AccessAttributes{
	Visibility:  core.VisibilityPublic,
	Publication: core.PublicationApproved,
}

// Restricted returns restricted, approved attributes owned by unit.
func Restricted(unit string) core.AccessAttributes {
	return core.AccessAttributes{
		Visibility:  core.VisibilityRestricted,
		OwningUnit:  unit,
		Publication: core.PublicationApproved,
	}
}

// Passages builds n passages for a document.
func Passages(documentID core.ID, n int) []*core.Passage {
	out := make([]*core.Passage, n)
	for i := range out {
		out[i] = &core.Passage{
			Id:         core.PassageID(documentID, i),
			DocumentId: documentID,
			Ordinal:    i,
			Text:       fmt.Sprintf("document %d passage %d", documentID, i),
		}
	}
	return out
}

// Vectors returns n copies of v.
func Vectors(n int, v ...float32) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = append([]float32(nil), v...)
	}
	return out
}

// Run executes the conformance suite against a backend.
func Run(t *testing.T, open Factory) {
	t.Run("documents", func(t *testing.T) { testDocuments(t, open) })
	t.Run("list with predicate", func(t *testing.T) { testListDocuments(t, open) })
	t.Run("embedding claims", func(t *testing.T) { testClaims(t, open) })
	t.Run("concurrent claims", func(t *testing.T) { testConcurrentClaims(t, open) })
	t.Run("upsert replaces records", func(t *testing.T) { testUpsert(t, open) })
	t.Run("search applies predicate", func(t *testing.T) { testSearchPredicate(t, open) })
	t.Run("search ordering", func(t *testing.T) { testSearchOrdering(t, open) })
	t.Run("sync access attributes", func(t *testing.T) { testSync(t, open) })
	t.Run("delete records", func(t *testing.T) { testDeleteRecords(t, open) })
	t.Run("concurrent upserts", func(t *testing.T) { testConcurrentUpserts(t, open) })
	t.Run("large document", func(t *testing.T) { testLargeDocument(t, open) })
	t.Run("delete document removes records", func(t *testing.T) { testDeleteDocument(t, open) })
	t.Run("invalid input", func(t *testing.T) { testInvalidInput(t, open) })
}

func testDocuments(t *testing.T, open Factory) {
	docs, _ := open(t)
	ctx := context.Background()

	added, err := docs.AddDocuments(ctx,
		&core.Document{Title: "Leave policy", Access: PublicApproved},
		&core.Document{Id: 500, Title: "Travel policy", Keywords: []string{"travel"}, Access: PublicApproved},
	)
	require.NoError(t, err)
	require.Len(t, added, 2)
	assert.NotZero(t, added[0].Id)
	assert.Equal(t, core.ID(500), added[1].Id)
	assert.Equal(t, core.EmbeddingNotEmbedded, added[0].EmbeddingState)
	assert.False(t, added[0].InsertedAt.IsZero())

	got, err := docs.GetDocument(ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, "Travel policy", got.Title)
	assert.Equal(t, []string{"travel"}, got.Keywords)

	_, err = docs.AddDocuments(ctx, &core.Document{Id: 500, Access: PublicApproved})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	got.Summary = "Rules for business travel."
	_, err = docs.UpdateDocument(ctx, got)
	require.NoError(t, err)
	got, err = docs.GetDocument(ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, "Rules for business travel.", got.Summary)

	many, err := docs.GetDocuments(ctx, added[0].Id, 500, 12345)
	require.NoError(t, err)
	assert.Len(t, many, 2)

	_, err = docs.GetDocument(ctx, 12345)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, docs.DeleteDocument(ctx, 500))
	assert.ErrorIs(t, docs.DeleteDocument(ctx, 500), storage.ErrNotFound)
	_, err = docs.UpdateDocument(ctx, &core.Document{Id: 500, Access: PublicApproved})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testListDocuments(t *testing.T, open Factory) {
	docs, _ := open(t)
	ctx := context.Background()

	_, err := docs.AddDocuments(ctx,
		&core.Document{Id: 3, Title: "public", Access: PublicApproved},
		&core.Document{Id: 1, Title: "finance only", Access: Restricted("finance")},
		&core.Document{Id: 2, Title: "draft", Access: core.AccessAttributes{
			Visibility: core.VisibilityPublic, Publication: core.PublicationDraft,
		}},
	)
	require.NoError(t, err)

	anon, err := access.BuildPredicate(core.Anonymous())
	require.NoError(t, err)
	visible, err := docs.ListDocuments(ctx, anon)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, core.ID(3), visible[0].Id)

	member, err := access.BuildPredicate(core.Requester{Role: core.RoleUnitMember, UnitID: "finance"})
	require.NoError(t, err)
	visible, err = docs.ListDocuments(ctx, member)
	require.NoError(t, err)
	require.Len(t, visible, 2)
	assert.Equal(t, core.ID(1), visible[0].Id)
	assert.Equal(t, core.ID(3), visible[1].Id)

	all, err := docs.ListDocuments(ctx, access.Unrestricted())
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := docs.ListDocuments(ctx, access.Predicate{})
	require.NoError(t, err)
	assert.Empty(t, none)

	updated, err := docs.UpdateAccess(ctx, 1, PublicApproved)
	require.NoError(t, err)
	assert.Equal(t, PublicApproved, updated.Access)
	visible, err = docs.ListDocuments(ctx, anon)
	require.NoError(t, err)
	assert.Len(t, visible, 2)

	_, err = docs.UpdateAccess(ctx, 99, PublicApproved)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testClaims(t *testing.T, open Factory) {
	docs, _ := open(t)
	ctx := context.Background()

	_, err := docs.AddDocuments(ctx, &core.Document{Id: 7, Access: PublicApproved})
	require.NoError(t, err)

	doc, ok, err := docs.ClaimEmbedding(ctx, 7, storage.ClaimPolicy{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, core.EmbeddingInProgress, doc.EmbeddingState)
	assert.Equal(t, 1, doc.EmbeddingAttempts)

	_, ok, err = docs.ClaimEmbedding(ctx, 7, storage.ClaimPolicy{})
	require.NoError(t, err)
	assert.False(t, ok, "an in-progress document must not be claimed twice")

	require.NoError(t, docs.CompleteEmbedding(ctx, 7, 0, assert.AnError))
	doc, err = docs.GetDocument(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, core.EmbeddingFailed, doc.EmbeddingState)
	assert.Equal(t, assert.AnError.Error(), doc.LastEmbeddingError)

	_, ok, err = docs.ClaimEmbedding(ctx, 7, storage.ClaimPolicy{Force: true})
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, docs.CompleteEmbedding(ctx, 7, 4, nil))

	doc, err = docs.GetDocument(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, core.EmbeddingDone, doc.EmbeddingState)
	assert.Equal(t, 4, doc.PassageCount)
	assert.Equal(t, 2, doc.EmbeddingAttempts)

	require.NoError(t, docs.ResetEmbedding(ctx, 7))
	doc, err = docs.GetDocument(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, core.EmbeddingNotEmbedded, doc.EmbeddingState)

	_, _, err = docs.ClaimEmbedding(ctx, 99, storage.ClaimPolicy{})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testConcurrentClaims(t *testing.T, open Factory) {
	docs, _ := open(t)
	ctx := context.Background()

	_, err := docs.AddDocuments(ctx, &core.Document{Id: 11, Access: PublicApproved})
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := docs.ClaimEmbedding(ctx, 11, storage.ClaimPolicy{})
			if err == nil && ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func testUpsert(t *testing.T, open Factory) {
	docs, vectors := open(t)
	ctx := context.Background()
	_, err := docs.AddDocuments(ctx, &core.Document{Id: 1, Access: PublicApproved})
	require.NoError(t, err)

	require.NoError(t, vectors.Upsert(ctx, 1, Passages(1, 5), Vectors(5, 1, 0, 0), PublicApproved))
	records, err := vectors.GetRecords(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 5)

	require.NoError(t, vectors.Upsert(ctx, 1, Passages(1, 2), Vectors(2, 0, 1, 0), PublicApproved))
	records, err = vectors.GetRecords(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for i, rec := range records {
		assert.Equal(t, i, rec.Ordinal)
		assert.Equal(t, []float32{0, 1, 0}, rec.Vector)
		assert.Equal(t, core.PassageID(1, i), rec.PassageId)
	}

	require.NoError(t, vectors.Upsert(ctx, 1, nil, nil, PublicApproved))
	records, err = vectors.GetRecords(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func testSearchPredicate(t *testing.T, open Factory) {
	docs, vectors := open(t)
	ctx := context.Background()
	_, err := docs.AddDocuments(ctx,
		&core.Document{Id: 1, Access: PublicApproved},
		&core.Document{Id: 2, Access: Restricted("finance")},
	)
	require.NoError(t, err)

	require.NoError(t, vectors.Upsert(ctx, 1, Passages(1, 1), Vectors(1, 0.6, 0.8), PublicApproved))
	require.NoError(t, vectors.Upsert(ctx, 2, Passages(2, 1), Vectors(1, 1, 0), Restricted("finance")))

	anon, err := access.BuildPredicate(core.Anonymous())
	require.NoError(t, err)
	matches, err := vectors.Search(ctx, []float32{1, 0}, anon, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, core.ID(1), matches[0].Record.DocumentId)
	assert.InDelta(t, 0.6, matches[0].Score, 1e-5)

	member, err := access.BuildPredicate(core.Requester{Role: core.RoleUnitMember, UnitID: "finance"})
	require.NoError(t, err)
	matches, err = vectors.Search(ctx, []float32{1, 0}, member, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, core.ID(2), matches[0].Record.DocumentId)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-5)

	other, err := access.BuildPredicate(core.Requester{Role: core.RoleUnitMember, UnitID: "law"})
	require.NoError(t, err)
	matches, err = vectors.Search(ctx, []float32{1, 0}, other, 10)
	require.NoError(t, err)
	for _, m := range matches {
		assert.NotEqual(t, core.ID(2), m.Record.DocumentId)
	}

	matches, err = vectors.Search(ctx, []float32{1, 0}, access.Predicate{}, 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func testSearchOrdering(t *testing.T, open Factory) {
	docs, vectors := open(t)
	ctx := context.Background()
	_, err := docs.AddDocuments(ctx,
		&core.Document{Id: 9, Access: PublicApproved},
		&core.Document{Id: 4, Access: PublicApproved},
	)
	require.NoError(t, err)

	// Identical vectors everywhere: ordering falls back to ordinal, then document ID.
	require.NoError(t, vectors.Upsert(ctx, 9, Passages(9, 2), Vectors(2, 1, 1), PublicApproved))
	require.NoError(t, vectors.Upsert(ctx, 4, Passages(4, 2), Vectors(2, 1, 1), PublicApproved))

	matches, err := vectors.Search(ctx, []float32{1, 1}, access.Unrestricted(), 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	type key struct {
		doc     core.ID
		ordinal int
	}
	got := make([]key, len(matches))
	for i, m := range matches {
		got[i] = key{m.Record.DocumentId, m.Record.Ordinal}
	}
	assert.Equal(t, []key{{4, 0}, {9, 0}, {4, 1}}, got)

	again, err := vectors.Search(ctx, []float32{1, 1}, access.Unrestricted(), 3)
	require.NoError(t, err)
	for i := range again {
		assert.Equal(t, matches[i].Record.PassageId, again[i].Record.PassageId)
	}
}

func testSync(t *testing.T, open Factory) {
	docs, vectors := open(t)
	ctx := context.Background()
	_, err := docs.AddDocuments(ctx, &core.Document{Id: 5, Access: PublicApproved})
	require.NoError(t, err)
	require.NoError(t, vectors.Upsert(ctx, 5, Passages(5, 3), Vectors(3, 0.5, 0.5), PublicApproved))

	anon, err := access.BuildPredicate(core.Anonymous())
	require.NoError(t, err)
	matches, err := vectors.Search(ctx, []float32{1, 1}, anon, 10)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	restricted := Restricted("finance")
	n, err := vectors.SyncAccessAttributes(ctx, 5, restricted)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	matches, err = vectors.Search(ctx, []float32{1, 1}, anon, 10)
	require.NoError(t, err)
	assert.Empty(t, matches)

	records, err := vectors.GetRecords(ctx, 5)
	require.NoError(t, err)
	for _, rec := range records {
		assert.Equal(t, restricted, rec.Access)
		assert.Equal(t, []float32{0.5, 0.5}, rec.Vector)
	}

	n, err = vectors.SyncAccessAttributes(ctx, 404, restricted)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testDeleteRecords(t *testing.T, open Factory) {
	docs, vectors := open(t)
	ctx := context.Background()
	_, err := docs.AddDocuments(ctx, &core.Document{Id: 8, Access: PublicApproved})
	require.NoError(t, err)
	require.NoError(t, vectors.Upsert(ctx, 8, Passages(8, 4), Vectors(4, 1, 0), PublicApproved))

	n, err := vectors.DeleteRecords(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	matches, err := vectors.Search(ctx, []float32{1, 0}, access.Unrestricted(), 10)
	require.NoError(t, err)
	assert.Empty(t, matches)

	n, err = vectors.DeleteRecords(ctx, 8)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testConcurrentUpserts(t *testing.T, open Factory) {
	docs, vectors := open(t)
	ctx := context.Background()
	_, err := docs.AddDocuments(ctx, &core.Document{Id: 21, Access: PublicApproved})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 6; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, vectors.Upsert(ctx, 21, Passages(21, n), Vectors(n, float32(n), 1), PublicApproved))
		}(i)
	}
	wg.Wait()

	records, err := vectors.GetRecords(ctx, 21)
	require.NoError(t, err)
	require.NotEmpty(t, records)

	// One writer's complete set survives, never a blend of two.
	want := float32(len(records))
	for _, rec := range records {
		assert.Equal(t, want, rec.Vector[0])
	}
}

// largePassages and largeDimensions size one document's records well past
// what a single key-value transaction accepts.
const (
	largePassages   = 3000
	largeDimensions = 1024
)

func testLargeDocument(t *testing.T, open Factory) {
	docs, vectors := open(t)
	ctx := context.Background()
	_, err := docs.AddDocuments(ctx, &core.Document{Id: 31, Access: PublicApproved})
	require.NoError(t, err)

	vector := make([]float32, largeDimensions)
	vector[0] = 1
	require.NoError(t, vectors.Upsert(ctx, 31, Passages(31, largePassages), Vectors(largePassages, vector...), PublicApproved))

	records, err := vectors.GetRecords(ctx, 31)
	require.NoError(t, err)
	require.Len(t, records, largePassages)
	assert.Equal(t, largePassages-1, records[largePassages-1].Ordinal)

	matches, err := vectors.Search(ctx, vector, access.Unrestricted(), 5)
	require.NoError(t, err)
	assert.Len(t, matches, 5)

	n, err := vectors.SyncAccessAttributes(ctx, 31, Restricted("legal"))
	require.NoError(t, err)
	assert.Equal(t, largePassages, n)

	require.NoError(t, vectors.Upsert(ctx, 31, Passages(31, 2), Vectors(2, vector...), PublicApproved))
	records, err = vectors.GetRecords(ctx, 31)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func testDeleteDocument(t *testing.T, open Factory) {
	docs, vectors := open(t)
	ctx := context.Background()
	_, err := docs.AddDocuments(ctx, &core.Document{Id: 41, Access: PublicApproved})
	require.NoError(t, err)
	require.NoError(t, vectors.Upsert(ctx, 41, Passages(41, 3), Vectors(3, 1, 0), PublicApproved))

	require.NoError(t, docs.DeleteDocument(ctx, 41))

	records, err := vectors.GetRecords(ctx, 41)
	require.NoError(t, err)
	assert.Empty(t, records)
	matches, err := vectors.Search(ctx, []float32{1, 0}, access.Unrestricted(), 10)
	require.NoError(t, err)
	assert.Empty(t, matches)

	// A writer that finishes after the deletion must not bring records back.
	err = vectors.Upsert(ctx, 41, Passages(41, 1), Vectors(1, 1, 0), PublicApproved)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	records, err = vectors.GetRecords(ctx, 41)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func testInvalidInput(t *testing.T, open Factory) {
	_, vectors := open(t)
	ctx := context.Background()

	err := vectors.Upsert(ctx, 1, Passages(1, 2), Vectors(1, 1, 0), PublicApproved)
	assert.ErrorIs(t, err, storage.ErrInvalidRecords)

	_, err = vectors.Search(ctx, nil, access.Unrestricted(), 10)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)

	_, err = vectors.Search(ctx, []float32{1}, access.Unrestricted(), 0)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}
