package storage

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/poiesic/clearance/core"
)

// BuildRecords pairs passages with their vectors and stamps every record with
// the document's access attributes. It rejects mismatched or ragged input.
func BuildRecords(documentID core.ID, passages []*core.Passage, vectors [][]float32, attrs core.AccessAttributes) ([]*core.EmbeddingRecord, error) {
	if len(passages) != len(vectors) {
		return nil, fmt.Errorf("%w: %d passages, %d vectors", ErrInvalidRecords, len(passages), len(vectors))
	}

	now := time.Now().UTC()
	records := make([]*core.EmbeddingRecord, len(passages))
	for i, p := range passages {
		if p.DocumentId != documentID {
			return nil, fmt.Errorf("%w: passage %d belongs to document %d, not %d", ErrInvalidRecords, p.Ordinal, p.DocumentId, documentID)
		}
		if len(vectors[i]) == 0 || len(vectors[i]) != len(vectors[0]) {
			return nil, fmt.Errorf("%w: vector %d has dimension %d", ErrInvalidRecords, i, len(vectors[i]))
		}
		id := p.Id
		if id == 0 {
			id = core.PassageID(documentID, p.Ordinal)
		}
		records[i] = &core.EmbeddingRecord{
			PassageId:  id,
			DocumentId: documentID,
			Ordinal:    p.Ordinal,
			Text:       p.Text,
			Vector:     vectors[i],
			Access:     attrs,
			SyncedAt:   now,
		}
	}
	return records, nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either is a zero vector or their dimensions differ.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// CompareMatches orders matches by score descending, then passage ordinal
// ascending, then document ID ascending.
func CompareMatches(a, b *core.VectorMatch) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Record.Ordinal, b.Record.Ordinal); c != 0 {
		return c
	}
	return cmp.Compare(a.Record.DocumentId, b.Record.DocumentId)
}

// TopMatches sorts matches deterministically and truncates them to limit.
func TopMatches(matches []*core.VectorMatch, limit int) []*core.VectorMatch {
	slices.SortFunc(matches, CompareMatches)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
