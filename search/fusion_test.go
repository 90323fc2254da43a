package search

import (
	"testing"

	"github.com/poiesic/clearance/core"
	"github.com/poiesic/clearance/lexical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func match(doc core.ID, ordinal int, score float32) *core.VectorMatch {
	return &core.VectorMatch{
		Record: &core.EmbeddingRecord{DocumentId: doc, Ordinal: ordinal, Text: "passage"},
		Score:  score,
	}
}

func TestNormalize(t *testing.T) {
	assert.Empty(t, normalize(nil))
	assert.Equal(t, []float64{1}, normalize([]float64{0.42}))
	assert.Equal(t, []float64{1, 1}, normalize([]float64{3, 3}))
	assert.Equal(t, []float64{1, 0, 0.5}, normalize([]float64{4, 2, 3}))
}

func TestFuseWeightsAndReferences(t *testing.T) {
	docs := map[core.ID]*core.Document{
		1: {Id: 1, Title: "one"},
		2: {Id: 2, Title: "two"},
		3: {Id: 3, Title: "three"},
	}
	matches := []*core.VectorMatch{match(1, 0, 0.9), match(2, 0, 0.5)}
	hits := []lexical.Hit{{Document: docs[2], Score: 4}, {Document: docs[3], Score: 2}}

	results := fuse(matches, hits, docs, DefaultWeights, 3)
	require.Len(t, results, 3)

	// doc 1: 0.7*1 + 0.3*0, doc 2: 0.7*0 + 0.3*1, doc 3 reference: 0.3*0
	assert.Equal(t, core.ID(1), results[0].DocumentId)
	assert.InDelta(t, 0.7, results[0].Score, 1e-6)
	assert.Equal(t, core.MatchVector, results[0].Kind)

	assert.Equal(t, core.ID(2), results[1].DocumentId)
	assert.InDelta(t, 0.3, results[1].Score, 1e-6)
	assert.Equal(t, core.MatchHybrid, results[1].Kind)

	assert.Equal(t, core.ID(3), results[2].DocumentId)
	assert.Nil(t, results[2].Passage)
	assert.Equal(t, core.MatchLexical, results[2].Kind)
	assert.Equal(t, "three", results[2].Title)
}

func TestFuseCapsPassagesPerDocument(t *testing.T) {
	docs := map[core.ID]*core.Document{1: {Id: 1}, 2: {Id: 2}}
	matches := []*core.VectorMatch{
		match(1, 0, 0.9), match(1, 1, 0.8), match(1, 2, 0.7), match(1, 3, 0.6), match(2, 0, 0.1),
	}

	results := fuse(matches, nil, docs, DefaultWeights, 2)
	require.Len(t, results, 3)
	assert.Equal(t, 0, results[0].Passage.Ordinal)
	assert.Equal(t, 1, results[1].Passage.Ordinal)
	assert.Equal(t, core.ID(2), results[2].DocumentId)
}

func TestFuseTieBreaks(t *testing.T) {
	docs := map[core.ID]*core.Document{4: {Id: 4}, 7: {Id: 7}}
	matches := []*core.VectorMatch{match(7, 1, 0.5), match(4, 2, 0.5), match(4, 0, 0.5)}

	results := fuse(matches, nil, docs, DefaultWeights, 0)
	require.Len(t, results, 3)
	assert.Equal(t, core.ID(4), results[0].DocumentId)
	assert.Equal(t, 0, results[0].Passage.Ordinal)
	assert.Equal(t, core.ID(4), results[1].DocumentId)
	assert.Equal(t, 2, results[1].Passage.Ordinal)
	assert.Equal(t, core.ID(7), results[2].DocumentId)
}

func TestFuseSkipsUnknownDocuments(t *testing.T) {
	results := fuse([]*core.VectorMatch{match(9, 0, 0.9)}, nil, map[core.ID]*core.Document{}, DefaultWeights, 3)
	assert.Empty(t, results)
}

func TestFinalizeAssignsRanksAndCitations(t *testing.T) {
	results := []*core.SearchResult{
		{DocumentId: 1, Passage: &core.Passage{Ordinal: 2}},
		{DocumentId: 2},
		{DocumentId: 3},
	}
	out := finalize(results, 2)
	require.Len(t, out, 2)
	assert.Equal(t, 1, out[0].Rank)
	assert.Equal(t, 2, out[1].Rank)
	assert.Equal(t, Citation(1, 2), out[0].Citation)
	assert.Equal(t, Citation(2, -1), out[1].Citation)
}

func TestCitation(t *testing.T) {
	assert.Equal(t, Citation(10, 0), Citation(10, 0))
	assert.NotEqual(t, Citation(10, 0), Citation(10, 1))
	assert.NotEqual(t, Citation(10, -1), Citation(11, -1))
	assert.Len(t, Citation(1, 0), 36)
}

func TestKeywordSearchOrdersByCoverage(t *testing.T) {
	q := &Query{
		Terms: []string{"fire", "drill"},
		Eligible: []*core.Document{
			{Id: 1, Text: "fire safety"},
			{Id: 2, Text: "fire drill schedule"},
			{Id: 3, Text: "unrelated"},
		},
	}
	results, err := keywordSearch(q)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, core.ID(2), results[0].DocumentId)
	assert.Equal(t, core.ID(1), results[1].DocumentId)

	_, err = keywordSearch(&Query{})
	assert.ErrorIs(t, err, ErrTryNext)
}
