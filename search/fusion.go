package search

import (
	"cmp"
	"slices"

	"github.com/poiesic/clearance/core"
	"github.com/poiesic/clearance/lexical"
)

// Weights sets how much each retrieval leg contributes to a fused score.
type Weights struct {
	Vector  float64
	Lexical float64
}

// DefaultWeights favour semantic similarity over metadata matches.
var DefaultWeights = Weights{Vector: 0.7, Lexical: 0.3}

// normalize min-max scales scores into [0, 1]. A single score, or a set
// where every score is equal, maps to 1.
func normalize(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	lo, hi := slices.Min(scores), slices.Max(scores)
	for i, s := range scores {
		if hi == lo {
			out[i] = 1
			continue
		}
		out[i] = (s - lo) / (hi - lo)
	}
	return out
}

// fuse merges vector matches and lexical hits into scored results. Passages
// come only from matches; a document found only lexically becomes a
// reference. At most perDocument passages are kept for each document.
func fuse(matches []*core.VectorMatch, hits []lexical.Hit, docs map[core.ID]*core.Document, w Weights, perDocument int) []*core.SearchResult {
	lexScores := make([]float64, len(hits))
	for i, h := range hits {
		lexScores[i] = h.Score
	}
	lexNorm := make(map[core.ID]float64, len(hits))
	for i, n := range normalize(lexScores) {
		lexNorm[hits[i].Document.Id] = n
	}

	simScores := make([]float64, len(matches))
	for i, m := range matches {
		simScores[i] = float64(m.Score)
	}
	simNorm := normalize(simScores)

	var results []*core.SearchResult
	passages := make(map[core.ID]int)
	for i, m := range matches {
		doc := docs[m.Record.DocumentId]
		if doc == nil {
			continue
		}
		lex, inLexical := lexNorm[doc.Id]
		kind := core.MatchVector
		if inLexical {
			kind = core.MatchHybrid
		}
		results = append(results, &core.SearchResult{
			Score:   float32(w.Vector*simNorm[i] + w.Lexical*lex),
			Passage: passageOf(m.Record),
			Kind:    kind,
		})
		describe(results[len(results)-1], doc)
		passages[doc.Id]++
	}

	for _, h := range hits {
		if passages[h.Document.Id] > 0 {
			continue
		}
		r := &core.SearchResult{
			Score: float32(w.Lexical * lexNorm[h.Document.Id]),
			Kind:  core.MatchLexical,
		}
		describe(r, h.Document)
		results = append(results, r)
	}

	slices.SortFunc(results, compareResults)
	return capPerDocument(results, perDocument)
}

// compareResults orders by score descending, then document ID, then passage
// ordinal, with document references ahead of passages.
func compareResults(a, b *core.SearchResult) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(a.DocumentId, b.DocumentId); c != 0 {
		return c
	}
	return cmp.Compare(ordinalOf(a), ordinalOf(b))
}

func capPerDocument(results []*core.SearchResult, limit int) []*core.SearchResult {
	if limit <= 0 {
		return results
	}
	seen := make(map[core.ID]int)
	out := results[:0]
	for _, r := range results {
		if seen[r.DocumentId] >= limit {
			continue
		}
		seen[r.DocumentId]++
		out = append(out, r)
	}
	return out
}

func passageOf(rec *core.EmbeddingRecord) *core.Passage {
	return &core.Passage{
		Id:         rec.PassageId,
		DocumentId: rec.DocumentId,
		Ordinal:    rec.Ordinal,
		Text:       rec.Text,
	}
}

func ordinalOf(r *core.SearchResult) int {
	if r.Passage == nil {
		return -1
	}
	return r.Passage.Ordinal
}

// describe copies the document fields every result carries.
func describe(r *core.SearchResult, doc *core.Document) {
	r.DocumentId = doc.Id
	r.Title = doc.Title
	r.Visibility = doc.Access.Visibility
	r.Publication = doc.Access.Publication
}

// finalize truncates results to limit and assigns ranks and citations.
func finalize(results []*core.SearchResult, limit int) []*core.SearchResult {
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	for i, r := range results {
		r.Rank = i + 1
		r.Citation = Citation(r.DocumentId, ordinalOf(r))
	}
	return results
}
