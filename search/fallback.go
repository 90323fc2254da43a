package search

import (
	"cmp"
	"slices"
	"strings"

	"github.com/poiesic/clearance/core"
	"github.com/poiesic/clearance/lexical"
)

// Query is the state a fallback works from: the question and the documents
// the requester may see.
type Query struct {
	Text      string
	Terms     []string
	Requester core.Requester
	Eligible  []*core.Document
	Limit     int
}

// Fallback is a search strategy tried when the ones before it found
// nothing. It returns results or ErrTryNext.
type Fallback struct {
	Name string
	Run  func(q *Query) ([]*core.SearchResult, error)
}

// DefaultFallbacks is the chain used after hybrid search comes up empty.
func DefaultFallbacks() []Fallback {
	return []Fallback{KeywordFallback(), BrowseFallback()}
}

// KeywordFallback matches query terms against the full text of eligible
// documents, scoring each by the fraction of terms it contains.
func KeywordFallback() Fallback {
	return Fallback{Name: "keyword", Run: keywordSearch}
}

func keywordSearch(q *Query) ([]*core.SearchResult, error) {
	if len(q.Terms) == 0 {
		return nil, ErrTryNext
	}
	var results []*core.SearchResult
	for _, doc := range q.Eligible {
		text := strings.Join([]string{doc.Title, strings.Join(doc.Keywords, " "), doc.Summary, doc.Text}, " ")
		coverage := lexical.Coverage(q.Terms, text)
		if coverage == 0 {
			continue
		}
		r := &core.SearchResult{Score: float32(coverage), Kind: core.MatchKeyword}
		describe(r, doc)
		results = append(results, r)
	}
	if len(results) == 0 {
		return nil, ErrTryNext
	}
	slices.SortFunc(results, compareResults)
	return results, nil
}

// BrowseFallback offers the most recently updated approved documents.
func BrowseFallback() Fallback {
	return Fallback{Name: "browse", Run: browse}
}

func browse(q *Query) ([]*core.SearchResult, error) {
	var docs []*core.Document
	for _, doc := range q.Eligible {
		if doc.Access.Publication == core.PublicationApproved {
			docs = append(docs, doc)
		}
	}
	if len(docs) == 0 {
		return nil, ErrTryNext
	}
	slices.SortFunc(docs, func(a, b *core.Document) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Id, b.Id)
	})

	results := make([]*core.SearchResult, len(docs))
	for i, doc := range docs {
		results[i] = &core.SearchResult{Kind: core.MatchBrowse}
		describe(results[i], doc)
	}
	return results, nil
}
