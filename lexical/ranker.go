package lexical

import (
	"cmp"
	"math"
	"slices"
	"strings"

	"github.com/poiesic/clearance/core"
)

const (
	DefaultK1 = 1.2
	DefaultB  = 0.75

	DefaultTitleWeight   = 3.0
	DefaultKeywordWeight = 2.0
	DefaultSummaryWeight = 1.0
)

// Ranker scores documents against a query with BM25 over their generative
// metadata: title, keywords and summary. Field weights scale term counts, so
// a match in the title counts for more than one in the summary.
//
// Corpus statistics (document frequencies, average length) are computed over
// the documents passed to Rank, which is always the set the requester may
// see. A Ranker is immutable and safe for concurrent use.
type Ranker struct {
	k1 float64
	b  float64

	titleWeight   float64
	keywordWeight float64
	summaryWeight float64
}

// Option configures a Ranker.
type Option func(*Ranker)

// WithSaturation sets k1, which controls how quickly repeated terms stop
// adding score.
func WithSaturation(k1 float64) Option {
	return func(r *Ranker) { r.k1 = k1 }
}

// WithLengthNormalization sets b, from 0 (no length normalization) to 1.
func WithLengthNormalization(b float64) Option {
	return func(r *Ranker) { r.b = min(max(b, 0), 1) }
}

// WithFieldWeights sets the per-field term weights.
func WithFieldWeights(title, keywords, summary float64) Option {
	return func(r *Ranker) {
		r.titleWeight, r.keywordWeight, r.summaryWeight = title, keywords, summary
	}
}

// NewRanker creates a Ranker.
func NewRanker(opts ...Option) *Ranker {
	r := &Ranker{
		k1:            DefaultK1,
		b:             DefaultB,
		titleWeight:   DefaultTitleWeight,
		keywordWeight: DefaultKeywordWeight,
		summaryWeight: DefaultSummaryWeight,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Hit is a document with a positive lexical score.
type Hit struct {
	Document *core.Document
	Score    float64
}

// Rank scores docs against query and returns up to limit hits with a
// positive score, best first, ties broken by lower document ID. A
// non-positive limit returns every hit.
func (r *Ranker) Rank(query string, docs []*core.Document, limit int) []Hit {
	terms := Terms(query)
	if len(terms) == 0 || len(docs) == 0 {
		return nil
	}

	type profile struct {
		tf     map[string]float64
		length float64
	}
	profiles := make([]profile, len(docs))
	df := make(map[string]int, len(terms))
	var totalLength float64
	for i, doc := range docs {
		p := profile{tf: make(map[string]float64)}
		p.length += addField(p.tf, doc.Title, r.titleWeight)
		p.length += addField(p.tf, strings.Join(doc.Keywords, " "), r.keywordWeight)
		p.length += addField(p.tf, doc.Summary, r.summaryWeight)
		for _, t := range terms {
			if p.tf[t] > 0 {
				df[t]++
			}
		}
		totalLength += p.length
		profiles[i] = p
	}

	avgLength := totalLength / float64(len(docs))
	if avgLength == 0 {
		return nil
	}
	n := float64(len(docs))

	var hits []Hit
	for i, p := range profiles {
		var score float64
		for _, t := range terms {
			tf := p.tf[t]
			if tf == 0 {
				continue
			}
			idf := math.Log(1 + (n-float64(df[t])+0.5)/(float64(df[t])+0.5))
			norm := r.k1 * (1 - r.b + r.b*p.length/avgLength)
			score += idf * tf * (r.k1 + 1) / (tf + norm)
		}
		if score > 0 {
			hits = append(hits, Hit{Document: docs[i], Score: score})
		}
	}

	slices.SortFunc(hits, func(a, b Hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Document.Id, b.Document.Id)
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// addField counts the weighted terms of text into tf and returns the
// weighted length it added.
func addField(tf map[string]float64, text string, weight float64) float64 {
	if weight <= 0 || text == "" {
		return 0
	}
	var length float64
	for _, w := range Tokenize(text) {
		tf[w] += weight
		length += weight
	}
	return length
}
