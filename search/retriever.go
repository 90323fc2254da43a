package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/poiesic/clearance/access"
	"github.com/poiesic/clearance/ai"
	"github.com/poiesic/clearance/core"
	"github.com/poiesic/clearance/embedding"
	"github.com/poiesic/clearance/lazy"
	"github.com/poiesic/clearance/lexical"
	"github.com/poiesic/clearance/storage"
)

const (
	DefaultTopN                   = 10
	DefaultVectorLimit            = 50
	DefaultLexicalLimit           = 20
	DefaultRerankTop              = 10
	DefaultMaxPassagesPerDocument = 3
)

// LazyTrigger embeds promising documents before a search. *lazy.Trigger
// implements it.
type LazyTrigger interface {
	Run(ctx context.Context, query string, eligible []*core.Document) (lazy.Report, error)
}

var _ LazyTrigger = (*lazy.Trigger)(nil)

// Response is the outcome of a retrieval.
type Response struct {
	Results []*core.SearchResult
	// Strategy names the strategy that produced Results.
	Strategy string
	// Degraded is set when part of the pipeline failed and results may be
	// less complete than usual.
	Degraded bool
	Lazy     lazy.Report
}

// Retriever answers questions with passages the requester is allowed to see.
type Retriever struct {
	documents   storage.DocumentRepository
	vectors     storage.VectorStore
	embed       *embedding.Function
	trigger     LazyTrigger
	ranker      *lexical.Ranker
	reranker    ai.Reranker
	weights     Weights
	vectorLimit int
	lexLimit    int
	rerankTop   int
	perDocument int
	fallbacks   []Fallback
	logger      *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// WithLazyTrigger enables lazy embedding before each search.
func WithLazyTrigger(t LazyTrigger) Option {
	return func(r *Retriever) error {
		r.trigger = t
		return nil
	}
}

// WithRanker replaces the lexical ranker.
func WithRanker(ranker *lexical.Ranker) Option {
	return func(r *Retriever) error {
		if ranker != nil {
			r.ranker = ranker
		}
		return nil
	}
}

// WithReranker reorders the top fused results with a relevance model.
func WithReranker(reranker ai.Reranker) Option {
	return func(r *Retriever) error {
		r.reranker = reranker
		return nil
	}
}

// WithWeights sets the fusion weights.
func WithWeights(w Weights) Option {
	return func(r *Retriever) error {
		if w.Vector < 0 || w.Lexical < 0 || w.Vector+w.Lexical == 0 {
			return ErrInvalidWeights
		}
		r.weights = w
		return nil
	}
}

// WithLimits sets how many vector matches and lexical hits are fused.
func WithLimits(vector, lexical int) Option {
	return func(r *Retriever) error {
		if vector < 1 || lexical < 1 {
			return ErrInvalidLimit
		}
		r.vectorLimit, r.lexLimit = vector, lexical
		return nil
	}
}

// WithRerankTop sets how many fused results the reranker sees.
func WithRerankTop(m int) Option {
	return func(r *Retriever) error {
		if m < 1 {
			return ErrInvalidLimit
		}
		r.rerankTop = m
		return nil
	}
}

// WithMaxPassagesPerDocument caps the passages returned from one document.
// Zero removes the cap.
func WithMaxPassagesPerDocument(n int) Option {
	return func(r *Retriever) error {
		r.perDocument = max(n, 0)
		return nil
	}
}

// WithFallbacks replaces the strategies tried when hybrid search finds
// nothing. With no arguments, no fallback is tried.
func WithFallbacks(fallbacks ...Fallback) Option {
	return func(r *Retriever) error {
		r.fallbacks = fallbacks
		return nil
	}
}

// NewRetriever creates a retriever.
func NewRetriever(documents storage.DocumentRepository, vectors storage.VectorStore, embed *embedding.Function, opts ...Option) (*Retriever, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}
	if embed == nil {
		return nil, ErrEmbeddingRequired
	}

	r := &Retriever{
		documents:   documents,
		vectors:     vectors,
		embed:       embed,
		ranker:      lexical.NewRanker(),
		weights:     DefaultWeights,
		vectorLimit: DefaultVectorLimit,
		lexLimit:    DefaultLexicalLimit,
		rerankTop:   DefaultRerankTop,
		perDocument: DefaultMaxPassagesPerDocument,
		fallbacks:   DefaultFallbacks(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "retriever")
	return r, nil
}

// Retrieve returns up to topN results for query that requester may see.
// A topN of zero or less means DefaultTopN.
func (r *Retriever) Retrieve(ctx context.Context, query string, requester core.Requester, topN int) (*Response, error) {
	return r.RetrieveWithMonitor(ctx, query, requester, topN, nil)
}

// RetrieveWithMonitor is Retrieve with callbacks at each step.
//
// Authorization and storage failures are returned as errors with no
// results. Embedding and reranking failures are absorbed: the response is
// marked degraded and carries whatever the remaining steps produced.
func (r *Retriever) RetrieveWithMonitor(ctx context.Context, query string, requester core.Requester, topN int, monitor Monitor) (*Response, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if topN <= 0 {
		topN = DefaultTopN
	}
	monitor.Start(query, requester)
	defer monitor.Enter(StateDone)

	monitor.Enter(StateFiltering)
	pred, err := access.BuildPredicate(requester)
	if err != nil {
		r.logger.Warn("rejected requester", "role", requester.Role, "err", err)
		return nil, err
	}
	eligible, err := r.documents.ListDocuments(ctx, pred)
	if err != nil {
		return nil, unavailable(err)
	}
	monitor.AfterFiltering(len(eligible))

	resp := &Response{}
	degrade := func(reason string, err error) {
		resp.Degraded = true
		monitor.Degraded(reason, err)
	}

	if r.trigger != nil {
		monitor.Enter(StateLazyEmbedding)
		report, err := r.trigger.Run(ctx, query, eligible)
		resp.Lazy = report
		monitor.AfterLazyEmbedding(report)
		if err != nil {
			return nil, err
		}
		if report.Degraded() {
			degrade("lazy embedding", nil)
		}
	}

	q := &Query{
		Text:      query,
		Terms:     lexical.Terms(query),
		Requester: requester,
		Eligible:  eligible,
		Limit:     topN,
	}
	results, err := r.hybrid(ctx, q, pred, monitor, degrade)
	switch {
	case err == nil:
		resp.Strategy = "hybrid"
	case errors.Is(err, ErrTryNext):
		results, resp.Strategy = r.fallback(q, monitor)
	default:
		return nil, err
	}

	resp.Results = finalize(results, topN)
	monitor.Finish(resp.Results)
	return resp, nil
}

// hybrid fuses vector similarity with lexical relevance and optionally
// reranks the result.
func (r *Retriever) hybrid(ctx context.Context, q *Query, pred access.Predicate, monitor Monitor, degrade func(string, error)) ([]*core.SearchResult, error) {
	monitor.Enter(StateSearching)
	docs := make(map[core.ID]*core.Document, len(q.Eligible))
	for _, doc := range q.Eligible {
		docs[doc.Id] = doc
	}

	var matches []*core.VectorMatch
	vector, err := r.embed.EmbedQuery(ctx, q.Text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Warn("error embedding query, continuing lexically", "err", err)
		degrade("query embedding", err)
	} else {
		matches, err = r.vectors.Search(ctx, vector, pred, r.vectorLimit)
		if err != nil {
			return nil, unavailable(err)
		}
		monitor.AfterVectorSearch(matches)
		matches = r.dropStale(matches, docs, monitor)
	}

	hits := r.ranker.Rank(q.Text, q.Eligible, r.lexLimit)
	monitor.AfterLexicalRanking(hits)

	monitor.Enter(StateFusing)
	results := fuse(matches, hits, docs, r.weights, r.perDocument)
	if len(results) == 0 {
		return nil, ErrTryNext
	}

	if r.reranker != nil {
		monitor.Enter(StateReranking)
		if err := r.rerank(ctx, q.Text, results, docs); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Warn("rerank failed, keeping fused order", "err", err)
			degrade("rerank", err)
		}
	}
	return results, nil
}

// dropStale removes matches whose document is no longer eligible and logs
// records whose access attributes disagree with their document.
func (r *Retriever) dropStale(matches []*core.VectorMatch, docs map[core.ID]*core.Document, monitor Monitor) []*core.VectorMatch {
	out := matches[:0]
	for _, m := range matches {
		doc, ok := docs[m.Record.DocumentId]
		if !ok || doc.Access != m.Record.Access {
			r.logger.Warn("data quality warning",
				"err", ErrStaleAccessAttributes,
				"documentID", m.Record.DocumentId,
				"ordinal", m.Record.Ordinal,
				"eligible", ok)
			monitor.StaleRecord(m.Record)
		}
		if ok {
			out = append(out, m)
		}
	}
	return out
}

// rerank reorders the first rerankTop results in place by relevance to
// query. Results the model scores equally keep their fused order.
func (r *Retriever) rerank(ctx context.Context, query string, results []*core.SearchResult, docs map[core.ID]*core.Document) error {
	top := results[:min(r.rerankTop, len(results))]
	candidates := make([]ai.RerankCandidate, len(top))
	for i, res := range top {
		candidates[i] = ai.RerankCandidate{Title: res.Title}
		switch {
		case res.Passage != nil:
			candidates[i].Text = res.Passage.Text
		case docs[res.DocumentId] != nil:
			candidates[i].Text = docs[res.DocumentId].Summary
		}
	}

	scores, err := r.reranker.Rerank(ctx, query, candidates)
	if err != nil {
		return err
	}
	if len(scores) != len(top) {
		return fmt.Errorf("reranker returned %d scores for %d candidates", len(scores), len(top))
	}

	order := make([]int, len(top))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case scores[a] > scores[b]:
			return -1
		case scores[a] < scores[b]:
			return 1
		}
		return 0
	})
	reordered := make([]*core.SearchResult, len(top))
	for i, idx := range order {
		reordered[i] = top[idx]
	}
	copy(top, reordered)
	return nil
}

func (r *Retriever) fallback(q *Query, monitor Monitor) ([]*core.SearchResult, string) {
	for _, fb := range r.fallbacks {
		results, err := fb.Run(q)
		if errors.Is(err, ErrTryNext) {
			continue
		}
		if err != nil {
			r.logger.Warn("fallback failed", "fallback", fb.Name, "err", err)
			continue
		}
		monitor.FallbackUsed(fb.Name)
		return results, fb.Name
	}
	return []*core.SearchResult{}, ""
}

func unavailable(err error) error {
	if errors.Is(err, storage.ErrStoreUnavailable) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", storage.ErrStoreUnavailable, err)
}
