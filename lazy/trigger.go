package lazy

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/clearance/core"
	"github.com/poiesic/clearance/indexing"
	"github.com/poiesic/clearance/lexical"
	"github.com/poiesic/clearance/storage"
)

const (
	// DefaultCandidates is the number of documents embedded per query.
	DefaultCandidates = 3
	// DefaultTimeout bounds how long a query waits for its candidates.
	DefaultTimeout = 30 * time.Second
	// DefaultRetryFailedAfter is how long a failed document rests before a
	// query may pick it again.
	DefaultRetryFailedAfter = 10 * time.Minute
	// DefaultStaleClaimAfter is the age at which an in-progress claim is
	// considered abandoned.
	DefaultStaleClaimAfter = 5 * time.Minute
)

// Indexer is the part of indexing.Indexer the trigger depends on.
type Indexer interface {
	ClaimAndIndex(ctx context.Context, id core.ID, policy storage.ClaimPolicy) (indexing.Result, error)
}

var _ Indexer = (*indexing.Indexer)(nil)

// Report describes what a Run did. Every selected document appears in
// exactly one of the other lists.
type Report struct {
	Selected   []core.ID
	Embedded   []core.ID
	Failed     []core.ID
	NotClaimed []core.ID // another job held or finished the document first
	TimedOut   []core.ID // still running when the caller stopped waiting
}

// Degraded reports whether any selected document could not be embedded.
func (r Report) Degraded() bool {
	return len(r.Failed) > 0 || len(r.TimedOut) > 0
}

// Trigger embeds the most promising unembedded documents for a query before
// the query searches the vector store.
type Trigger struct {
	indexer          Indexer
	ranker           *lexical.Ranker
	pool             *ants.Pool
	candidates       int
	timeout          time.Duration
	retryFailedAfter time.Duration
	staleClaimAfter  time.Duration
	logger           *slog.Logger
}

// Option configures a Trigger.
type Option func(*Trigger) error

// WithCandidates sets how many documents a query may embed.
// Default is DefaultCandidates.
func WithCandidates(k int) Option {
	return func(t *Trigger) error {
		if k < 1 {
			return ErrInvalidCandidates
		}
		t.candidates = k
		return nil
	}
}

// WithPoolSize sets the worker pool size shared by all queries.
// Default is runtime.NumCPU() / 2, and never less than the candidate count.
func WithPoolSize(size int) Option {
	return func(t *Trigger) error {
		if size < 1 {
			size = 1
		}
		if t.pool != nil {
			t.pool.Release()
		}
		pool, err := ants.NewPool(size, ants.WithNonblocking(true))
		if err != nil {
			return err
		}
		t.pool = pool
		return nil
	}
}

// WithTimeout sets how long a query waits for its candidates. A job still
// running when the timeout fires keeps running and persists its outcome.
func WithTimeout(d time.Duration) Option {
	return func(t *Trigger) error {
		if d <= 0 {
			return ErrInvalidTimeout
		}
		t.timeout = d
		return nil
	}
}

// WithRetryFailedAfter sets the cooldown after which a failed document is
// eligible again. Zero disables retries from queries.
func WithRetryFailedAfter(d time.Duration) Option {
	return func(t *Trigger) error {
		t.retryFailedAfter = max(d, 0)
		return nil
	}
}

// WithStaleClaimAfter sets the age at which an in-progress claim may be taken
// over. Zero means claims are never taken over.
func WithStaleClaimAfter(d time.Duration) Option {
	return func(t *Trigger) error {
		t.staleClaimAfter = max(d, 0)
		return nil
	}
}

// WithRanker replaces the lexical ranker used to pick candidates.
func WithRanker(r *lexical.Ranker) Option {
	return func(t *Trigger) error {
		if r != nil {
			t.ranker = r
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(t *Trigger) error {
		if logger == nil {
			logger = slog.Default()
		}
		t.logger = logger
		return nil
	}
}

// New creates a Trigger. Call Release when done.
func New(indexer Indexer, opts ...Option) (*Trigger, error) {
	if indexer == nil {
		return nil, ErrIndexerRequired
	}

	t := &Trigger{
		indexer:          indexer,
		ranker:           lexical.NewRanker(),
		candidates:       DefaultCandidates,
		timeout:          DefaultTimeout,
		retryFailedAfter: DefaultRetryFailedAfter,
		staleClaimAfter:  DefaultStaleClaimAfter,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			t.Release()
			return nil, err
		}
	}

	if t.pool == nil {
		pool, err := ants.NewPool(max(runtime.NumCPU()/2, t.candidates), ants.WithNonblocking(true))
		if err != nil {
			return nil, err
		}
		t.pool = pool
	}
	t.logger = t.logger.With("component", "lazy-trigger")
	return t, nil
}

// Release stops the worker pool, waiting up to the timeout for running
// jobs to finish. The trigger should not be used after calling Release.
func (t *Trigger) Release() {
	if t.pool == nil {
		return
	}
	if err := t.pool.ReleaseTimeout(t.timeout); err != nil {
		t.logger.Warn("lazy embedding jobs still running at release", "err", err)
	}
}

// Candidates returns the documents Run would select for query from eligible,
// best first: the not-yet-embedded documents whose metadata scores above
// zero, capped at the candidate count.
func (t *Trigger) Candidates(query string, eligible []*core.Document) []lexical.Hit {
	policy := t.policy()
	policy.Now = time.Now().UTC()

	var pending []*core.Document
	for _, doc := range eligible {
		if policy.Allows(doc) {
			pending = append(pending, doc)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	return t.ranker.Rank(query, pending, t.candidates)
}

type outcome struct {
	id  core.ID
	err error
}

// Run embeds the candidates for query and waits for them, for the timeout
// or for ctx, whichever comes first. Jobs run detached from ctx: a cancelled
// caller stops waiting but its jobs still complete and persist. Individual
// failures are logged and reported, never returned; the only error is ctx's.
func (t *Trigger) Run(ctx context.Context, query string, eligible []*core.Document) (Report, error) {
	var report Report
	hits := t.Candidates(query, eligible)
	if len(hits) == 0 {
		return report, nil
	}

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	results := make(chan outcome, len(hits))
	policy := t.policy()
	for _, hit := range hits {
		id := hit.Document.Id
		report.Selected = append(report.Selected, id)

		jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
		err := t.pool.Submit(func() {
			defer cancel()
			_, err := t.indexer.ClaimAndIndex(jobCtx, id, policy)
			results <- outcome{id: id, err: err}
		})
		if err != nil {
			cancel()
			results <- outcome{id: id, err: err}
		}
	}

	pending := make(map[core.ID]bool, len(hits))
	for _, id := range report.Selected {
		pending[id] = true
	}
	for len(pending) > 0 {
		select {
		case o := <-results:
			delete(pending, o.id)
			t.record(&report, o)
		case <-timer.C:
			report.TimedOut = append(report.TimedOut, t.abandon(report.Selected, pending, "timeout")...)
			return report, nil
		case <-ctx.Done():
			report.TimedOut = append(report.TimedOut, t.abandon(report.Selected, pending, "caller cancelled")...)
			return report, ctx.Err()
		}
	}
	return report, nil
}

func (t *Trigger) policy() storage.ClaimPolicy {
	return storage.ClaimPolicy{
		RetryFailedAfter: t.retryFailedAfter,
		StaleAfter:       t.staleClaimAfter,
	}
}

func (t *Trigger) record(report *Report, o outcome) {
	switch {
	case o.err == nil:
		report.Embedded = append(report.Embedded, o.id)
	case errors.Is(o.err, indexing.ErrNotClaimed):
		t.logger.Debug("candidate already claimed", "documentID", o.id)
		report.NotClaimed = append(report.NotClaimed, o.id)
	case errors.Is(o.err, ants.ErrPoolOverload):
		t.logger.Warn("no worker free for candidate", "documentID", o.id)
		report.Failed = append(report.Failed, o.id)
	case errors.Is(o.err, context.DeadlineExceeded):
		t.logger.Warn("candidate timed out", "documentID", o.id, "err", o.err)
		report.TimedOut = append(report.TimedOut, o.id)
	default:
		t.logger.Warn("candidate skipped", "documentID", o.id, "err", o.err)
		report.Failed = append(report.Failed, o.id)
	}
}

// abandon lists the still-pending documents in selection order.
func (t *Trigger) abandon(selected []core.ID, pending map[core.ID]bool, reason string) []core.ID {
	var out []core.ID
	for _, id := range selected {
		if pending[id] {
			out = append(out, id)
		}
	}
	t.logger.Warn("stopped waiting for lazy embedding", "reason", reason, "pending", len(out))
	return out
}
