package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/clearance/ai"
	"golang.org/x/time/rate"
)

const (
	DefaultBatchSize   = 32
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 200 * time.Millisecond
)

// Function turns passage and query text into vectors of one canonical
// dimensionality, whatever the backend's native width.
//
// Narrower backend vectors are zero-padded; padding does not change dot
// products or norms, so cosine similarity is unaffected. Wider vectors are
// rejected with ErrDimensionality rather than truncated. Batches are retried
// with exponential backoff on backend failure, and an optional rate limiter
// paces calls to the backend.
type Function struct {
	embedder    ai.Embedder
	dimensions  int
	batchSize   int
	maxAttempts int
	baseDelay   time.Duration
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// Option configures a Function.
type Option func(*Function) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(f *Function) error {
		if logger == nil {
			logger = slog.Default()
		}
		f.logger = logger
		return nil
	}
}

// WithBatchSize sets how many texts are sent to the backend per call.
func WithBatchSize(n int) Option {
	return func(f *Function) error {
		if n <= 0 {
			return fmt.Errorf("batch size must be positive, got %d", n)
		}
		f.batchSize = n
		return nil
	}
}

// WithRetry sets the attempts per batch and the initial backoff delay.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(f *Function) error {
		if maxAttempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		f.maxAttempts = maxAttempts
		f.baseDelay = baseDelay
		return nil
	}
}

// WithRateLimit caps backend calls at perSecond with the given burst.
// A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(f *Function) error {
		if perSecond <= 0 {
			f.limiter = nil
			return nil
		}
		f.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		return nil
	}
}

// New creates a Function producing vectors of the given canonical dimensionality.
func New(embedder ai.Embedder, dimensions int, opts ...Option) (*Function, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if dimensions <= 0 {
		return nil, ErrInvalidDimensions
	}

	f := &Function{
		embedder:    embedder,
		dimensions:  dimensions,
		batchSize:   DefaultBatchSize,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	f.logger = f.logger.With("component", "embedding")
	return f, nil
}

// Dimensions returns the canonical dimensionality.
func (f *Function) Dimensions() int {
	return f.dimensions
}

// Embed returns one canonical vector per text, in input order. Either every
// vector is returned or none is.
func (f *Function) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += f.batchSize {
		batch := texts[start:min(start+f.batchSize, len(texts))]
		vectors, err := f.embedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// EmbedQuery returns the canonical vector of a single query text. It uses
// the backend's single-text call with the same retry and rate limit as Embed.
func (f *Function) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.embedWith(ctx, 1, func() ([][]float32, error) {
		v, err := f.embedder.EmbedText(ctx, text)
		if err != nil {
			return nil, err
		}
		return [][]float32{v}, nil
	})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (f *Function) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	return f.embedWith(ctx, len(batch), func() ([][]float32, error) {
		return f.embedder.EmbedTexts(ctx, batch)
	})
}

// embedWith runs call under the retry and rate limit policy and pads its n
// vectors to the canonical width.
func (f *Function) embedWith(ctx context.Context, n int, call func() ([][]float32, error)) ([][]float32, error) {
	var result [][]float32
	err := retryWithBackoff(ctx, f.logger, func() error {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return Permanent(fmt.Errorf("%w: rate limit: %w", ErrBackend, err))
			}
		}

		raw, err := call()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %w", ErrBackend, err)
		}
		if len(raw) != n {
			return fmt.Errorf("%w: %d vectors for %d texts", ErrBackend, len(raw), n)
		}

		padded := make([][]float32, len(raw))
		for i, v := range raw {
			if len(v) == 0 {
				return fmt.Errorf("%w: empty vector at position %d", ErrBackend, i)
			}
			if padded[i], err = Pad(v, f.dimensions); err != nil {
				return Permanent(err)
			}
		}
		result = padded
		return nil
	}, f.maxAttempts, f.baseDelay)
	if err != nil {
		f.logger.Warn("embedding batch failed", "texts", n, "err", err)
		return nil, err
	}
	return result, nil
}

// Pad returns v extended with zeros to width d. A vector wider than d is an
// ErrDimensionality error.
func Pad(v []float32, d int) ([]float32, error) {
	if len(v) > d {
		return nil, fmt.Errorf("%w: backend returned %d, canonical is %d", ErrDimensionality, len(v), d)
	}
	if len(v) == d {
		return v, nil
	}
	out := make([]float32, d)
	copy(out, v)
	return out, nil
}
