// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package clearance

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/poiesic/clearance/ai"
	"github.com/poiesic/clearance/ai/openai"
	"github.com/poiesic/clearance/chunk"
	"github.com/poiesic/clearance/config"
	"github.com/poiesic/clearance/core"
	"github.com/poiesic/clearance/embedding"
	"github.com/poiesic/clearance/indexing"
	"github.com/poiesic/clearance/lazy"
	"github.com/poiesic/clearance/lexical"
	"github.com/poiesic/clearance/lifecycle"
	"github.com/poiesic/clearance/reembed"
	"github.com/poiesic/clearance/search"
	"github.com/poiesic/clearance/storage"
	"github.com/poiesic/clearance/storage/badger"
	"github.com/poiesic/clearance/storage/sqlite"
)

// ErrConfigRequired is returned by Open when no configuration is given.
var ErrConfigRequired = errors.New("config is required")

// Engine is an open clearance instance: storage, the AI provider and the
// indexing, retrieval and lifecycle services built on them.
// Engine is safe for concurrent use.
type Engine struct {
	documents storage.DocumentRepository
	vectors   storage.VectorStore
	backend   io.Closer
	provider  ai.AIProvider
	indexer   *indexing.Indexer
	trigger   *lazy.Trigger
	retriever *search.Retriever
	bus       *lifecycle.Bus
	manager   *lifecycle.Manager
	cfg       *config.AppConfig
	logger    *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	provider  ai.AIProvider
	logger    *slog.Logger
	extractor indexing.TextExtractor
	inMemory  bool
}

// WithProvider uses provider instead of building an OpenAI-compatible one
// from the config. The engine takes ownership and closes it.
func WithProvider(provider ai.AIProvider) EngineOption {
	return func(o *engineOptions) {
		o.provider = provider
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithTextExtractor sets how document text is obtained at indexing time.
func WithTextExtractor(fn indexing.TextExtractor) EngineOption {
	return func(o *engineOptions) {
		o.extractor = fn
	}
}

// WithInMemoryStorage keeps everything in memory. Only the badger backend
// supports it; the configured path is ignored.
func WithInMemoryStorage() EngineOption {
	return func(o *engineOptions) {
		o.inMemory = true
	}
}

// Open builds an engine from cfg.
func Open(cfg *config.AppConfig, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		return nil, ErrConfigRequired
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	options := &engineOptions{}
	for _, opt := range opts {
		opt(options)
	}
	logger := options.logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{cfg: cfg, logger: logger}
	if err := e.openStorage(options.inMemory); err != nil {
		return nil, err
	}

	e.provider = options.provider
	if e.provider == nil {
		provider, err := openai.NewProvider(aiConfig(cfg))
		if err != nil {
			e.closeStorage()
			return nil, err
		}
		e.provider = provider
	}

	if err := e.build(options); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) openStorage(inMemory bool) error {
	var err error
	switch {
	case e.cfg.Storage.Backend == "sqlite" && !inMemory:
		var store *sqlite.Store
		e.documents, e.vectors, store, err = sqlite.NewStores(e.cfg.Storage.Path)
		e.backend = store
	case inMemory:
		var backend *badger.Backend
		e.documents, e.vectors, backend, err = badger.NewMemoryStores()
		e.backend = backend
	default:
		var backend *badger.Backend
		e.documents, e.vectors, backend, err = badger.NewStores(e.cfg.Storage.Path)
		e.backend = backend
	}
	return err
}

func (e *Engine) build(options *engineOptions) error {
	cfg := e.cfg
	embed, err := embedding.New(e.provider.Embedder(), cfg.AI.Dimensions,
		embedding.WithLogger(e.logger),
		embedding.WithBatchSize(cfg.AI.BatchSize),
		embedding.WithRetry(cfg.AI.MaxAttempts, embedding.DefaultBaseDelay),
		embedding.WithRateLimit(cfg.AI.RatePerSecond, cfg.AI.RateBurst),
	)
	if err != nil {
		return err
	}

	chunker, err := chunk.New(
		chunk.WithMinSize(cfg.Chunker.MinSize),
		chunk.WithMaxSize(cfg.Chunker.MaxSize),
		chunk.WithOverlap(cfg.Chunker.Overlap),
	)
	if err != nil {
		return err
	}

	indexerOpts := []indexing.Option{indexing.WithLogger(e.logger), indexing.WithChunker(chunker)}
	if options.extractor != nil {
		indexerOpts = append(indexerOpts, indexing.WithTextExtractor(options.extractor))
	}
	e.indexer, err = indexing.New(e.documents, e.vectors, embed, indexerOpts...)
	if err != nil {
		return err
	}

	ranker := lexical.NewRanker()
	retrieverOpts := []search.Option{
		search.WithLogger(e.logger),
		search.WithRanker(ranker),
		search.WithWeights(search.Weights{Vector: cfg.Retrieval.VectorWeight, Lexical: cfg.Retrieval.LexicalWeight}),
		search.WithLimits(cfg.Retrieval.VectorLimit, cfg.Retrieval.LexicalLimit),
		search.WithRerankTop(cfg.Retrieval.RerankTop),
		search.WithMaxPassagesPerDocument(cfg.Retrieval.MaxPassagesPerDocument),
	}
	if reranker := e.provider.Reranker(); reranker != nil {
		retrieverOpts = append(retrieverOpts, search.WithReranker(reranker))
	}
	if cfg.Retrieval.Browse {
		retrieverOpts = append(retrieverOpts, search.WithFallbacks(search.DefaultFallbacks()...))
	} else {
		retrieverOpts = append(retrieverOpts, search.WithFallbacks(search.KeywordFallback()))
	}
	if cfg.Lazy.Enabled {
		lazyOpts := []lazy.Option{
			lazy.WithCandidates(cfg.Lazy.Candidates),
			lazy.WithTimeout(cfg.Lazy.Timeout.Std()),
			lazy.WithRetryFailedAfter(cfg.Lazy.RetryFailedAfter.Std()),
			lazy.WithStaleClaimAfter(cfg.Lazy.StaleClaimAfter.Std()),
			lazy.WithRanker(ranker),
			lazy.WithLogger(e.logger),
		}
		if cfg.Lazy.PoolSize > 0 {
			lazyOpts = append(lazyOpts, lazy.WithPoolSize(cfg.Lazy.PoolSize))
		}
		e.trigger, err = lazy.New(e.indexer, lazyOpts...)
		if err != nil {
			return err
		}
		retrieverOpts = append(retrieverOpts, search.WithLazyTrigger(e.trigger))
	}
	e.retriever, err = search.NewRetriever(e.documents, e.vectors, embed, retrieverOpts...)
	if err != nil {
		return err
	}

	busOpts := []lifecycle.BusOption{lifecycle.WithBusLogger(e.logger)}
	if cfg.Lifecycle.AsyncPropagation {
		busOpts = append(busOpts, lifecycle.WithAsyncPropagation(cfg.Lifecycle.PoolSize))
	}
	e.bus, err = lifecycle.NewBus(busOpts...)
	if err != nil {
		return err
	}
	handler, err := lifecycle.NewVectorStoreHandler(e.vectors, e.logger)
	if err != nil {
		return err
	}
	e.bus.Subscribe(handler)
	e.manager, err = lifecycle.NewManager(e.documents, e.bus, lifecycle.WithLogger(e.logger))
	return err
}

func aiConfig(cfg *config.AppConfig) *ai.Config {
	opts := []ai.ConfigOption{
		ai.WithEmbeddingHost(cfg.AI.EmbeddingHost),
		ai.WithEmbeddingModel(cfg.AI.EmbeddingModel),
		ai.WithRerankerModel(cfg.AI.RerankerModel),
	}
	if cfg.AI.RerankerHost != "" {
		opts = append(opts, ai.WithRerankerHost(cfg.AI.RerankerHost))
	} else {
		opts = append(opts, ai.WithRerankerHost(cfg.AI.EmbeddingHost))
	}
	if key := cfg.APIKey(); key != "" {
		opts = append(opts, ai.WithAPIKey(key))
	}
	return ai.NewConfig(opts...)
}

// Retrieve answers query for requester. A topN of zero uses the configured default.
func (e *Engine) Retrieve(ctx context.Context, query string, requester core.Requester, topN int) (*search.Response, error) {
	if topN <= 0 {
		topN = e.cfg.Retrieval.TopN
	}
	return e.retriever.Retrieve(ctx, query, requester, topN)
}

// NewReembedder returns a re-embedding run over this engine's documents.
func (e *Engine) NewReembedder(scope reembed.Scope, progress io.Writer) (*reembed.Reembedder, error) {
	cfg := reembed.DefaultConfig()
	cfg.Scope = scope
	cfg.StaleClaimAfter = e.cfg.Lazy.StaleClaimAfter.Std()
	return reembed.NewReembedder(e.documents, e.indexer, cfg, progress, e.logger)
}

// Documents returns the document repository.
func (e *Engine) Documents() storage.DocumentRepository {
	return e.documents
}

// Vectors returns the vector store holding embedding records.
func (e *Engine) Vectors() storage.VectorStore {
	return e.vectors
}

// Indexer returns the indexer that embeds documents.
func (e *Engine) Indexer() *indexing.Indexer {
	return e.indexer
}

// Retriever returns the access-controlled retriever.
func (e *Engine) Retriever() *search.Retriever {
	return e.retriever
}

// Lifecycle returns the manager for registering, changing and deleting documents.
func (e *Engine) Lifecycle() *lifecycle.Manager {
	return e.manager
}

// Config returns the configuration the engine was opened with.
func (e *Engine) Config() *config.AppConfig {
	return e.cfg
}

// Close stops background work and releases storage and the AI provider.
func (e *Engine) Close() error {
	if e.bus != nil {
		e.bus.Release()
	}
	if e.trigger != nil {
		e.trigger.Release()
	}
	if e.provider != nil {
		if err := e.provider.Close(); err != nil {
			e.logger.Error("error closing AI provider", "err", err)
		}
	}
	return e.closeStorage()
}

func (e *Engine) closeStorage() error {
	var errs []error
	if e.documents != nil {
		errs = append(errs, e.documents.Close())
	}
	if e.vectors != nil {
		errs = append(errs, e.vectors.Close())
	}
	if e.backend != nil {
		if err := e.backend.Close(); err != nil {
			e.logger.Error("error closing backend storage", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
