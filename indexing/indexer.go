package indexing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/clearance/chunk"
	"github.com/poiesic/clearance/core"
	"github.com/poiesic/clearance/embedding"
	"github.com/poiesic/clearance/storage"
)

// TextExtractor supplies the text of a document stored without it, usually
// by extracting it from the original file.
type TextExtractor func(ctx context.Context, doc *core.Document) (string, error)

// Result describes a finished indexing job.
type Result struct {
	DocumentID core.ID
	Passages   int
}

// Indexer runs the embedding job for one document: chunk its text, embed the
// passages, replace its records in the vector store and record the outcome
// on the document.
type Indexer struct {
	documents storage.DocumentRepository
	vectors   storage.VectorStore
	embed     *embedding.Function
	chunker   *chunk.Chunker
	extract   TextExtractor
	logger    *slog.Logger
}

// Option configures an Indexer.
type Option func(*Indexer) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Indexer) error {
		if logger == nil {
			logger = slog.Default()
		}
		ix.logger = logger
		return nil
	}
}

// WithChunker replaces the default chunker.
func WithChunker(c *chunk.Chunker) Option {
	return func(ix *Indexer) error {
		if c == nil {
			return errors.New("chunker must not be nil")
		}
		ix.chunker = c
		return nil
	}
}

// WithTextExtractor sets the callback used for documents without text.
func WithTextExtractor(fn TextExtractor) Option {
	return func(ix *Indexer) error {
		ix.extract = fn
		return nil
	}
}

// New creates an Indexer.
func New(documents storage.DocumentRepository, vectors storage.VectorStore, embed *embedding.Function, opts ...Option) (*Indexer, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}
	if embed == nil {
		return nil, ErrEmbeddingRequired
	}

	chunker, err := chunk.New()
	if err != nil {
		return nil, err
	}
	ix := &Indexer{
		documents: documents,
		vectors:   vectors,
		embed:     embed,
		chunker:   chunker,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(ix); err != nil {
			return nil, err
		}
	}
	ix.logger = ix.logger.With("component", "indexer")
	return ix, nil
}

// ClaimAndIndex claims the document under policy and indexes it. It returns
// ErrNotClaimed without doing any work when the claim is refused.
func (ix *Indexer) ClaimAndIndex(ctx context.Context, id core.ID, policy storage.ClaimPolicy) (Result, error) {
	doc, claimed, err := ix.documents.ClaimEmbedding(ctx, id, policy)
	if err != nil {
		return Result{DocumentID: id}, err
	}
	if !claimed {
		return Result{DocumentID: id}, fmt.Errorf("%w: state %s", ErrNotClaimed, doc.EmbeddingState)
	}
	return ix.Index(ctx, doc)
}

// Index embeds a document the caller has already claimed. On failure the
// document is marked failed and no records are written; on success it is
// marked embedded with its passage count.
//
// The outcome is recorded even if ctx is cancelled, so a claim is never left
// dangling by a caller that gave up.
func (ix *Indexer) Index(ctx context.Context, doc *core.Document) (Result, error) {
	result := Result{DocumentID: doc.Id}
	logger := ix.logger.With("documentID", doc.Id)

	passages, err := ix.index(ctx, doc)
	if errors.Is(err, ErrDocumentGone) {
		logger.Info("document deleted while indexing")
		return result, err
	}

	persist := context.WithoutCancel(ctx)
	if err != nil {
		logger.Warn("indexing failed", "err", err)
		if cerr := ix.documents.CompleteEmbedding(persist, doc.Id, 0, err); cerr != nil {
			logger.Error("error recording failed embedding", "err", cerr)
		}
		return result, err
	}

	if err := ix.documents.CompleteEmbedding(persist, doc.Id, passages, nil); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Deleted after reconcile: the records just written are orphans.
			if _, derr := ix.vectors.DeleteRecords(persist, doc.Id); derr != nil {
				logger.Error("error removing records of deleted document", "err", derr)
			}
			logger.Info("document deleted while indexing")
			return result, ErrDocumentGone
		}
		logger.Error("error recording embedding", "err", err)
		return result, err
	}
	result.Passages = passages
	logger.Debug("document indexed", "passages", passages)
	return result, nil
}

func (ix *Indexer) index(ctx context.Context, doc *core.Document) (int, error) {
	text := doc.Text
	if strings.TrimSpace(text) == "" && ix.extract != nil {
		extracted, err := ix.extract(ctx, doc)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrExtraction, err)
		}
		text = extracted
	}

	passages := ix.chunker.Chunk(doc.Id, text)
	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}
	vectors, err := ix.embed.Embed(ctx, texts)
	if err != nil {
		return 0, err
	}

	// Stamp records with the attributes the document has now, not the ones
	// it had when the job was claimed.
	current, err := ix.current(ctx, doc.Id)
	if err != nil {
		return 0, err
	}
	if err := ix.vectors.Upsert(ctx, doc.Id, passages, vectors, current.Access); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, ErrDocumentGone
		}
		return 0, err
	}

	if err := ix.reconcile(ctx, doc.Id, current.Access); err != nil {
		return 0, err
	}
	return len(passages), nil
}

// reconcile re-reads the document after the upsert and repairs any access
// change or deletion that landed while the records were being written.
func (ix *Indexer) reconcile(ctx context.Context, id core.ID, written core.AccessAttributes) error {
	after, err := ix.current(ctx, id)
	if errors.Is(err, ErrDocumentGone) {
		if _, derr := ix.vectors.DeleteRecords(context.WithoutCancel(ctx), id); derr != nil {
			return derr
		}
		return err
	}
	if err != nil {
		return err
	}
	if after.Access != written {
		ix.logger.Info("access attributes changed during indexing, resyncing", "documentID", id)
		if _, err := ix.vectors.SyncAccessAttributes(ctx, id, after.Access); err != nil {
			return err
		}
	}
	return nil
}

func (ix *Indexer) current(ctx context.Context, id core.ID) (*core.Document, error) {
	doc, err := ix.documents.GetDocument(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrDocumentGone
	}
	return doc, err
}
