package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/poiesic/clearance/core"
	"github.com/poiesic/clearance/storage"
)

// Manager applies document changes and announces them on a Bus.
type Manager struct {
	documents storage.DocumentRepository
	bus       *Bus
	logger    *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		if logger == nil {
			logger = slog.Default()
		}
		m.logger = logger
		return nil
	}
}

// NewManager creates a lifecycle manager.
func NewManager(documents storage.DocumentRepository, bus *Bus, opts ...Option) (*Manager, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if bus == nil {
		return nil, ErrBusRequired
	}
	m := &Manager{documents: documents, bus: bus, logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	m.logger = m.logger.With("component", "lifecycle")
	return m, nil
}

// Register stores new documents. They start not embedded; a query or a
// re-embedding run embeds them later.
func (m *Manager) Register(ctx context.Context, docs ...*core.Document) ([]*core.Document, error) {
	for _, doc := range docs {
		if err := core.ValidateDocument(doc); err != nil {
			return nil, err
		}
		doc.EmbeddingState = core.EmbeddingNotEmbedded
	}
	added, err := m.documents.AddDocuments(ctx, docs...)
	if err != nil {
		return nil, err
	}
	for _, doc := range added {
		if err := m.publish(ctx, EventRegistered, doc.Id, doc.Access, core.AccessAttributes{}); err != nil {
			return added, err
		}
	}
	return added, nil
}

// ChangeAccess replaces a document's access attributes and propagates them
// to its embedding records. An unchanged attribute set is a no-op.
func (m *Manager) ChangeAccess(ctx context.Context, id core.ID, attrs core.AccessAttributes) (*core.Document, error) {
	if err := core.ValidateAccessAttributes(attrs); err != nil {
		return nil, err
	}
	before, err := m.documents.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if before.Access == attrs {
		return before, nil
	}

	doc, err := m.documents.UpdateAccess(ctx, id, attrs)
	if err != nil {
		return nil, err
	}
	m.logger.Info("access changed", "documentID", id,
		"visibility", attrs.Visibility, "publication", attrs.Publication, "unit", attrs.OwningUnit)
	return doc, m.publish(ctx, EventAccessChanged, id, attrs, before.Access)
}

// Delete removes a document. Its embedding records are removed first, so a
// failure leaves the document in place rather than orphaning records.
func (m *Manager) Delete(ctx context.Context, id core.ID) error {
	doc, err := m.documents.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if err := m.publish(ctx, EventDeleted, id, doc.Access, doc.Access); err != nil {
		return err
	}
	if err := m.documents.DeleteDocument(ctx, id); err != nil {
		return err
	}
	m.logger.Info("document deleted", "documentID", id)
	return nil
}

// RequestReembed marks a document not embedded so its next query or
// re-embedding run rebuilds its records. Existing records stay searchable
// until they are replaced.
func (m *Manager) RequestReembed(ctx context.Context, id core.ID) error {
	doc, err := m.documents.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if err := m.documents.ResetEmbedding(ctx, id); err != nil {
		return err
	}
	return m.publish(ctx, EventReembedRequested, id, doc.Access, doc.Access)
}

func (m *Manager) publish(ctx context.Context, kind EventKind, id core.ID, attrs, previous core.AccessAttributes) error {
	return m.bus.Publish(ctx, Event{
		Kind:       kind,
		DocumentID: id,
		Access:     attrs,
		Previous:   previous,
		At:         time.Now().UTC(),
	})
}
