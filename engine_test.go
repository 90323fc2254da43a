package clearance

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/clearance/ai/mock"
	"github.com/poiesic/clearance/config"
	"github.com/poiesic/clearance/core"
	"github.com/poiesic/clearance/reembed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, backend string) *config.AppConfig {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Backend = backend
	cfg.Storage.Path = filepath.Join(t.TempDir(), "clearance_db")
	cfg.AI.Dimensions = mock.DefaultDimensions
	cfg.AI.MaxAttempts = 1
	cfg.Chunker.MinSize = 20
	cfg.Chunker.MaxSize = 120
	return cfg
}

func openEngine(t *testing.T, cfg *config.AppConfig, opts ...EngineOption) *Engine {
	t.Helper()
	opts = append([]EngineOption{WithProvider(mock.NewMockProvider())}, opts...)
	e, err := Open(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestOpen(t *testing.T) {
	t.Run("badger", func(t *testing.T) {
		e := openEngine(t, testConfig(t, "badger"))
		assert.NotNil(t, e.Documents())
		assert.NotNil(t, e.Vectors())
		assert.NotNil(t, e.Indexer())
		assert.NotNil(t, e.Retriever())
		assert.NotNil(t, e.Lifecycle())
		assert.NotNil(t, e.trigger)
	})

	t.Run("sqlite", func(t *testing.T) {
		e := openEngine(t, testConfig(t, "sqlite"))
		assert.NotNil(t, e.Documents())
	})

	t.Run("lazy disabled", func(t *testing.T) {
		cfg := testConfig(t, "badger")
		cfg.Lazy.Enabled = false
		e := openEngine(t, cfg)
		assert.Nil(t, e.trigger)
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := Open(nil)
		assert.ErrorIs(t, err, ErrConfigRequired)
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig(t, "badger")
		cfg.Storage.Backend = "postgres"
		_, err := Open(cfg, WithProvider(mock.NewMockProvider()))
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})

	t.Run("error with invalid path", func(t *testing.T) {
		tmpFile := filepath.Join(t.TempDir(), "not_a_dir")
		require.NoError(t, os.WriteFile(tmpFile, []byte("test"), 0644))
		cfg := testConfig(t, "badger")
		cfg.Storage.Path = tmpFile

		e, err := Open(cfg, WithProvider(mock.NewMockProvider()))
		assert.Error(t, err)
		assert.Nil(t, e)
	})
}

func TestEngineClose(t *testing.T) {
	e, err := Open(testConfig(t, "badger"), WithProvider(mock.NewMockProvider()))
	require.NoError(t, err)
	assert.NoError(t, e.Close())
}

func TestEngineRetrieveEmbedsLazily(t *testing.T) {
	e := openEngine(t, testConfig(t, "badger"), WithInMemoryStorage())
	ctx := context.Background()

	public := core.AccessAttributes{Visibility: core.VisibilityPublic, Publication: core.PublicationApproved}
	hrOnly := core.AccessAttributes{Visibility: core.VisibilityRestricted, OwningUnit: "hr", Publication: core.PublicationApproved}
	added, err := e.Lifecycle().Register(ctx,
		&core.Document{Title: "Leave policy", Text: "Annual leave accrues monthly. Unused leave expires in March.", Access: public},
		&core.Document{Title: "Salary bands", Text: "Salary bands are reviewed every year by the leave committee.", Access: hrOnly},
	)
	require.NoError(t, err)

	resp, err := e.Retrieve(ctx, "unused leave", core.Anonymous(), 0)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	for _, r := range resp.Results {
		assert.Equal(t, added[0].Id, r.DocumentId, "anonymous sees public documents only")
	}
	assert.Contains(t, resp.Lazy.Embedded, added[0].Id)

	doc, err := e.Documents().GetDocument(ctx, added[0].Id)
	require.NoError(t, err)
	assert.Equal(t, core.EmbeddingDone, doc.EmbeddingState)
}

func TestEngineReranksWithProviderReranker(t *testing.T) {
	provider := mock.NewMockProviderWithServices(mock.NewMockEmbedder(), mock.NewMockReranker())
	e := openEngine(t, testConfig(t, "badger"), WithInMemoryStorage(), WithProvider(provider))
	ctx := context.Background()

	public := core.AccessAttributes{Visibility: core.VisibilityPublic, Publication: core.PublicationApproved}
	_, err := e.Lifecycle().Register(ctx,
		&core.Document{Title: "Expenses", Text: "Expense claims need a receipt and a manager signature.", Access: public})
	require.NoError(t, err)

	resp, err := e.Retrieve(ctx, "expense receipt", core.Anonymous(), 5)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, 1, provider.(*mock.MockProvider).GetMockReranker().CallCount())
}

func TestEngineAccessChangeHidesRecords(t *testing.T) {
	e := openEngine(t, testConfig(t, "badger"), WithInMemoryStorage())
	ctx := context.Background()

	public := core.AccessAttributes{Visibility: core.VisibilityPublic, Publication: core.PublicationApproved}
	added, err := e.Lifecycle().Register(ctx,
		&core.Document{Title: "Travel", Text: "Travel expenses need a receipt within thirty days.", Access: public})
	require.NoError(t, err)
	_, err = e.Retrieve(ctx, "travel receipt", core.Anonymous(), 5)
	require.NoError(t, err)

	_, err = e.Lifecycle().ChangeAccess(ctx, added[0].Id, core.AccessAttributes{
		Visibility: core.VisibilityRestricted, OwningUnit: "finance", Publication: core.PublicationApproved,
	})
	require.NoError(t, err)

	resp, err := e.Retrieve(ctx, "travel receipt", core.Anonymous(), 5)
	require.NoError(t, err)
	assert.Empty(t, resp.Results)

	member := core.Requester{Role: core.RoleUnitMember, UnitID: "finance", UserID: "u1"}
	resp, err = e.Retrieve(ctx, "travel receipt", member, 5)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Results)
}

func TestEngineReembedder(t *testing.T) {
	e := openEngine(t, testConfig(t, "badger"), WithInMemoryStorage())
	ctx := context.Background()

	public := core.AccessAttributes{Visibility: core.VisibilityPublic, Publication: core.PublicationApproved}
	_, err := e.Lifecycle().Register(ctx,
		&core.Document{Title: "One", Text: "The first handbook section covers onboarding.", Access: public},
		&core.Document{Title: "Two", Text: "The second handbook section covers offboarding.", Access: public},
	)
	require.NoError(t, err)

	var progress bytes.Buffer
	r, err := e.NewReembedder(reembed.ScopeMissing, &progress)
	require.NoError(t, err)
	summary, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Embedded)
}
