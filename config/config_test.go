package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "badger", cfg.Storage.Backend)
	assert.Equal(t, 3, cfg.Lazy.Candidates)
	assert.Equal(t, 30*time.Second, cfg.Lazy.Timeout.Std())
	assert.InDelta(t, 0.7, cfg.Retrieval.VectorWeight, 1e-9)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "clearance.toml", `
log_level = "debug"

[storage]
backend = "sqlite"
path = "/var/lib/clearance/db.sqlite"

[ai]
embedding_model = "nomic-embed-text"
dimensions = 768

[lazy]
enabled = true
candidates = 5
timeout = "2s"
retry_failed_after = "1h"

[retrieval]
vector_weight = 0.5
lexical_weight = 0.5
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "/var/lib/clearance/db.sqlite", cfg.Storage.Path)
	assert.Equal(t, "nomic-embed-text", cfg.AI.EmbeddingModel)
	assert.Equal(t, 768, cfg.AI.Dimensions)
	assert.Equal(t, 5, cfg.Lazy.Candidates)
	assert.Equal(t, 2*time.Second, cfg.Lazy.Timeout.Std())
	assert.Equal(t, time.Hour, cfg.Lazy.RetryFailedAfter.Std())
	assert.Equal(t, 5*time.Minute, cfg.Lazy.StaleClaimAfter.Std(), "unset keys keep defaults")
	assert.InDelta(t, 0.5, cfg.Retrieval.LexicalWeight, 1e-9)
	assert.Equal(t, "embeddinggemma", Default().AI.EmbeddingModel)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "clearance.yaml", `
storage:
  backend: badger
  path: data
lazy:
  enabled: false
  timeout: 500ms
retrieval:
  top_n: 4
  browse: false
server:
  addr: 127.0.0.1:9000
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "data", cfg.Storage.Path)
	assert.False(t, cfg.Lazy.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Lazy.Timeout.Std())
	assert.Equal(t, 4, cfg.Retrieval.TopN)
	assert.False(t, cfg.Retrieval.Browse)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
}

func TestLoadErrors(t *testing.T) {
	t.Run("unsupported extension", func(t *testing.T) {
		_, err := Load(writeFile(t, "clearance.ini", "x=1"))
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("bad duration", func(t *testing.T) {
		_, err := Load(writeFile(t, "clearance.toml", "[lazy]\ntimeout = \"soon\"\n"))
		assert.Error(t, err)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := Load(writeFile(t, "clearance.yml", "storage:\n  backend: postgres\n"))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("zero weights", func(t *testing.T) {
		_, err := Load(writeFile(t, "clearance.toml", "[retrieval]\nvector_weight = 0.0\nlexical_weight = 0.0\n"))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestLoadEnvAndAPIKey(t *testing.T) {
	envFile := writeFile(t, ".env", "CLEARANCE_TEST_KEY=from-dotenv\n")
	t.Setenv("CLEARANCE_TEST_KEY", "")
	os.Unsetenv("CLEARANCE_TEST_KEY")

	require.NoError(t, LoadEnv(envFile))
	cfg := Default()
	cfg.AI.APIKeyEnv = "CLEARANCE_TEST_KEY"
	assert.Equal(t, "from-dotenv", cfg.APIKey())

	cfg.AI.APIKeyEnv = ""
	assert.Empty(t, cfg.APIKey())
}

func TestLoadEnvDoesNotOverride(t *testing.T) {
	envFile := writeFile(t, ".env", "CLEARANCE_TEST_OVERRIDE=file\n")
	t.Setenv("CLEARANCE_TEST_OVERRIDE", "process")

	require.NoError(t, LoadEnv(envFile))
	assert.Equal(t, "process", os.Getenv("CLEARANCE_TEST_OVERRIDE"))
}

func TestLoadEnvMissingFileIgnored(t *testing.T) {
	assert.NoError(t, LoadEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Std())
	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))
}
