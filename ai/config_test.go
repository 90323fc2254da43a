package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
	assert.Equal(t, "http://localhost:11434/v1", cfg.RerankerHost)
	assert.Equal(t, "embeddinggemma", cfg.EmbeddingModel)
	assert.Empty(t, cfg.RerankerModel)
	assert.Equal(t, "none", cfg.APIKey)
	assert.False(t, cfg.RerankingEnabled())
}

func TestNewConfig(t *testing.T) {
	t.Run("with no options", func(t *testing.T) {
		cfg := NewConfig()

		assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
		assert.Equal(t, "http://localhost:11434/v1", cfg.RerankerHost)
	})

	t.Run("with custom host", func(t *testing.T) {
		cfg := NewConfig(WithHost("http://custom:8080/v1"))

		assert.Equal(t, "http://custom:8080/v1", cfg.EmbeddingHost)
		assert.Equal(t, "http://custom:8080/v1", cfg.RerankerHost)
	})

	t.Run("with separate hosts", func(t *testing.T) {
		cfg := NewConfig(
			WithEmbeddingHost("http://embed:8080/v1"),
			WithRerankerHost("http://rerank:9090/v1"),
		)

		assert.Equal(t, "http://embed:8080/v1", cfg.EmbeddingHost)
		assert.Equal(t, "http://rerank:9090/v1", cfg.RerankerHost)
	})

	t.Run("with custom models", func(t *testing.T) {
		cfg := NewConfig(
			WithEmbeddingModel("text-embedding-3-small"),
			WithRerankerModel("gpt-4o-mini"),
			WithAPIKey("sk-test"),
		)

		assert.Equal(t, "text-embedding-3-small", cfg.EmbeddingModel)
		assert.Equal(t, "gpt-4o-mini", cfg.RerankerModel)
		assert.Equal(t, "sk-test", cfg.APIKey)
		assert.True(t, cfg.RerankingEnabled())
	})
}

func TestConfigNormalize(t *testing.T) {
	tests := []struct {
		name string
		host string
		want string
	}{
		{"already normalized", "http://localhost:11434/v1", "http://localhost:11434/v1"},
		{"missing suffix", "http://localhost:11434", "http://localhost:11434/v1"},
		{"trailing slash", "http://localhost:11434/", "http://localhost:11434/v1"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{EmbeddingHost: tt.host, RerankerHost: tt.host}
			cfg.Normalize()

			assert.Equal(t, tt.want, cfg.EmbeddingHost)
			assert.Equal(t, tt.want, cfg.RerankerHost)
			assert.Equal(t, "none", cfg.APIKey)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr string
	}{
		{
			name: "defaults are valid",
			cfg:  DefaultConfig(),
		},
		{
			name:    "missing embedding host",
			cfg:     &Config{EmbeddingModel: "m"},
			wantErr: "EmbeddingHost is required",
		},
		{
			name:    "missing embedding model",
			cfg:     &Config{EmbeddingHost: "http://h/v1"},
			wantErr: "EmbeddingModel is required",
		},
		{
			name:    "reranker model without host",
			cfg:     &Config{EmbeddingHost: "http://h/v1", EmbeddingModel: "m", RerankerModel: "r"},
			wantErr: "RerankerHost is required",
		},
		{
			name: "reranker fully configured",
			cfg:  NewConfig(WithRerankerModel("qwen2.5:3b")),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateNormalizesHosts(t *testing.T) {
	cfg := NewConfig(WithHost("http://localhost:11434"))
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
}
