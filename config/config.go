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

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

var (
	// ErrUnsupportedFormat is returned for config files that are neither TOML nor YAML.
	ErrUnsupportedFormat = errors.New("unsupported config format")

	// ErrInvalidConfig is returned when a loaded config fails validation.
	ErrInvalidConfig = errors.New("invalid config")
)

// Duration is a time.Duration written as a string such as "30s" or "10m".
type Duration time.Duration

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// StorageConfig selects the document and vector store.
type StorageConfig struct {
	Backend string `toml:"backend" yaml:"backend"` // "badger" or "sqlite"
	Path    string `toml:"path" yaml:"path"`
}

// AIConfig configures the embedding and reranking backends.
type AIConfig struct {
	EmbeddingHost  string  `toml:"embedding_host" yaml:"embedding_host"`
	EmbeddingModel string  `toml:"embedding_model" yaml:"embedding_model"`
	RerankerHost   string  `toml:"reranker_host" yaml:"reranker_host"`
	RerankerModel  string  `toml:"reranker_model" yaml:"reranker_model"`
	APIKeyEnv      string  `toml:"api_key_env" yaml:"api_key_env"`
	Dimensions     int     `toml:"dimensions" yaml:"dimensions"`
	BatchSize      int     `toml:"batch_size" yaml:"batch_size"`
	MaxAttempts    int     `toml:"max_attempts" yaml:"max_attempts"`
	RatePerSecond  float64 `toml:"rate_per_second" yaml:"rate_per_second"`
	RateBurst      int     `toml:"rate_burst" yaml:"rate_burst"`
}

// ChunkerConfig bounds passage sizes.
type ChunkerConfig struct {
	MinSize int     `toml:"min_size" yaml:"min_size"`
	MaxSize int     `toml:"max_size" yaml:"max_size"`
	Overlap float64 `toml:"overlap" yaml:"overlap"`
}

// LazyConfig configures query-time embedding.
type LazyConfig struct {
	Enabled          bool     `toml:"enabled" yaml:"enabled"`
	Candidates       int      `toml:"candidates" yaml:"candidates"`
	PoolSize         int      `toml:"pool_size" yaml:"pool_size"`
	Timeout          Duration `toml:"timeout" yaml:"timeout"`
	RetryFailedAfter Duration `toml:"retry_failed_after" yaml:"retry_failed_after"`
	StaleClaimAfter  Duration `toml:"stale_claim_after" yaml:"stale_claim_after"`
}

// RetrievalConfig tunes hybrid search.
type RetrievalConfig struct {
	TopN                   int     `toml:"top_n" yaml:"top_n"`
	VectorLimit            int     `toml:"vector_limit" yaml:"vector_limit"`
	LexicalLimit           int     `toml:"lexical_limit" yaml:"lexical_limit"`
	RerankTop              int     `toml:"rerank_top" yaml:"rerank_top"`
	MaxPassagesPerDocument int     `toml:"max_passages_per_document" yaml:"max_passages_per_document"`
	VectorWeight           float64 `toml:"vector_weight" yaml:"vector_weight"`
	LexicalWeight          float64 `toml:"lexical_weight" yaml:"lexical_weight"`
	Browse                 bool    `toml:"browse" yaml:"browse"`
}

// LifecycleConfig selects how access changes reach the vector store.
type LifecycleConfig struct {
	AsyncPropagation bool `toml:"async_propagation" yaml:"async_propagation"`
	PoolSize         int  `toml:"pool_size" yaml:"pool_size"`
}

// ServerConfig configures the HTTP adapter.
type ServerConfig struct {
	Addr string `toml:"addr" yaml:"addr"`
}

// AppConfig is the root application configuration.
type AppConfig struct {
	Storage   StorageConfig   `toml:"storage" yaml:"storage"`
	AI        AIConfig        `toml:"ai" yaml:"ai"`
	Chunker   ChunkerConfig   `toml:"chunker" yaml:"chunker"`
	Lazy      LazyConfig      `toml:"lazy" yaml:"lazy"`
	Retrieval RetrievalConfig `toml:"retrieval" yaml:"retrieval"`
	Lifecycle LifecycleConfig `toml:"lifecycle" yaml:"lifecycle"`
	Server    ServerConfig    `toml:"server" yaml:"server"`
	LogLevel  string          `toml:"log_level" yaml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() *AppConfig {
	return &AppConfig{
		Storage: StorageConfig{Backend: "badger", Path: "clearance.db"},
		AI: AIConfig{
			EmbeddingHost:  "http://localhost:11434/v1",
			EmbeddingModel: "embeddinggemma",
			APIKeyEnv:      "CLEARANCE_API_KEY",
			Dimensions:     1024,
			BatchSize:      32,
			MaxAttempts:    3,
		},
		Chunker: ChunkerConfig{MinSize: 200, MaxSize: 1000, Overlap: 0.1},
		Lazy: LazyConfig{
			Enabled:          true,
			Candidates:       3,
			Timeout:          Duration(30 * time.Second),
			RetryFailedAfter: Duration(10 * time.Minute),
			StaleClaimAfter:  Duration(5 * time.Minute),
		},
		Retrieval: RetrievalConfig{
			TopN:                   10,
			VectorLimit:            50,
			LexicalLimit:           20,
			RerankTop:              10,
			MaxPassagesPerDocument: 3,
			VectorWeight:           0.7,
			LexicalWeight:          0.3,
			Browse:                 true,
		},
		Server:   ServerConfig{Addr: ":8080"},
		LogLevel: "info",
	}
}

// Load reads a TOML or YAML config, chosen by file extension, over the
// defaults. A missing file yields the defaults.
func Load(path string) (*AppConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv loads environment files into the process environment without
// overriding variables already set. Missing files are ignored; with no
// arguments ".env" is tried.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// APIKey returns the AI backend key from the configured environment variable.
func (c *AppConfig) APIKey() string {
	if c.AI.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.AI.APIKeyEnv)
}

// Validate checks the config for values no component accepts.
func (c *AppConfig) Validate() error {
	switch c.Storage.Backend {
	case "badger", "sqlite":
	default:
		return fmt.Errorf("%w: unknown storage backend %q", ErrInvalidConfig, c.Storage.Backend)
	}
	if c.AI.Dimensions <= 0 {
		return fmt.Errorf("%w: ai.dimensions must be positive", ErrInvalidConfig)
	}
	if c.Retrieval.VectorWeight < 0 || c.Retrieval.LexicalWeight < 0 || c.Retrieval.VectorWeight+c.Retrieval.LexicalWeight == 0 {
		return fmt.Errorf("%w: retrieval weights must be non-negative and not both zero", ErrInvalidConfig)
	}
	if c.Lazy.Enabled && (c.Lazy.Candidates <= 0 || c.Lazy.Timeout <= 0) {
		return fmt.Errorf("%w: lazy.candidates and lazy.timeout must be positive", ErrInvalidConfig)
	}
	return nil
}
