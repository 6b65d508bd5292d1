package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// InferenceConfig configures the Ollama-compatible model server and the
// models used for embedding and generation.
type InferenceConfig struct {
	BaseURL         string   `yaml:"base_url"`
	EmbeddingModel  string   `yaml:"embedding_model"`
	GenerationModel string   `yaml:"generation_model"`
	Temperature     *float64 `yaml:"temperature,omitempty"`
	TimeoutSecs     int      `yaml:"timeout_secs"`
	PullSettleSecs  int      `yaml:"pull_settle_secs"`
	LoadRetrySecs   int      `yaml:"load_retry_secs"`
	// EmbedConcurrency caps in-flight embedding requests per batch; <= 0 is unbounded.
	EmbedConcurrency int `yaml:"embed_concurrency"`
}

// ChunkerConfig configures how documents are split into passages.
type ChunkerConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type   string        `yaml:"type"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// QueryConfig bounds the number of passages retrieved per question.
type QueryConfig struct {
	DefaultTopK int `yaml:"default_top_k"`
	MaxTopK     int `yaml:"max_top_k"`
}

// ServerConfig configures the HTTP front door.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Inference   InferenceConfig   `yaml:"inference"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Query       QueryConfig       `yaml:"query"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// Environment overrides are applied on top of the file either way.
func Load(path string) (*AppConfig, error) {
	cfg := &AppConfig{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg = defaultConfig()
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	applyConfigDefaults(cfg)
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/docqa/config.yaml.
// If neither exists, it writes defaults to ~/.config/docqa/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	if err := Save(userPath, defaultConfig()); err != nil {
		return nil, "", err
	}
	cfg, err := Load(userPath)
	return cfg, userPath, err
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv overrides file values with the deployment's environment variables.
func (c *AppConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := cast.ToIntE(v)
		if err != nil {
			return fmt.Errorf("env %s=%q: %w", key, v, err)
		}
		*dst = n
		return nil
	}

	str("OLLAMA_BASE_URL", &c.Inference.BaseURL)
	str("OLLAMA_MODEL", &c.Inference.GenerationModel)
	str("EMBEDDING_MODEL", &c.Inference.EmbeddingModel)
	if err := num("CHUNK_SIZE", &c.Chunker.ChunkSize); err != nil {
		return err
	}
	if err := num("CHUNK_OVERLAP", &c.Chunker.ChunkOverlap); err != nil {
		return err
	}
	str("LOG_LEVEL", &c.Log.Level)

	if c.VectorStore.Qdrant == nil {
		c.VectorStore.Qdrant = &QdrantConfig{}
	}
	q := c.VectorStore.Qdrant
	host, hasHost := lookup("QDRANT_HOST")
	if hasHost && host != "" {
		port := "6333"
		if p, ok := lookup("QDRANT_PORT"); ok && p != "" {
			if _, err := cast.ToIntE(p); err != nil {
				return fmt.Errorf("env QDRANT_PORT=%q: %w", p, err)
			}
			port = p
		}
		q.URL = "http://" + net.JoinHostPort(host, port)
	}
	str("QDRANT_URL", &q.URL)
	str("QDRANT_COLLECTION", &q.Collection)
	str("QDRANT_API_KEY", &q.APIKey)
	return nil
}

// Validate rejects configurations the components cannot run with.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Chunker.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunker.chunk_size must be positive, got %d", c.Chunker.ChunkSize))
	}
	if c.Chunker.ChunkOverlap < 0 {
		errs = append(errs, fmt.Errorf("chunker.chunk_overlap must not be negative, got %d", c.Chunker.ChunkOverlap))
	}
	if c.Chunker.ChunkSize > 0 && c.Chunker.ChunkOverlap >= c.Chunker.ChunkSize {
		errs = append(errs, fmt.Errorf("chunker.chunk_overlap (%d) must be smaller than chunk_size (%d)",
			c.Chunker.ChunkOverlap, c.Chunker.ChunkSize))
	}
	switch c.VectorStore.Type {
	case "memory", "qdrant":
	default:
		errs = append(errs, fmt.Errorf("vector_store.type %q is not one of memory, qdrant", c.VectorStore.Type))
	}
	if c.Query.MaxTopK > TopKLimit {
		errs = append(errs, fmt.Errorf("query.max_top_k must be at most %d, got %d", TopKLimit, c.Query.MaxTopK))
	}
	if c.Query.MaxTopK < c.Query.DefaultTopK {
		errs = append(errs, fmt.Errorf("query.default_top_k (%d) exceeds max_top_k (%d)", c.Query.DefaultTopK, c.Query.MaxTopK))
	}
	if t := c.Temperature(); t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("inference.temperature must be within [0, 2], got %g", t))
	}
	return errors.Join(errs...)
}

// Temperature returns the configured sampling temperature or the default.
func (c *AppConfig) Temperature() float64 {
	if c.Inference.Temperature == nil {
		return DefaultTemperature
	}
	return *c.Inference.Temperature
}

// Timeout bounds a single inference request.
func (c InferenceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

func (c InferenceConfig) PullSettle() time.Duration {
	return time.Duration(c.PullSettleSecs) * time.Second
}

func (c InferenceConfig) LoadRetry() time.Duration {
	return time.Duration(c.LoadRetrySecs) * time.Second
}

func (c QdrantConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// TopKLimit is the largest number of passages a query may retrieve.
const TopKLimit = 10

// DefaultTemperature matches the sampling temperature of the generation client.
const DefaultTemperature = 0.7

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "docqa", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	temp := DefaultTemperature
	cfg := &AppConfig{
		Inference: InferenceConfig{
			BaseURL:          "http://localhost:11434",
			EmbeddingModel:   "nomic-embed-text",
			GenerationModel:  "llama2",
			Temperature:      &temp,
			TimeoutSecs:      120,
			PullSettleSecs:   2,
			LoadRetrySecs:    3,
			EmbedConcurrency: 8,
		},
		Chunker: ChunkerConfig{ChunkSize: 1000, ChunkOverlap: 200},
		VectorStore: VectorStoreConfig{
			Type:   "qdrant",
			Qdrant: &QdrantConfig{URL: "http://localhost:6333", Collection: "documents", TimeoutSecs: 15},
		},
		Query:  QueryConfig{DefaultTopK: 5, MaxTopK: 10},
		Server: ServerConfig{Addr: ":7860", MaxUploadBytes: 10 << 20},
		Log:    LogConfig{Level: "info"},
	}
	return cfg
}

// applyConfigDefaults fills values a partial YAML file left unset. Chunk
// overlap and embed concurrency are left alone since zero is meaningful.
func applyConfigDefaults(cfg *AppConfig) {
	d := defaultConfig()
	in := &cfg.Inference
	if in.BaseURL == "" {
		in.BaseURL = d.Inference.BaseURL
	}
	if in.EmbeddingModel == "" {
		in.EmbeddingModel = d.Inference.EmbeddingModel
	}
	if in.GenerationModel == "" {
		in.GenerationModel = d.Inference.GenerationModel
	}
	if in.TimeoutSecs == 0 {
		in.TimeoutSecs = d.Inference.TimeoutSecs
	}
	if in.PullSettleSecs == 0 {
		in.PullSettleSecs = d.Inference.PullSettleSecs
	}
	if in.LoadRetrySecs == 0 {
		in.LoadRetrySecs = d.Inference.LoadRetrySecs
	}
	if cfg.Chunker.ChunkSize == 0 {
		if cfg.Chunker.ChunkOverlap == 0 {
			cfg.Chunker.ChunkOverlap = d.Chunker.ChunkOverlap
		}
		cfg.Chunker.ChunkSize = d.Chunker.ChunkSize
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = d.VectorStore.Type
	}
	if cfg.VectorStore.Qdrant == nil {
		cfg.VectorStore.Qdrant = &QdrantConfig{}
	}
	q := cfg.VectorStore.Qdrant
	if q.URL == "" {
		q.URL = d.VectorStore.Qdrant.URL
	}
	if q.Collection == "" {
		q.Collection = d.VectorStore.Qdrant.Collection
	}
	if q.TimeoutSecs == 0 {
		q.TimeoutSecs = d.VectorStore.Qdrant.TimeoutSecs
	}
	if cfg.Query.DefaultTopK == 0 {
		cfg.Query.DefaultTopK = d.Query.DefaultTopK
	}
	if cfg.Query.MaxTopK == 0 {
		cfg.Query.MaxTopK = d.Query.MaxTopK
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = d.Server.Addr
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = d.Server.MaxUploadBytes
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
}
