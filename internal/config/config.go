// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	rolecast "github.com/eugener/rolecast/internal"
)

// Config is the top-level rolecast configuration.
type Config struct {
	Server     ServerConfig    `yaml:"server"`
	Database   DatabaseConfig  `yaml:"database"`
	LLM        LLMConfig       `yaml:"llm"`
	Retrieval  RetrievalConfig `yaml:"retrieval"`
	Chat       ChatConfig      `yaml:"chat"`
	RateLimits RateLimitConfig `yaml:"rate_limits"`
	Cache      CacheConfig     `yaml:"cache"`
	Telemetry  TelemetryConfig `yaml:"telemetry"`
	Books      []BookEntry     `yaml:"books"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN           string `yaml:"dsn"`             // file path or ":memory:"
	LastAuditPath string `yaml:"last_audit_path"` // newest audit record as JSON; empty disables
}

// LLMConfig configures the OpenAI-compatible provider and the credential
// pool.
type LLMConfig struct {
	BaseURL              string        `yaml:"base_url"`
	APIKeys              KeyList       `yaml:"api_keys"`
	Model                string        `yaml:"model"`
	LongContextModel     string        `yaml:"long_context_model"`
	LongContextThreshold int           `yaml:"long_context_threshold"`
	MaxTokens            int           `yaml:"max_tokens"` // conversation budget
	Temperature          float64       `yaml:"temperature"`
	TopP                 float64       `yaml:"top_p"`
	MinInterval          time.Duration `yaml:"min_interval"` // spacing between uses of one key
	QuarantineCooldown   time.Duration `yaml:"quarantine_cooldown"`
	SystemPrompt         string        `yaml:"system_prompt"`
	EmbeddingModel       string        `yaml:"embedding_model"`
	EmbedBatch           int           `yaml:"embed_batch"`
	Encoding             string        `yaml:"encoding"` // tokenizer model or encoding name
}

// RetrievalConfig controls vector search and context assembly.
type RetrievalConfig struct {
	K                int `yaml:"k"`
	MaxContextTokens int `yaml:"max_context_tokens"`
	ChunkTokens      int `yaml:"chunk_tokens"` // index chunk size
}

// ChatConfig controls admission and extraction retries.
type ChatConfig struct {
	Concurrency   int           `yaml:"concurrency"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBase     time.Duration `yaml:"retry_base"`
}

// RateLimitConfig holds per-caller limits for the chat endpoints.
type RateLimitConfig struct {
	RPM int64 `yaml:"rpm"` // requests per minute per caller (0 = unlimited)
	TPM int64 `yaml:"tpm"` // query tokens per minute per caller (0 = unlimited)
}

// CacheConfig holds query embedding cache settings.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	MaxSize int           `yaml:"max_size"`
	TTL     time.Duration `yaml:"ttl"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// BookEntry names a book that can be chatted with.
type BookEntry struct {
	Name  string            `yaml:"name"`
	Index string            `yaml:"index"` // defaults to Name
	Path  string            `yaml:"path"`  // book JSON, used by the index command
	Roles map[string]string `yaml:"roles"` // role name -> character description
}

// IndexName returns the vector index of the book.
func (b BookEntry) IndexName() string {
	if b.Index != "" {
		return b.Index
	}
	return b.Name
}

// Book returns the entry named name.
func (c *Config) Book(name string) (BookEntry, bool) {
	for _, b := range c.Books {
		if b.Name == name {
			return b, true
		}
	}
	return BookEntry{}, false
}

// Resolve maps a book and role to the vector index and the character
// description. Without configured books every name is its own index and
// roles have no description.
func (c *Config) Resolve(book, role string) (index, description string, err error) {
	if len(c.Books) == 0 {
		return book, "", nil
	}
	b, ok := c.Book(book)
	if !ok {
		return "", "", fmt.Errorf("book %q: %w", book, rolecast.ErrNotFound)
	}
	return b.IndexName(), b.Roles[role], nil
}

// KeyList is a list of API keys. In YAML it is either a sequence or a
// comma-separated string, so that a single ${API_KEYS} variable can carry
// the whole pool.
type KeyList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (k *KeyList) UnmarshalYAML(value *yaml.Node) error {
	var raw []string
	switch value.Kind {
	case yaml.ScalarNode:
		raw = strings.Split(value.Value, ",")
	case yaml.SequenceNode:
		if err := value.Decode(&raw); err != nil {
			return err
		}
	default:
		return fmt.Errorf("line %d: api_keys must be a string or a list", value.Line)
	}
	keys := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			keys = append(keys, s)
		}
	}
	*k = keys
	return nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Default returns the configuration used for fields a file leaves unset.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "rolecast.db",
		},
		LLM: LLMConfig{
			BaseURL:              "https://api.openai.com/v1",
			Model:                "gpt-3.5-turbo-0613",
			LongContextModel:     "gpt-3.5-turbo-16k-0613",
			LongContextThreshold: 3000,
			MaxTokens:            16000,
			Temperature:          0.9,
			TopP:                 1,
			MinInterval:          20 * time.Second,
			QuarantineCooldown:   24 * time.Hour,
			EmbeddingModel:       "text-embedding-ada-002",
			EmbedBatch:           256,
			Encoding:             "cl100k_base",
		},
		Retrieval: RetrievalConfig{
			K:                25,
			MaxContextTokens: 8000,
			ChunkTokens:      512,
		},
		Chat: ChatConfig{
			Concurrency:   50,
			RetryAttempts: 1,
			RetryBase:     time.Second,
		},
		RateLimits: RateLimitConfig{
			RPM: 60,
		},
		Cache: CacheConfig{
			Enabled: true,
			MaxSize: 10_000,
			TTL:     time.Hour,
		},
	}
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if len(c.LLM.APIKeys) == 0 {
		errs = append(errs, errors.New("llm.api_keys: at least one key is required"))
	}
	if c.LLM.BaseURL == "" {
		errs = append(errs, errors.New("llm.base_url is required"))
	}
	if c.LLM.MinInterval < 0 {
		errs = append(errs, errors.New("llm.min_interval must not be negative"))
	}
	if s := c.Telemetry.Tracing.SampleRate; s < 0 || s > 1 {
		errs = append(errs, fmt.Errorf("telemetry.tracing.sample_rate %v out of range [0, 1]", s))
	}
	seen := make(map[string]bool, len(c.Books))
	for i, b := range c.Books {
		switch {
		case b.Name == "":
			errs = append(errs, fmt.Errorf("books[%d]: name is required", i))
		case seen[b.Name]:
			errs = append(errs, fmt.Errorf("books[%d]: duplicate name %q", i, b.Name))
		}
		seen[b.Name] = true
	}
	return errors.Join(errs...)
}
