package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the cceval configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Corpus     CorpusConfig     `yaml:"corpus"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Batch      BatchConfig      `yaml:"batch"`
	Index      IndexConfig      `yaml:"index"`
	Report     ReportConfig     `yaml:"report"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds login-token settings.
type AuthConfig struct {
	Tokens          []string `yaml:"tokens"`           // allow-list; empty accepts any non-empty token
	DeveloperPrefix string   `yaml:"developer_prefix"` // token prefix for the Developer role
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int   `yaml:"port"`
	ReadTimeoutSec  int   `yaml:"read_timeout_sec"`
	WriteTimeoutSec int   `yaml:"write_timeout_sec"`
	ShutdownSec     int   `yaml:"shutdown_timeout_sec"`
	MaxUploadMB     int64 `yaml:"max_upload_mb"`
}

// DatabaseConfig holds KV store connection settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // memory, redis, valkey (default: memory)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	MemoryEntries    int      `yaml:"memory_entries"`
}

// EmbeddingConfig holds embedding settings.
type EmbeddingConfig struct {
	Providers   map[string]ProviderConfig   `yaml:"providers"`
	Vectorizers map[string]VectorizerConfig `yaml:"vectorizers"`
}

// BudgetConfig holds token budget settings.
type BudgetConfig struct {
	DailyTokenLimit   int64  `yaml:"daily_token_limit"`   // 0 = unlimited
	MonthlyTokenLimit int64  `yaml:"monthly_token_limit"` // 0 = unlimited
	Action            string `yaml:"action"`              // "reject" | "warn" (default)
}

// ProviderConfig holds OpenAI-compatible provider settings.
type ProviderConfig struct {
	APIKey  string       `yaml:"api_key"`
	BaseURL string       `yaml:"base_url"`
	Budget  BudgetConfig `yaml:"budget"`
}

// VectorizerConfig holds vectorizer settings.
type VectorizerConfig struct {
	Provider            string `yaml:"provider"`
	Model               string `yaml:"model"`
	Dimensions          int    `yaml:"dimensions"`
	DocumentInstruction string `yaml:"document_instruction"`
	QueryInstruction    string `yaml:"query_instruction"`
}

// GenerationConfig holds chat-completion settings. Credentials come from
// embedding.providers[provider].
type GenerationConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	MaxRetries  uint64  `yaml:"max_retries"`
	RetryBaseMS int     `yaml:"retry_base_ms"`
}

// CorpusConfig locates the standard, historical and uploaded documents.
type CorpusConfig struct {
	StandardParts          []string `yaml:"standard_parts"`
	HistoricalDir          string   `yaml:"historical_dir"`
	WorkUnitsSource        string   `yaml:"workunits_source"`
	DeveloperActionsSource string   `yaml:"developer_actions_source"`
	UploadsDir             string   `yaml:"uploads_dir"`
	ChunkSize              int      `yaml:"chunk_size"`
	ChunkOverlap           int      `yaml:"chunk_overlap"`
}

// RetrievalConfig holds per-query retrieval settings.
type RetrievalConfig struct {
	TopK          int    `yaml:"top_k"`
	ContextTokens int    `yaml:"context_tokens"`
	Encoding      string `yaml:"encoding"`
}

// BatchConfig holds batch evaluation settings.
type BatchConfig struct {
	Workers          int `yaml:"workers"`
	RecordTimeoutSec int `yaml:"record_timeout_sec"`
}

// IndexConfig holds index build settings.
type IndexConfig struct {
	BuildTimeoutSec int `yaml:"build_timeout_sec"`
	EmbedBatchSize  int `yaml:"embed_batch_size"`
}

// ReportConfig holds report artifact settings.
type ReportConfig struct {
	Dir    string `yaml:"dir"`
	Format string `yaml:"format"` // pdf, json
}

// SessionsConfig holds interactive session settings.
type SessionsConfig struct {
	MaxActive int `yaml:"max_active"` // least recently used sessions are dropped beyond it
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	KeyPrefix string `yaml:"key_prefix"`
}

// StandardPartCount is the number of CC standard parts indexed at startup.
const StandardPartCount = 5

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse decodes YAML config bytes, substitutes env variables, applies
// defaults and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 600 // reports are generated synchronously
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.MaxUploadMB <= 0 {
		c.HTTP.MaxUploadMB = 64
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "memory"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Database.MemoryEntries <= 0 {
		c.Database.MemoryEntries = 100000
	}
	if c.Auth.DeveloperPrefix == "" {
		c.Auth.DeveloperPrefix = "dev"
	}
	if c.Generation.MaxRetries == 0 {
		c.Generation.MaxRetries = 3
	}
	if c.Generation.RetryBaseMS <= 0 {
		c.Generation.RetryBaseMS = 500
	}
	if len(c.Corpus.StandardParts) == 0 {
		for i := 1; i <= StandardPartCount; i++ {
			c.Corpus.StandardParts = append(c.Corpus.StandardParts,
				fmt.Sprintf("d4dproject/standard/CC2022PART%dR1.pdf", i))
		}
	}
	if c.Corpus.HistoricalDir == "" {
		c.Corpus.HistoricalDir = "d4dproject/historicalST"
	}
	if c.Corpus.WorkUnitsSource == "" {
		c.Corpus.WorkUnitsSource = "d4dproject/standard/CEM2022R1.pdf"
	}
	if c.Corpus.DeveloperActionsSource == "" {
		c.Corpus.DeveloperActionsSource = "d4dproject/standard/CC2022PART3R1.pdf"
	}
	if c.Corpus.UploadsDir == "" {
		c.Corpus.UploadsDir = "uploads"
	}
	if c.Corpus.ChunkSize <= 0 {
		c.Corpus.ChunkSize = 1000
	}
	if c.Corpus.ChunkOverlap <= 0 {
		c.Corpus.ChunkOverlap = 200
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 4
	}
	if c.Retrieval.ContextTokens <= 0 {
		c.Retrieval.ContextTokens = 3000
	}
	if c.Retrieval.Encoding == "" {
		c.Retrieval.Encoding = "cl100k_base"
	}
	if c.Batch.Workers <= 0 {
		c.Batch.Workers = 4
	}
	if c.Batch.RecordTimeoutSec <= 0 {
		c.Batch.RecordTimeoutSec = 120
	}
	if c.Index.BuildTimeoutSec <= 0 {
		c.Index.BuildTimeoutSec = 600
	}
	if c.Index.EmbedBatchSize <= 0 {
		c.Index.EmbedBatchSize = 64
	}
	if c.Report.Dir == "" {
		c.Report.Dir = "reports"
	}
	if c.Report.Format == "" {
		c.Report.Format = "pdf"
	}
	if c.Sessions.MaxActive <= 0 {
		c.Sessions.MaxActive = 256
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "cceval:"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Database.Driver {
	case "memory":
	case "redis", "valkey":
		if len(c.Database.Addrs) == 0 {
			return fmt.Errorf("database.addrs is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("database.driver must be memory, redis or valkey, got %q", c.Database.Driver)
	}
	for name, p := range c.Embedding.Providers {
		switch p.Budget.Action {
		case "", "warn", "reject":
			// ok
		default:
			return fmt.Errorf(
				"embedding.providers.%s.budget.action must be \"warn\" or \"reject\", got %q",
				name, p.Budget.Action,
			)
		}
	}
	if c.Generation.Provider != "" {
		if _, ok := c.Embedding.Providers[c.Generation.Provider]; !ok {
			return fmt.Errorf("generation.provider %q is not defined in embedding.providers", c.Generation.Provider)
		}
	}
	if len(c.Corpus.StandardParts) != StandardPartCount {
		return fmt.Errorf("corpus.standard_parts must list %d documents, got %d",
			StandardPartCount, len(c.Corpus.StandardParts))
	}
	if c.Corpus.ChunkOverlap >= c.Corpus.ChunkSize {
		return fmt.Errorf("corpus.chunk_overlap (%d) must be smaller than chunk_size (%d)",
			c.Corpus.ChunkOverlap, c.Corpus.ChunkSize)
	}
	switch c.Report.Format {
	case "pdf", "json":
	default:
		return fmt.Errorf("report.format must be pdf or json, got %q", c.Report.Format)
	}
	return nil
}

// Vectorizer returns the first configured vectorizer by name and its
// provider. ok is false when no vectorizer is configured.
func (c *Config) Vectorizer() (name string, vec VectorizerConfig, prov ProviderConfig, ok bool) {
	names := make([]string, 0, len(c.Embedding.Vectorizers))
	for n := range c.Embedding.Vectorizers {
		names = append(names, n)
	}
	if len(names) == 0 {
		return "", VectorizerConfig{}, ProviderConfig{}, false
	}
	sort.Strings(names)
	vec = c.Embedding.Vectorizers[names[0]]
	return names[0], vec, c.Embedding.Providers[vec.Provider], true
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
