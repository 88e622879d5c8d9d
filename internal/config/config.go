package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jordnlvr/hybridkb/internal/domain"
	"github.com/jordnlvr/hybridkb/internal/domain/search/request"
)

// Config holds the hybridkb service configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Vector    VectorConfig    `yaml:"vector"`
	Cache     CacheConfig     `yaml:"cache"`
	Search    SearchConfig    `yaml:"search"`
	Documents DocumentsConfig `yaml:"documents"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
	// APIKeys enables bearer auth on the API routes when non-empty.
	APIKeys []string `yaml:"api_keys"`
}

// BudgetConfig holds token budget settings.
type BudgetConfig struct {
	DailyTokenLimit   int64  `yaml:"daily_token_limit"`   // 0 = unlimited
	MonthlyTokenLimit int64  `yaml:"monthly_token_limit"` // 0 = unlimited
	Action            string `yaml:"action"`              // "reject" | "warn" (default)
}

// AzureOpenAIConfig holds the primary remote provider settings.
type AzureOpenAIConfig struct {
	APIKey     string       `yaml:"api_key"`
	Endpoint   string       `yaml:"endpoint"`
	Deployment string       `yaml:"deployment"`
	APIVersion string       `yaml:"api_version"`
	Dimensions int          `yaml:"dimensions"`
	BatchSize  int          `yaml:"batch_size"`
	Budget     BudgetConfig `yaml:"budget"`
}

// OpenAIConfig holds the secondary remote provider settings.
type OpenAIConfig struct {
	APIKey     string       `yaml:"api_key"`
	BaseURL    string       `yaml:"base_url"`
	Model      string       `yaml:"model"`
	Dimensions int          `yaml:"dimensions"`
	BatchSize  int          `yaml:"batch_size"`
	Budget     BudgetConfig `yaml:"budget"`
}

// LocalConfig holds the local TF-IDF vectorizer settings.
type LocalConfig struct {
	Enabled   *bool `yaml:"enabled"` // default: true
	Dimension int   `yaml:"dimension"`
}

// IsEnabled reports whether the local provider takes part in the chain.
func (l LocalConfig) IsEnabled() bool {
	return l.Enabled == nil || *l.Enabled
}

// EmbeddingConfig holds embedding provider chain settings.
type EmbeddingConfig struct {
	AzureOpenAI       AzureOpenAIConfig `yaml:"azure_openai"`
	OpenAI            OpenAIConfig      `yaml:"openai"`
	Local             LocalConfig       `yaml:"local"`
	Concurrency       int               `yaml:"concurrency"`
	RequestTimeoutSec int               `yaml:"request_timeout_sec"`
	MaxInputChars     int               `yaml:"max_input_chars"`
}

// RequestTimeout returns the per-call embedding timeout.
func (e EmbeddingConfig) RequestTimeout() time.Duration {
	return time.Duration(e.RequestTimeoutSec) * time.Second
}

// RetryConfig holds retry-with-backoff settings for vector index calls.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	BaseDelayMs int `yaml:"base_delay_ms"`
	MaxJitterMs int `yaml:"max_jitter_ms"`
}

// VectorConfig holds the vector store and collection settings.
type VectorConfig struct {
	Enabled             *bool       `yaml:"enabled"` // default: true
	Driver              string      `yaml:"driver"`  // redis
	Addrs               []string    `yaml:"addrs"`
	Username            string      `yaml:"username"`
	Password            string      `yaml:"password"`
	Namespace           string      `yaml:"namespace"`
	Owned               bool        `yaml:"owned"`
	ReadinessTimeoutSec int         `yaml:"readiness_timeout_sec"`
	UpsertBatchSize     int         `yaml:"upsert_batch_size"`
	MinContentChars     int         `yaml:"min_content_chars"`
	HNSWM               int         `yaml:"hnsw_m"`
	HNSWEFConstruct     int         `yaml:"hnsw_ef_construction"`
	Retry               RetryConfig `yaml:"retry"`
}

// IsEnabled reports whether the semantic branch is configured.
func (v VectorConfig) IsEnabled() bool {
	return v.Enabled == nil || *v.Enabled
}

// ReadinessTimeout returns the collection readiness bound.
func (v VectorConfig) ReadinessTimeout() time.Duration {
	return time.Duration(v.ReadinessTimeoutSec) * time.Second
}

// Cache persistence backends.
const (
	CacheBackendFile   = "file"
	CacheBackendRedis  = "redis"
	CacheBackendBadger = "badger"
	CacheBackendNone   = "none"
)

// CacheConfig holds query embedding cache settings.
type CacheConfig struct {
	Backend   string `yaml:"backend"` // file, redis, badger, none
	Path      string `yaml:"path"`
	Capacity  int    `yaml:"capacity"`
	SaveEvery int    `yaml:"save_every"`
}

// SearchConfig holds fusion and query settings.
type SearchConfig struct {
	LexicalWeight       float64 `yaml:"lexical_weight"`
	VectorWeight        float64 `yaml:"vector_weight"`
	RRFK                int     `yaml:"rrf_k"`
	BranchTimeoutMs     int     `yaml:"branch_timeout_ms"`
	CandidateMultiplier int     `yaml:"candidate_multiplier"`
	DefaultLimit        int     `yaml:"default_limit"`
	MaxLimit            int     `yaml:"max_limit"`
	MinScore            float64 `yaml:"min_score"`
}

// BranchTimeout returns the per-branch deadline.
func (s SearchConfig) BranchTimeout() time.Duration {
	return time.Duration(s.BranchTimeoutMs) * time.Millisecond
}

// DocumentsConfig points at the document file indexed at startup.
type DocumentsConfig struct {
	Path string `yaml:"path"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse expands ${VAR} references, decodes YAML, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: failed to parse config: %w", domain.ErrConfiguration, err)
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
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}

	if c.Embedding.AzureOpenAI.Dimensions <= 0 {
		c.Embedding.AzureOpenAI.Dimensions = 1536
	}
	if c.Embedding.OpenAI.Dimensions <= 0 {
		c.Embedding.OpenAI.Dimensions = 1536
	}
	if c.Embedding.OpenAI.Model == "" {
		c.Embedding.OpenAI.Model = "text-embedding-3-small"
	}
	if c.Embedding.Local.Dimension <= 0 {
		c.Embedding.Local.Dimension = 384
	}
	if c.Embedding.Concurrency <= 0 {
		c.Embedding.Concurrency = 3
	}
	if c.Embedding.RequestTimeoutSec <= 0 {
		c.Embedding.RequestTimeoutSec = 30
	}
	if c.Embedding.MaxInputChars <= 0 {
		c.Embedding.MaxInputChars = 8000
	}

	if c.Vector.Driver == "" {
		c.Vector.Driver = "redis"
	}
	if c.Vector.Namespace == "" {
		c.Vector.Namespace = "knowledge"
	}
	if c.Vector.ReadinessTimeoutSec <= 0 {
		c.Vector.ReadinessTimeoutSec = 60
	}
	if c.Vector.UpsertBatchSize <= 0 {
		c.Vector.UpsertBatchSize = 100
	}
	if c.Vector.MinContentChars <= 0 {
		c.Vector.MinContentChars = 10
	}
	if c.Vector.HNSWM <= 0 {
		c.Vector.HNSWM = 32
	}
	if c.Vector.HNSWEFConstruct <= 0 {
		c.Vector.HNSWEFConstruct = 400
	}
	if c.Vector.Retry.MaxAttempts <= 0 {
		c.Vector.Retry.MaxAttempts = 3
	}
	if c.Vector.Retry.BaseDelayMs <= 0 {
		c.Vector.Retry.BaseDelayMs = 500
	}
	if c.Vector.Retry.MaxJitterMs < 0 {
		c.Vector.Retry.MaxJitterMs = 0
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = CacheBackendFile
	}
	if c.Cache.Path == "" && c.Cache.Backend == CacheBackendFile {
		c.Cache.Path = "data/query_cache.json"
	}
	if c.Cache.Capacity <= 0 {
		c.Cache.Capacity = 1000
	}
	if c.Cache.SaveEvery <= 0 {
		c.Cache.SaveEvery = 50
	}

	if c.Search.LexicalWeight == 0 && c.Search.VectorWeight == 0 {
		c.Search.LexicalWeight = 0.5
		c.Search.VectorWeight = 0.5
	}
	if c.Search.RRFK <= 0 {
		c.Search.RRFK = 60
	}
	if c.Search.BranchTimeoutMs <= 0 {
		c.Search.BranchTimeoutMs = 3000
	}
	if c.Search.CandidateMultiplier <= 0 {
		c.Search.CandidateMultiplier = 2
	}
	if c.Search.DefaultLimit <= 0 {
		c.Search.DefaultLimit = request.DefaultLimit
	}
	if c.Search.MaxLimit <= 0 {
		c.Search.MaxLimit = request.MaxLimit
	}
}

// Validate checks the configuration for correctness.
// Every error wraps domain.ErrConfiguration.
func (c *Config) Validate() error {
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return domain.Configurationf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	budgets := map[string]string{
		"azure_openai": c.Embedding.AzureOpenAI.Budget.Action,
		"openai":       c.Embedding.OpenAI.Budget.Action,
	}
	for name, action := range budgets {
		switch action {
		case "", "warn", "reject":
			// ok
		default:
			return domain.Configurationf(
				"embedding.%s.budget.action must be \"warn\" or \"reject\", got %q", name, action,
			)
		}
	}

	if c.Vector.IsEnabled() {
		if c.Vector.Driver != "redis" {
			return domain.Configurationf("vector.driver must be \"redis\", got %q", c.Vector.Driver)
		}
		if len(c.Vector.Addrs) == 0 {
			return domain.Configurationf("vector.addrs is required")
		}
	}

	switch c.Cache.Backend {
	case CacheBackendFile:
		if c.Cache.Path == "" {
			return domain.Configurationf("cache.path is required for the file backend")
		}
	case CacheBackendRedis:
		if !c.Vector.IsEnabled() {
			return domain.Configurationf("cache.backend redis needs the vector store")
		}
	case CacheBackendBadger, CacheBackendNone:
	default:
		return domain.Configurationf("cache.backend must be file, redis, badger or none, got %q", c.Cache.Backend)
	}

	if c.Search.LexicalWeight < 0 || c.Search.VectorWeight < 0 {
		return domain.Configurationf("search weights must not be negative")
	}
	if c.Search.MaxLimit > request.MaxLimit {
		return domain.Configurationf("search.max_limit must be at most %d, got %d", request.MaxLimit, c.Search.MaxLimit)
	}
	if c.Search.DefaultLimit > c.Search.MaxLimit {
		return domain.Configurationf("search.default_limit %d exceeds max_limit %d", c.Search.DefaultLimit, c.Search.MaxLimit)
	}
	if c.Search.MinScore < 0 || c.Search.MinScore > 1 {
		return domain.Configurationf("search.min_score must be between 0 and 1, got %v", c.Search.MinScore)
	}
	return nil
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
