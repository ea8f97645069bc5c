package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/problemdex/internal/db"
)

// Store drivers.
const (
	DriverLocal  = "local"
	DriverValkey = "valkey"
	DriverRedis  = "redis"
	DriverQdrant = "qdrant"
)

// Embedding providers.
const (
	ProviderHashing = "hashing"
	ProviderOpenAI  = "openai"
)

// Config holds the problemdex configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Store      StoreConfig      `yaml:"store"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Search     SearchConfig     `yaml:"search"`
	TagFilter  TagFilterConfig  `yaml:"tag_filter"`
	Categories CategoriesConfig `yaml:"categories"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings. Write routes are open when empty.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// StoreConfig selects and configures the document store backend.
type StoreConfig struct {
	Driver             string   `yaml:"driver"` // local, valkey, redis, qdrant (default: local)
	Collection         string   `yaml:"collection"`
	Path               string   `yaml:"path"`  // local
	Addrs              []string `yaml:"addrs"` // valkey, redis, qdrant
	Password           string   `yaml:"password"`
	KeyPrefix          string   `yaml:"key_prefix"`
	ReadinessTimeout   int      `yaml:"readiness_timeout_sec"`
	Algorithm          string   `yaml:"algorithm"` // hnsw, flat (valkey, redis)
	HNSWM              int      `yaml:"hnsw_m"`
	HNSWEFConstruct    int      `yaml:"hnsw_ef_construction"`
	MaxBatchSize       int      `yaml:"max_batch_size"`
	CategorySampleSize int      `yaml:"category_sample_size"`
}

// EmbeddingConfig holds embedding model settings.
type EmbeddingConfig struct {
	Provider          string  `yaml:"provider"` // hashing, openai (default: hashing)
	Model             string  `yaml:"model"`
	Dimensions        int     `yaml:"dimensions"`
	APIKey            string  `yaml:"api_key"`
	BaseURL           string  `yaml:"base_url"`
	SendDimensions    bool    `yaml:"send_dimensions"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	MaxBatchSize      int     `yaml:"max_batch_size"`
	CacheTTLSec       int     `yaml:"cache_ttl_sec"` // valkey/redis stores only; 0 disables

	// Prefixes for instruction-tuned models, e.g. "passage: " and "query: " for e5.
	DocumentInstruction string `yaml:"document_instruction"`
	QueryInstruction    string `yaml:"query_instruction"`
}

// SearchConfig holds query defaults.
type SearchConfig struct {
	DefaultLimit  int      `yaml:"default_limit"`
	SampleQueries []string `yaml:"sample_queries"`
}

// TagFilterConfig is the optional allow-list applied when a request asks for it (tech_only).
type TagFilterConfig struct {
	Key    string   `yaml:"key"`
	Values []string `yaml:"values"`
}

// CategoriesConfig holds the category index settings.
type CategoriesConfig struct {
	CacheTTLSec int `yaml:"cache_ttl_sec"`
}

// IngestConfig holds the NATS ingestion consumer settings. Disabled when URL is empty.
type IngestConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
	Queue   string `yaml:"queue"`
}

// CacheTTL returns the category cache TTL.
func (c CategoriesConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSec) * time.Second
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
// A .env file in the working directory is loaded first when present.
func Load(env string) (Config, error) {
	_ = godotenv.Load()

	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, expanding ${VAR} references, then applies defaults and validates.
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
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8000
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverLocal
	}
	if c.Store.Collection == "" {
		c.Store.Collection = "reddit_tech_problems"
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join("data", "problemdex.db")
	}
	if c.Store.KeyPrefix == "" {
		c.Store.KeyPrefix = "problemdex:"
	}
	if c.Store.ReadinessTimeout <= 0 {
		c.Store.ReadinessTimeout = 10
	}
	if c.Store.HNSWM <= 0 {
		c.Store.HNSWM = 16
	}
	if c.Store.HNSWEFConstruct <= 0 {
		c.Store.HNSWEFConstruct = 200
	}
	if c.Store.MaxBatchSize <= 0 {
		c.Store.MaxBatchSize = 100
	}
	if c.Store.CategorySampleSize <= 0 {
		c.Store.CategorySampleSize = 1000
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = ProviderHashing
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 384
	}
	if c.Embedding.Model == "" && c.Embedding.Provider == ProviderOpenAI {
		c.Embedding.Model = "all-MiniLM-L6-v2"
	}
	if c.Embedding.MaxBatchSize <= 0 {
		c.Embedding.MaxBatchSize = 64
	}
	if c.Search.DefaultLimit <= 0 {
		c.Search.DefaultLimit = 10
	}
	if c.Categories.CacheTTLSec == 0 {
		c.Categories.CacheTTLSec = 300
	}
	if c.Ingest.Subject == "" {
		c.Ingest.Subject = "problems.ingest"
	}
	if c.Ingest.Queue == "" {
		c.Ingest.Queue = "problemdex"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Store.Driver {
	case DriverLocal:
	case DriverValkey, DriverRedis, DriverQdrant:
		if len(c.Store.Addrs) == 0 {
			return fmt.Errorf("store.addrs is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("store.driver must be one of local, valkey, redis, qdrant, got %q", c.Store.Driver)
	}
	if _, err := db.ParseVectorAlgorithm(c.Store.Algorithm); err != nil {
		return fmt.Errorf("store.algorithm: %w", err)
	}
	switch c.Embedding.Provider {
	case ProviderHashing:
	case ProviderOpenAI:
		if c.Embedding.BaseURL == "" {
			return fmt.Errorf("embedding.base_url is required for provider %q", ProviderOpenAI)
		}
	default:
		return fmt.Errorf("embedding.provider must be \"hashing\" or \"openai\", got %q", c.Embedding.Provider)
	}
	if c.Embedding.RequestsPerSecond < 0 {
		return fmt.Errorf("embedding.requests_per_second must not be negative")
	}
	if (c.TagFilter.Key == "") != (len(c.TagFilter.Values) == 0) {
		return fmt.Errorf("tag_filter.key and tag_filter.values must be set together")
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
