// Package config loads the process configuration from environment
// variables, with a .env file honored when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults applied when the environment leaves a knob unset.
const (
	DefaultModel            = "gemini-2.5-flash"
	DefaultHTTPPort         = "8080"
	DefaultHistoryDir       = "./chat_history"
	DefaultMaxThoughtCycles = 10
	DefaultMaxRetries       = 2
	DefaultCodeTimeout      = 30 * time.Second
	DefaultSessionTTL       = time.Hour
	DefaultCleanupInterval  = 5 * time.Minute
	DefaultMongoDatabase    = "solvr"
	DefaultMongoCollection  = "session_records"
)

// Config is the full process configuration.
type Config struct {
	// LLM access.
	GoogleAPIKey string
	GoogleAPIURL string
	DefaultModel string
	Models       []string

	// Engine tuning.
	MaxThoughtCycles int
	MaxRetries       int
	Planning         bool
	CodeTimeout      time.Duration

	// Tools.
	PerplexityAPIKey string

	// Persistence. Postgres wins over Mongo when both are enabled;
	// the file store is the fallback.
	MongoEnabled    bool
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	PostgresEnabled bool
	DatabaseURL     string
	HistoryDir      string

	// Lifecycle.
	SessionTTL      time.Duration
	CleanupInterval time.Duration

	// HTTP and logging.
	HTTPPort string
	LogLevel string
	LogFile  string
}

// Load reads the configuration. A missing .env file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		GoogleAPIKey:     os.Getenv("GOOGLE_API_KEY"),
		GoogleAPIURL:     os.Getenv("GOOGLE_API_BASE"),
		DefaultModel:     getEnv("AGENT_MODEL", DefaultModel),
		MaxThoughtCycles: getInt("REACT_MAX_THOUGHT_CYCLES", DefaultMaxThoughtCycles),
		MaxRetries:       getInt("REACT_MAX_RETRIES", DefaultMaxRetries),
		Planning:         getBool("REACT_PLANNING", true),
		CodeTimeout:      getDuration("CODE_EXECUTION_TIMEOUT", DefaultCodeTimeout),
		PerplexityAPIKey: os.Getenv("PPLX_API_KEY"),
		MongoEnabled:     getBool("MONGODB_ENABLED", false),
		MongoURI:         os.Getenv("MONGODB_URI"),
		MongoDatabase:    getEnv("MONGODB_DATABASE", DefaultMongoDatabase),
		MongoCollection:  getEnv("MONGODB_COLLECTION", DefaultMongoCollection),
		PostgresEnabled:  getBool("POSTGRES_ENABLED", false),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		HistoryDir:       getEnv("HISTORY_DIR", DefaultHistoryDir),
		SessionTTL:       getDuration("SESSION_TTL", DefaultSessionTTL),
		CleanupInterval:  getDuration("CLEANUP_INTERVAL", DefaultCleanupInterval),
		HTTPPort:         getEnv("HTTP_PORT", DefaultHTTPPort),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFile:          os.Getenv("LOG_FILE"),
	}

	cfg.Models = splitList(getEnv("SUPPORTED_MODELS", "gemini-2.5-pro,gemini-2.5-flash"))
	if !cfg.SupportsModel(cfg.DefaultModel) {
		cfg.Models = append(cfg.Models, cfg.DefaultModel)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MongoEnabled && c.MongoURI == "" {
		return fmt.Errorf("MONGODB_ENABLED is set but MONGODB_URI is empty")
	}
	if c.PostgresEnabled && c.DatabaseURL == "" {
		return fmt.Errorf("POSTGRES_ENABLED is set but DATABASE_URL is empty")
	}
	if c.MaxThoughtCycles <= 0 {
		return fmt.Errorf("REACT_MAX_THOUGHT_CYCLES must be positive")
	}
	return nil
}

// SupportsModel reports whether the model passes request validation.
func (c *Config) SupportsModel(model string) bool {
	for _, m := range c.Models {
		if m == model {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// Bare numbers are read as seconds.
		if n, err := strconv.Atoi(value); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
