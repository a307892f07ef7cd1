package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	v *viper.Viper
}

// New creates a new configuration instance
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/phishguard/")
	v.AddConfigPath("$HOME/.phishguard")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	// Set defaults
	setDefaults(v)

	// Environment variables
	v.AutomaticEnv()
	v.SetEnvPrefix("PHISHGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults
	}

	return &Config{v: v}, nil
}

// NewFromFile creates a configuration instance from an explicit config file
func NewFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("PHISHGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return &Config{v: v}, nil
}

// NewFromViper creates a new configuration instance from an existing Viper instance
func NewFromViper(v *viper.Viper) *Config {
	return &Config{v: v}
}

// NewEmptyViper creates a new Viper instance with defaults
func NewEmptyViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	// Scoring backend defaults
	v.SetDefault("llm.provider", "rules")
	v.SetDefault("llm.hybrid_provider", "openai")

	// Classifier adapter defaults
	v.SetDefault("classifier.timeout", "3s")
	v.SetDefault("classifier.max_text_size", 8192)
	v.SetDefault("classifier.breaker.max_requests", 1)
	v.SetDefault("classifier.breaker.interval", "1m")
	v.SetDefault("classifier.breaker.open_timeout", "30s")
	v.SetDefault("classifier.breaker.consecutive_failures", 5)

	// Server defaults
	v.SetDefault("server.filter_type", "http")
	v.SetDefault("server.listen_address", "0.0.0.0:8080")
	v.SetDefault("server.request_timeout", "10s")
	v.SetDefault("server.max_body_bytes", 10<<20)
	v.SetDefault("server.smtp.listen_address", "0.0.0.0:10025")
	v.SetDefault("server.smtp.tenant_id", "default")
	v.SetDefault("server.smtp.block_malicious", false)
	v.SetDefault("server.smtp.forward_address", "")
	v.SetDefault("server.smtp.forward_enabled", false)
	v.SetDefault("server.smtp.subject_prefix", "[PHISHING] ")
	v.SetDefault("server.smtp.modify_subject", false)
	v.SetDefault("server.headers.category", "X-Phish-Category")
	v.SetDefault("server.headers.score", "X-Phish-Score")
	v.SetDefault("server.headers.reason", "X-Phish-Reason")

	// Bedrock defaults
	v.SetDefault("bedrock.region", "us-east-1")
	v.SetDefault("bedrock.model_id", "anthropic.claude-3-haiku-20240307-v1:0")
	v.SetDefault("bedrock.max_tokens", 512)
	v.SetDefault("bedrock.temperature", 0.1)
	v.SetDefault("bedrock.top_p", 0.9)

	// Gemini defaults
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model_name", "gemini-1.5-flash")
	v.SetDefault("gemini.max_tokens", 512)
	v.SetDefault("gemini.temperature", 0.1)
	v.SetDefault("gemini.top_p", 0.9)

	// OpenAI defaults
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model_name", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 512)
	v.SetDefault("openai.temperature", 0.1)
	v.SetDefault("openai.top_p", 0.9)

	// Brand domains used for lookalike detection, empty means built-in list
	v.SetDefault("whitelist.trusted_domains", []string{})

	// Verdict cache defaults
	v.SetDefault("cache.capacity", 10000)
	v.SetDefault("cache.shards", 16)
	v.SetDefault("cache.ttl", "6h")
	v.SetDefault("cache.degraded_ttl", "5m")
	v.SetDefault("cache.cleanup_frequency", "10m")
	v.SetDefault("cache.store", "none")
	v.SetDefault("cache.store_timeout", "500ms")
	v.SetDefault("cache.sqlite_path", "/data/phishguard_cache.db")
	v.SetDefault("cache.mysql_dsn", "user:password@tcp(localhost:3306)/phishguard")

	// Redis defaults, shared by the verdict store and the quota counter
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Quota defaults
	v.SetDefault("quota.backend", "memory")
	v.SetDefault("quota.tier_refresh", "5m")
	v.SetDefault("quota.sweep_interval", "10m")

	// Tenant defaults
	v.SetDefault("tenants.source", "static")
	v.SetDefault("tenants.default_plan", "free")
	v.SetDefault("tenants.driver", "sqlite3")
	v.SetDefault("tenants.dsn", "/data/phishguard_tenants.db")

	// Plan defaults
	v.SetDefault("plans.free.limit", 5)
	v.SetDefault("plans.free.window", "24h")
	v.SetDefault("plans.pro.limit", -1)
	v.SetDefault("plans.pro.window", "24h")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// GetString gets a string value from the configuration
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt gets an integer value from the configuration
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetFloat64 gets a float64 value from the configuration
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool gets a boolean value from the configuration
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetStringSlice gets a string slice value from the configuration
func (c *Config) GetStringSlice(key string) []string {
	return c.v.GetStringSlice(key)
}

// GetDuration gets a duration value from the configuration
func (c *Config) GetDuration(key string) (time.Duration, error) {
	d, err := time.ParseDuration(c.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}

// GetViper returns the underlying Viper instance
func (c *Config) GetViper() *viper.Viper {
	return c.v
}
