package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mikey/phishguard/internal/core"
)

// LLMConfig represents the configuration for the scoring backend
type LLMConfig struct {
	Provider string
	// HybridProvider is the LLM consulted by the hybrid backend
	HybridProvider string
}

// ClassifierConfig represents the classifier adapter settings
type ClassifierConfig struct {
	Timeout             time.Duration
	MaxTextSize         int
	MaxRequests         uint32
	Interval            time.Duration
	OpenTimeout         time.Duration
	ConsecutiveFailures uint32
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// OpenAIConfig represents the configuration for OpenAI
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// CacheConfig represents the verdict cache configuration
type CacheConfig struct {
	Capacity         int
	Shards           int
	TTL              time.Duration
	DegradedTTL      time.Duration
	CleanupFrequency time.Duration
	StoreTimeout     time.Duration
	// Store selects the second tier: none, sqlite, mysql or redis
	Store      string
	SQLitePath string
	MySQLDSN   string
}

// RedisConfig represents the shared Redis connection
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// QuotaConfig represents the quota gate configuration
type QuotaConfig struct {
	// Backend is memory or redis
	Backend     string
	TierRefresh time.Duration

	// SweepInterval is how often in-process counters drop tenants whose window has ended
	SweepInterval time.Duration
}

// Assignment binds a tenant to a plan
type Assignment struct {
	Tenant string `mapstructure:"tenant"`
	Plan   string `mapstructure:"plan"`
}

// TenantsConfig represents where tenant tiers come from
type TenantsConfig struct {
	// Source is static or sql
	Source      string
	DefaultPlan string
	Assignments []Assignment
	Driver      string
	DSN         string
}

// HeadersConfig names the headers added to filtered mail
type HeadersConfig struct {
	Category string
	Score    string
	Reason   string
}

// SMTPConfig represents the SMTP content filter
type SMTPConfig struct {
	ListenAddress  string
	TenantID       string
	BlockMalicious bool
	ForwardAddress string
	ForwardEnabled bool
	SubjectPrefix  string
	ModifySubject  bool
}

// ServerConfig represents the intake surfaces
type ServerConfig struct {
	FilterType     string
	ListenAddress  string
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	SMTP           SMTPConfig
	Headers        HeadersConfig
}

// GetLLM returns the LLM configuration
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		Provider:       c.GetString("llm.provider"),
		HybridProvider: c.GetString("llm.hybrid_provider"),
	}
}

// GetClassifier returns the classifier adapter configuration
func (c *Config) GetClassifier() (ClassifierConfig, error) {
	var cfg ClassifierConfig
	var err error
	if cfg.Timeout, err = c.GetDuration("classifier.timeout"); err != nil {
		return cfg, err
	}
	if cfg.Interval, err = c.GetDuration("classifier.breaker.interval"); err != nil {
		return cfg, err
	}
	if cfg.OpenTimeout, err = c.GetDuration("classifier.breaker.open_timeout"); err != nil {
		return cfg, err
	}
	cfg.MaxTextSize = c.GetInt("classifier.max_text_size")
	cfg.MaxRequests = uint32(c.GetInt("classifier.breaker.max_requests"))
	cfg.ConsecutiveFailures = uint32(c.GetInt("classifier.breaker.consecutive_failures"))
	return cfg, nil
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:      c.GetString("gemini.api_key"),
		ModelName:   c.GetString("gemini.model_name"),
		MaxTokens:   c.GetInt("gemini.max_tokens"),
		Temperature: float32(c.GetFloat64("gemini.temperature")),
		TopP:        float32(c.GetFloat64("gemini.top_p")),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		BaseURL:     c.GetString("openai.base_url"),
		ModelName:   c.GetString("openai.model_name"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		TopP:        float32(c.GetFloat64("openai.top_p")),
	}
}

// GetCache returns the verdict cache configuration
func (c *Config) GetCache() (CacheConfig, error) {
	cfg := CacheConfig{
		Capacity:   c.GetInt("cache.capacity"),
		Shards:     c.GetInt("cache.shards"),
		Store:      c.GetString("cache.store"),
		SQLitePath: c.GetString("cache.sqlite_path"),
		MySQLDSN:   c.GetString("cache.mysql_dsn"),
	}
	var err error
	if cfg.TTL, err = c.GetDuration("cache.ttl"); err != nil {
		return cfg, err
	}
	if cfg.DegradedTTL, err = c.GetDuration("cache.degraded_ttl"); err != nil {
		return cfg, err
	}
	if cfg.CleanupFrequency, err = c.GetDuration("cache.cleanup_frequency"); err != nil {
		return cfg, err
	}
	if cfg.StoreTimeout, err = c.GetDuration("cache.store_timeout"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// GetRedis returns the Redis connection configuration
func (c *Config) GetRedis() RedisConfig {
	return RedisConfig{
		Address:  c.GetString("redis.address"),
		Password: c.GetString("redis.password"),
		DB:       c.GetInt("redis.db"),
	}
}

// GetQuota returns the quota configuration
func (c *Config) GetQuota() (QuotaConfig, error) {
	refresh, err := c.GetDuration("quota.tier_refresh")
	if err != nil {
		return QuotaConfig{}, err
	}
	sweep, err := c.GetDuration("quota.sweep_interval")
	if err != nil {
		return QuotaConfig{}, err
	}
	return QuotaConfig{
		Backend:       c.GetString("quota.backend"),
		TierRefresh:   refresh,
		SweepInterval: sweep,
	}, nil
}

// GetTenants returns the tenant tier source configuration
func (c *Config) GetTenants() (TenantsConfig, error) {
	cfg := TenantsConfig{
		Source:      c.GetString("tenants.source"),
		DefaultPlan: c.GetString("tenants.default_plan"),
		Driver:      c.GetString("tenants.driver"),
		DSN:         c.GetString("tenants.dsn"),
	}
	if err := c.v.UnmarshalKey("tenants.assignments", &cfg.Assignments); err != nil {
		return cfg, fmt.Errorf("invalid tenant assignments: %w", err)
	}
	return cfg, nil
}

// GetPlans returns every configured plan keyed by name. Each plan has a limit
// (negative for unlimited) and a window duration.
func (c *Config) GetPlans() (map[string]core.TierInfo, error) {
	names := map[string]bool{}
	for _, key := range c.v.AllKeys() {
		rest, ok := strings.CutPrefix(key, "plans.")
		if !ok {
			continue
		}
		if name, _, ok := strings.Cut(rest, "."); ok {
			names[name] = true
		}
	}

	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	plans := make(map[string]core.TierInfo, len(sorted))
	for _, name := range sorted {
		window, err := c.GetDuration("plans." + name + ".window")
		if err != nil {
			return nil, err
		}
		if window < time.Second {
			return nil, fmt.Errorf("plan %s: window must be at least one second", name)
		}
		plans[name] = core.TierInfo{
			Plan:          name,
			Limit:         c.GetInt("plans." + name + ".limit"),
			WindowSeconds: int(window / time.Second),
		}
	}
	return plans, nil
}

// GetServer returns the intake surface configuration
func (c *Config) GetServer() (ServerConfig, error) {
	timeout, err := c.GetDuration("server.request_timeout")
	if err != nil {
		return ServerConfig{}, err
	}
	return ServerConfig{
		FilterType:     c.GetString("server.filter_type"),
		ListenAddress:  c.GetString("server.listen_address"),
		RequestTimeout: timeout,
		MaxBodyBytes:   int64(c.GetInt("server.max_body_bytes")),
		SMTP: SMTPConfig{
			ListenAddress:  c.GetString("server.smtp.listen_address"),
			TenantID:       c.GetString("server.smtp.tenant_id"),
			BlockMalicious: c.GetBool("server.smtp.block_malicious"),
			ForwardAddress: c.GetString("server.smtp.forward_address"),
			ForwardEnabled: c.GetBool("server.smtp.forward_enabled"),
			SubjectPrefix:  c.GetString("server.smtp.subject_prefix"),
			ModifySubject:  c.GetBool("server.smtp.modify_subject"),
		},
		Headers: HeadersConfig{
			Category: c.GetString("server.headers.category"),
			Score:    c.GetString("server.headers.score"),
			Reason:   c.GetString("server.headers.reason"),
		},
	}, nil
}

// GetTrustedDomains returns the brand domains used for lookalike detection
func (c *Config) GetTrustedDomains() []string {
	return c.GetStringSlice("whitelist.trusted_domains")
}
