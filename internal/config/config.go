package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	UserAgent   string `envconfig:"HTTP_USER_AGENT" default:""`

	AdmissionProbeEnabled bool          `envconfig:"ADMISSION_PROBE_ENABLED" default:"true"`
	AdmissionHeadTimeout  time.Duration `envconfig:"ADMISSION_HEAD_TIMEOUT" default:"3s"`
	AdmissionGetTimeout   time.Duration `envconfig:"ADMISSION_GET_TIMEOUT" default:"5s"`
	AdmissionProbeBytes   int64         `envconfig:"ADMISSION_PROBE_BYTES" default:"16384"`
	AdmissionCacheTTL     time.Duration `envconfig:"ADMISSION_CACHE_TTL" default:"1h"`
	AdmissionCacheSize    int           `envconfig:"ADMISSION_CACHE_CAPACITY" default:"1000"`
	AdmissionConcurrency  int           `envconfig:"ADMISSION_CONCURRENCY" default:"8"`

	FeedBridgeURL     string `envconfig:"FEED_BRIDGE_URL" default:"http://localhost:8080"`
	FeedBridgeDomains string `envconfig:"FEED_BRIDGE_DOMAINS" default:"zhihu.com=Zhihu,weibo.com=Weibo,twitter.com=Twitter,x.com=Twitter"`
	FeedHoursAgo      int    `envconfig:"FEED_HOURS_AGO" default:"0"`

	SelfHostedBackend  string `envconfig:"SELF_HOSTED_BACKEND" default:""`
	SelfHostedEndpoint string `envconfig:"SELF_HOSTED_ENDPOINT" default:""`

	ManagedEndpoint string  `envconfig:"MANAGED_ENDPOINT" default:"https://api.firecrawl.dev/v1"`
	ManagedAPIKey   string  `envconfig:"MANAGED_API_KEY" default:""`
	ManagedMaxRPS   float64 `envconfig:"MANAGED_MAX_RPS" default:"0"`

	ExtractTimeout     time.Duration `envconfig:"EXTRACT_TIMEOUT" default:"60s"`
	ExtractConcurrency int           `envconfig:"EXTRACT_CONCURRENCY" default:"5"`
	ExtractBatchPause  time.Duration `envconfig:"EXTRACT_BATCH_PAUSE" default:"1s"`
	ListingMaxArticles int           `envconfig:"LISTING_MAX_ARTICLES" default:"30"`
	ListingMaxLinks    int           `envconfig:"LISTING_MAX_LINKS" default:"50"`
	ListingMinLinks    int           `envconfig:"LISTING_MIN_LINKS" default:"2"`
	RateLimitRetries   int           `envconfig:"RATE_LIMIT_RETRIES" default:"1"`
	RateLimitBackoff   time.Duration `envconfig:"RATE_LIMIT_BACKOFF" default:"2s"`
	CollectConcurrency int           `envconfig:"COLLECT_CONCURRENCY" default:"4"`

	EmbeddingProvider   string        `envconfig:"EMBEDDING_PROVIDER" default:"http"`
	EmbeddingEndpoint   string        `envconfig:"EMBEDDING_ENDPOINT" default:""`
	EmbeddingAPIKey     string        `envconfig:"EMBEDDING_API_KEY" default:""`
	EmbeddingModel      string        `envconfig:"EMBEDDING_MODEL" default:""`
	EmbeddingTimeout    time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"30s"`
	EmbeddingBodyChars  int           `envconfig:"EMBEDDING_BODY_CHARS" default:"500"`
	EmbeddingPauseEvery int           `envconfig:"EMBEDDING_PAUSE_EVERY" default:"5"`
	EmbeddingPause      time.Duration `envconfig:"EMBEDDING_PAUSE" default:"500ms"`
	DedupThreshold      float64       `envconfig:"DEDUP_THRESHOLD" default:"0.9"`

	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.AdmissionHeadTimeout <= 0 || c.AdmissionGetTimeout <= 0 {
		return fmt.Errorf("ADMISSION_HEAD_TIMEOUT and ADMISSION_GET_TIMEOUT must be > 0")
	}
	if c.AdmissionProbeBytes < 512 {
		return fmt.Errorf("ADMISSION_PROBE_BYTES must be >= 512")
	}
	if c.AdmissionCacheTTL <= 0 {
		return fmt.Errorf("ADMISSION_CACHE_TTL must be > 0")
	}
	if c.AdmissionCacheSize < 1 {
		return fmt.Errorf("ADMISSION_CACHE_CAPACITY must be >= 1")
	}
	if c.AdmissionConcurrency < 1 {
		return fmt.Errorf("ADMISSION_CONCURRENCY must be >= 1")
	}
	if _, err := c.FeedBridgeDomainMap(); err != nil {
		return err
	}
	if c.FeedHoursAgo < 0 {
		return fmt.Errorf("FEED_HOURS_AGO must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(c.SelfHostedBackend)) {
	case "":
	case "firecrawl":
		if strings.TrimSpace(c.SelfHostedEndpoint) == "" {
			return fmt.Errorf("SELF_HOSTED_ENDPOINT is required when SELF_HOSTED_BACKEND=firecrawl")
		}
	case "reader":
	default:
		return fmt.Errorf("SELF_HOSTED_BACKEND must be one of firecrawl, reader")
	}

	if strings.TrimSpace(c.ManagedEndpoint) == "" {
		return fmt.Errorf("MANAGED_ENDPOINT is required")
	}
	if c.ManagedMaxRPS < 0 {
		return fmt.Errorf("MANAGED_MAX_RPS must be >= 0")
	}
	if c.ExtractTimeout <= 0 {
		return fmt.Errorf("EXTRACT_TIMEOUT must be > 0")
	}
	if c.ExtractConcurrency < 1 {
		return fmt.Errorf("EXTRACT_CONCURRENCY must be >= 1")
	}
	if c.ExtractBatchPause < 0 {
		return fmt.Errorf("EXTRACT_BATCH_PAUSE must be >= 0")
	}
	if c.ListingMaxArticles < 1 || c.ListingMaxLinks < 1 || c.ListingMinLinks < 1 {
		return fmt.Errorf("LISTING_MAX_ARTICLES, LISTING_MAX_LINKS and LISTING_MIN_LINKS must be >= 1")
	}
	if c.RateLimitRetries < 0 {
		return fmt.Errorf("RATE_LIMIT_RETRIES must be >= 0")
	}
	if c.CollectConcurrency < 1 {
		return fmt.Errorf("COLLECT_CONCURRENCY must be >= 1")
	}

	switch strings.ToLower(strings.TrimSpace(c.EmbeddingProvider)) {
	case "http", "openai":
	case "gemini":
		if strings.TrimSpace(c.EmbeddingAPIKey) == "" {
			return fmt.Errorf("EMBEDDING_API_KEY is required when EMBEDDING_PROVIDER=gemini")
		}
	default:
		return fmt.Errorf("EMBEDDING_PROVIDER must be one of http, openai, gemini")
	}
	if c.EmbeddingBodyChars < 1 {
		return fmt.Errorf("EMBEDDING_BODY_CHARS must be >= 1")
	}
	if c.EmbeddingPauseEvery < 1 {
		return fmt.Errorf("EMBEDDING_PAUSE_EVERY must be >= 1")
	}
	if c.DedupThreshold <= 0 || c.DedupThreshold > 1 {
		return fmt.Errorf("DEDUP_THRESHOLD must be in (0, 1]")
	}
	return nil
}

// FeedBridgeDomainMap parses FEED_BRIDGE_DOMAINS ("domain=Bridge,...").
func (c *Config) FeedBridgeDomainMap() (map[string]string, error) {
	out := make(map[string]string)
	if c == nil {
		return out, nil
	}
	for _, part := range strings.Split(c.FeedBridgeDomains, ",") {
		entry := strings.TrimSpace(part)
		if entry == "" {
			continue
		}
		domain, bridge, ok := strings.Cut(entry, "=")
		domain = strings.ToLower(strings.TrimSpace(domain))
		bridge = strings.TrimSpace(bridge)
		if !ok || domain == "" || bridge == "" {
			return nil, fmt.Errorf("FEED_BRIDGE_DOMAINS entry %q must look like domain=Bridge", entry)
		}
		out[domain] = bridge
	}
	return out, nil
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}
