package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/harvest/internal/admission"
	"horse.fit/harvest/internal/backend"
	"horse.fit/harvest/internal/cli"
	"horse.fit/harvest/internal/collect"
	"horse.fit/harvest/internal/config"
	"horse.fit/harvest/internal/dedup"
	"horse.fit/harvest/internal/hybrid"
	"horse.fit/harvest/internal/langdetect"
	"horse.fit/harvest/internal/logging"
	"horse.fit/harvest/internal/pipeline"
	"horse.fit/harvest/internal/similarity"
	"horse.fit/harvest/internal/throttle"
)

// components is the fully wired object graph shared by every command.
type components struct {
	cfg       *config.Config
	filter    *admission.Filter
	extractor *hybrid.Orchestrator
	clusterer *dedup.Clusterer
	collector *collect.Collector
	pipeline  *pipeline.Service
	embedder  similarity.Embedder
}

func (c *components) Close() error {
	if c == nil {
		return nil
	}
	if closer, ok := c.embedder.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// loadRuntime loads .env, config and the logger in the order every command expects.
func loadRuntime(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, int) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, zerolog.Nop(), 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil, zerolog.Nop(), 1
	}
	return cfg, logger, 0
}

func buildComponents(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*components, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	state := admission.NewState(admission.StateOptions{
		TTL:      cfg.AdmissionCacheTTL,
		Capacity: cfg.AdmissionCacheSize,
	})
	filter := admission.New(state, admission.Options{
		Probe:       cfg.AdmissionProbeEnabled,
		HeadTimeout: cfg.AdmissionHeadTimeout,
		GetTimeout:  cfg.AdmissionGetTimeout,
		ProbeBytes:  cfg.AdmissionProbeBytes,
		UserAgent:   cfg.UserAgent,
		Concurrency: cfg.AdmissionConcurrency,
	}, logging.Component(logger, "admission"))

	domains, err := cfg.FeedBridgeDomainMap()
	if err != nil {
		return nil, err
	}
	tiers := []backend.Backend{
		backend.NewFeedBridge(backend.FeedBridgeOptions{
			Endpoint:  cfg.FeedBridgeURL,
			Domains:   domains,
			Timeout:   cfg.ExtractTimeout,
			UserAgent: cfg.UserAgent,
			Detect:    langdetect.DetectDocument,
		}, logging.Component(logger, "feed_bridge")),
	}

	selfHosted, err := backend.NewSelfHosted(backend.SelfHostedOptions{
		Mode:      cfg.SelfHostedBackend,
		Endpoint:  cfg.SelfHostedEndpoint,
		Timeout:   cfg.ExtractTimeout,
		UserAgent: cfg.UserAgent,
		Detect:    langdetect.DetectDocument,
	}, logging.Component(logger, "self_hosted"))
	if err != nil {
		return nil, fmt.Errorf("configure self-hosted backend: %w", err)
	}
	if selfHosted != nil {
		tiers = append(tiers, selfHosted)
		logger.Debug().Str("mode", selfHosted.Mode()).Msg("self-hosted tier enabled")
	}

	tiers = append(tiers, backend.NewManaged(backend.ManagedOptions{
		Endpoint: cfg.ManagedEndpoint,
		APIKey:   cfg.ManagedAPIKey,
		Timeout:  cfg.ExtractTimeout,
		Limiter:  throttle.NewRate(cfg.ManagedMaxRPS, 1),
		Detect:   langdetect.DetectDocument,
	}, logging.Component(logger, "managed")))

	extractor, err := hybrid.New(filter, tiers, hybrid.Options{
		Timeout:          cfg.ExtractTimeout,
		Concurrency:      cfg.ExtractConcurrency,
		BatchPause:       disableOnZero(cfg.ExtractBatchPause),
		MaxArticles:      cfg.ListingMaxArticles,
		MaxLinks:         cfg.ListingMaxLinks,
		MinListingLinks:  cfg.ListingMinLinks,
		RateLimitRetries: rateLimitRetries(cfg),
		RateLimitBackoff: disableOnZero(cfg.RateLimitBackoff),
	}, logging.Component(logger, "hybrid"))
	if err != nil {
		return nil, fmt.Errorf("configure extraction orchestrator: %w", err)
	}

	embedder, err := similarity.NewEmbedder(ctx, similarity.EmbedderOptions{
		Provider: cfg.EmbeddingProvider,
		Endpoint: cfg.EmbeddingEndpoint,
		APIKey:   cfg.EmbeddingAPIKey,
		Model:    cfg.EmbeddingModel,
		Timeout:  cfg.EmbeddingTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("configure embedder: %w", err)
	}
	engine := similarity.NewEngine(embedder, cfg.EmbeddingBodyChars, logging.Component(logger, "similarity"))

	clusterer := dedup.New(engine, dedup.Options{
		PauseEvery: cfg.EmbeddingPauseEvery,
		Pause:      cfg.EmbeddingPause,
	}, logging.Component(logger, "dedup"))

	feeds := collect.NewFeedReader(collect.FeedOptions{
		UserAgent: cfg.UserAgent,
		HoursAgo:  cfg.FeedHoursAgo,
		Detect:    langdetect.DetectDocument,
	})
	// No messaging client ships with harvest; messaging sources report ErrMessagingNotConfigured.
	collector := collect.New(extractor, feeds, nil, cfg.CollectConcurrency, logging.Component(logger, "collect"))

	svc := pipeline.NewService(collector, clusterer, cfg.DedupThreshold, logging.Component(logger, "pipeline"))

	return &components{
		cfg:       cfg,
		filter:    filter,
		extractor: extractor,
		clusterer: clusterer,
		collector: collector,
		pipeline:  svc,
		embedder:  embedder,
	}, nil
}

// The orchestrator reads 0 as "use the default" and a negative value as "off", while an
// explicit 0 in the environment means off.
func disableOnZero(d time.Duration) time.Duration {
	if d == 0 {
		return -1
	}
	return d
}

func rateLimitRetries(cfg *config.Config) int {
	if cfg.RateLimitRetries == 0 {
		return -1
	}
	return cfg.RateLimitRetries
}
