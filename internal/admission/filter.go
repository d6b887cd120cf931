package admission

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"horse.fit/harvest/internal/globaltime"
	"horse.fit/harvest/internal/metrics"
)

const (
	DefaultHeadTimeout = 3 * time.Second
	DefaultGetTimeout  = 5 * time.Second
	DefaultProbeBytes  = 16 * 1024
	DefaultConcurrency = 8

	defaultUserAgent = "harvest-admission/1.0 (+https://horse.fit/harvest)"
)

// Options controls the network probe and batch fan-out.
type Options struct {
	Probe       bool
	HeadTimeout time.Duration
	GetTimeout  time.Duration
	ProbeBytes  int64
	UserAgent   string
	HTTPClient  *http.Client
	Concurrency int
}

// Filter decides whether URLs deserve paid extraction. All counters and cached verdicts
// live in the injected State.
type Filter struct {
	state    *State
	opts     Options
	prober   prober
	logger   zerolog.Logger
	inflight singleflight.Group
}

// BatchSummary aggregates one EvaluateBatch call.
type BatchSummary struct {
	Total        int           `json:"total"`
	Passed       int           `json:"passed"`
	Filtered     int           `json:"filtered"`
	FilterRate   float64       `json:"filter_rate"`
	CreditsSaved int           `json:"credits_saved"`
	Duration     time.Duration `json:"duration_ns"`
}

// BatchResult holds verdicts in input order plus passed/filtered partitions.
type BatchResult struct {
	Verdicts []Verdict    `json:"verdicts"`
	Passed   []Verdict    `json:"passed"`
	Filtered []Verdict    `json:"filtered"`
	Summary  BatchSummary `json:"summary"`
}

type cachedVerdict struct {
	Verdict
}

// New builds a Filter around state. A nil state gets a private one.
func New(state *State, opts Options, logger zerolog.Logger) *Filter {
	if state == nil {
		state = NewState(StateOptions{})
	}
	normalized := normalizeOptions(opts)
	client := normalized.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Filter{
		state:  state,
		opts:   normalized,
		prober: prober{client: client, opts: normalized},
		logger: logger,
	}
}

func normalizeOptions(opts Options) Options {
	normalized := opts
	if normalized.HeadTimeout <= 0 {
		normalized.HeadTimeout = DefaultHeadTimeout
	}
	if normalized.GetTimeout <= 0 {
		normalized.GetTimeout = DefaultGetTimeout
	}
	if normalized.ProbeBytes <= 0 {
		normalized.ProbeBytes = DefaultProbeBytes
	}
	if strings.TrimSpace(normalized.UserAgent) == "" {
		normalized.UserAgent = defaultUserAgent
	}
	if normalized.Concurrency <= 0 {
		normalized.Concurrency = DefaultConcurrency
	}
	return normalized
}

// State exposes the shared state for stats and resets.
func (f *Filter) State() *State {
	return f.state
}

// Evaluate runs the cache, pattern and probe stages for one URL. Concurrent calls for the
// same URL share a single decision; the callers that joined it get the same verdict and
// are counted as inflight_shared rather than as cache hits.
func (f *Filter) Evaluate(ctx context.Context, rawURL string) Verdict {
	key := strings.TrimSpace(rawURL)
	if cached, ok := f.state.lookup(key); ok {
		return f.serveCached(cached)
	}

	executed := false
	result, _, _ := f.inflight.Do(key, func() (any, error) {
		executed = true
		if cached, ok := f.state.lookup(key); ok {
			return cachedVerdict{cached}, nil
		}
		verdict := f.decide(ctx, key)
		f.state.store(key, verdict)
		f.state.recordDecision(verdict)
		f.logVerdict(verdict)
		return verdict, nil
	})

	switch out := result.(type) {
	case cachedVerdict:
		return f.serveCached(out.Verdict)
	case Verdict:
		if !executed {
			f.state.recordInflightShared(out)
		}
		return out
	default:
		return reject(key, StagePattern, ReasonInvalidURL)
	}
}

func (f *Filter) decide(ctx context.Context, pageURL string) Verdict {
	verdict := evaluatePattern(pageURL)
	if !verdict.Passed || !f.opts.Probe {
		return verdict
	}

	probed := f.prober.probe(ctx, pageURL)
	if probed.Reason == ReasonProbeFailed {
		probed.Confidence = verdict.Confidence
		f.logger.Debug().Str("url", pageURL).Msg("admission probe failed, passing url")
	}
	return probed
}

func (f *Filter) serveCached(v Verdict) Verdict {
	f.state.recordCacheHit(v)
	v.Stage = StageCache
	return v
}

func (f *Filter) logVerdict(v Verdict) {
	if v.Passed {
		return
	}
	f.logger.Debug().
		Str("url", v.URL).
		Str("stage", string(v.Stage)).
		Str("reason", v.Reason).
		Msg("url rejected by admission filter")
}

// EvaluateBatch evaluates urls with bounded concurrency and keeps input order.
func (f *Filter) EvaluateBatch(ctx context.Context, urls []string) BatchResult {
	started := globaltime.Now()
	verdicts := make([]Verdict, len(urls))

	var g errgroup.Group
	g.SetLimit(f.opts.Concurrency)
	for i, rawURL := range urls {
		g.Go(func() error {
			verdicts[i] = f.Evaluate(ctx, rawURL)
			return nil
		})
	}
	_ = g.Wait()

	result := BatchResult{
		Verdicts: verdicts,
		Passed:   make([]Verdict, 0, len(verdicts)),
		Filtered: make([]Verdict, 0),
	}
	for _, v := range verdicts {
		if v.Passed {
			result.Passed = append(result.Passed, v)
			continue
		}
		result.Filtered = append(result.Filtered, v)
		if v.Stage != StageCache {
			result.Summary.CreditsSaved++
		}
	}

	result.Summary.Total = len(verdicts)
	result.Summary.Passed = len(result.Passed)
	result.Summary.Filtered = len(result.Filtered)
	if len(verdicts) > 0 {
		result.Summary.FilterRate = float64(len(result.Filtered)) / float64(len(verdicts))
	}
	result.Summary.Duration = globaltime.Since(started)

	f.logger.Info().
		Int("total", result.Summary.Total).
		Int("passed", result.Summary.Passed).
		Int("filtered", result.Summary.Filtered).
		Int("credits_saved", result.Summary.CreditsSaved).
		Dur("duration", result.Summary.Duration).
		Msg("admission batch evaluated")

	return result
}

// Admitted returns the URLs of urls that pass, in input order.
func (f *Filter) Admitted(ctx context.Context, urls []string) []string {
	batch := f.EvaluateBatch(ctx, urls)
	out := make([]string, 0, len(batch.Passed))
	for _, v := range batch.Passed {
		out = append(out, v.URL)
	}
	return out
}

// Samples implements metrics.Snapshotter.
func (f *Filter) Samples() []metrics.Sample {
	stats := f.state.Stats()
	return []metrics.Sample{
		{Name: "url_filter_total", Help: "URLs evaluated by the admission filter", Value: float64(stats.Total)},
		{Name: "url_filter_passed", Help: "URLs admitted for extraction", Value: float64(stats.Passed)},
		{Name: "url_filter_rejected", Help: "URLs rejected by stage", Labels: map[string]string{"stage": "pattern"}, Value: float64(stats.FilteredByPattern)},
		{Name: "url_filter_rejected", Help: "URLs rejected by stage", Labels: map[string]string{"stage": "network-probe"}, Value: float64(stats.FilteredByProbe)},
		{Name: "url_filter_rejected", Help: "URLs rejected by stage", Labels: map[string]string{"stage": "cache"}, Value: float64(stats.FilteredByCache)},
		{Name: "url_filter_cache_hits", Help: "Verdicts served from the cache", Value: float64(stats.CacheHits)},
		{Name: "url_filter_inflight_shared_total", Help: "Verdicts shared with a concurrent evaluation of the same URL", Value: float64(stats.InflightShared)},
		{Name: "url_filter_credits_saved", Help: "Managed extraction calls avoided by filtering", Value: float64(stats.CreditsSaved)},
		{Name: "url_filter_cache_size", Help: "Current verdict cache size", Kind: metrics.Gauge, Value: float64(f.state.CacheSize())},
	}
}
