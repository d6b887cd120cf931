package hybrid

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"horse.fit/harvest/internal/admission"
	"horse.fit/harvest/internal/backend"
	"horse.fit/harvest/internal/document"
	"horse.fit/harvest/internal/throttle"
)

const (
	DefaultConcurrency      = 5
	DefaultBatchPause       = time.Second
	DefaultMaxArticles      = 30
	DefaultMaxLinks         = 50
	DefaultMinListingLinks  = 2
	DefaultRateLimitRetries = 1
	DefaultRateLimitBackoff = 2 * time.Second
)

// State is the terminal state of one URL's extraction chain.
type State string

const (
	StateRejected  State = "rejected"
	StateSucceeded State = "succeeded"
	StateExhausted State = "exhausted"
)

// Admitter is the slice of the admission filter the orchestrator depends on.
type Admitter interface {
	Evaluate(ctx context.Context, url string) admission.Verdict
	Admitted(ctx context.Context, urls []string) []string
}

// Options tune escalation, listing discovery and pacing. Zero values take the defaults.
// A negative BatchPause, RateLimitRetries or RateLimitBackoff disables that behavior.
// Concurrency also caps in-flight managed-tier calls across top-level and listing
// detail extractions.
type Options struct {
	Timeout          time.Duration
	Concurrency      int
	BatchPause       time.Duration
	MaxArticles      int
	MaxLinks         int
	MinListingLinks  int
	RateLimitRetries int
	RateLimitBackoff time.Duration
	Sleeper          throttle.Sleeper
}

// Attempt records one tier's outcome within a chain.
type Attempt struct {
	Tier    backend.Tier          `json:"tier"`
	Success bool                  `json:"success"`
	Failure backend.FailureReason `json:"failure,omitempty"`
	Detail  string                `json:"detail,omitempty"`
	Retries int                   `json:"retries,omitempty"`
}

// ListingSummary describes relevant-link discovery on a listing page.
type ListingSummary struct {
	Discovered int `json:"discovered"`
	Admitted   int `json:"admitted"`
	Extracted  int `json:"extracted"`
}

// ExtractionResult is emitted exactly once per input URL.
type ExtractionResult struct {
	URL           string              `json:"url"`
	State         State               `json:"state"`
	Tier          backend.Tier        `json:"tier,omitempty"`
	Success       bool                `json:"success"`
	Documents     []document.Document `json:"documents,omitempty"`
	FailureReason string              `json:"failure_reason,omitempty"`
	Attempts      []Attempt           `json:"attempts,omitempty"`
	Verdict       admission.Verdict   `json:"verdict"`
	Listing       *ListingSummary     `json:"listing,omitempty"`
}

// Orchestrator walks the tiers cheapest first and stops at the first success.
type Orchestrator struct {
	filter       Admitter
	tiers        []backend.Backend
	managed      backend.Backend
	managedSlots *semaphore.Weighted
	opts         Options
	logger       zerolog.Logger
	counters     *counters
}

// New validates the tier list. A managed tier is mandatory; the others are optional.
func New(filter Admitter, tiers []backend.Backend, opts Options, logger zerolog.Logger) (*Orchestrator, error) {
	if filter == nil {
		return nil, fmt.Errorf("admission filter is required")
	}

	ordered := make([]backend.Backend, 0, len(tiers))
	seen := make(map[backend.Tier]struct{}, len(tiers))
	var managed backend.Backend
	for _, b := range tiers {
		if b == nil {
			continue
		}
		tier := b.Tier()
		if _, dup := seen[tier]; dup {
			return nil, fmt.Errorf("duplicate backend for tier %s", tier)
		}
		seen[tier] = struct{}{}
		if tier == backend.TierManaged {
			managed = b
		}
		ordered = append(ordered, b)
	}
	if managed == nil {
		return nil, fmt.Errorf("managed tier %s is required", backend.TierManaged)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Tier().Rank() < ordered[j].Tier().Rank()
	})

	normalized := normalizeOptions(opts)
	return &Orchestrator{
		filter:       filter,
		tiers:        ordered,
		managed:      managed,
		managedSlots: semaphore.NewWeighted(int64(normalized.Concurrency)),
		opts:         normalized,
		logger:       logger,
		counters:     newCounters(),
	}, nil
}

func normalizeOptions(opts Options) Options {
	normalized := opts
	if normalized.Concurrency <= 0 {
		normalized.Concurrency = DefaultConcurrency
	}
	if normalized.BatchPause == 0 {
		normalized.BatchPause = DefaultBatchPause
	}
	if normalized.MaxArticles <= 0 {
		normalized.MaxArticles = DefaultMaxArticles
	}
	if normalized.MaxLinks <= 0 {
		normalized.MaxLinks = DefaultMaxLinks
	}
	if normalized.MinListingLinks <= 0 {
		normalized.MinListingLinks = DefaultMinListingLinks
	}
	switch {
	case normalized.RateLimitRetries == 0:
		normalized.RateLimitRetries = DefaultRateLimitRetries
	case normalized.RateLimitRetries < 0:
		normalized.RateLimitRetries = 0
	}
	switch {
	case normalized.RateLimitBackoff == 0:
		normalized.RateLimitBackoff = DefaultRateLimitBackoff
	case normalized.RateLimitBackoff < 0:
		normalized.RateLimitBackoff = 0
	}
	if normalized.Sleeper == nil {
		normalized.Sleeper = throttle.SleepContext
	}
	return normalized
}

// Tiers returns the configured tiers in escalation order.
func (o *Orchestrator) Tiers() []backend.Tier {
	out := make([]backend.Tier, 0, len(o.tiers))
	for _, b := range o.tiers {
		out = append(out, b.Tier())
	}
	return out
}

// Extract runs admission then the tier chain for one URL. Failures of every kind are
// reported in the result; this never returns an error.
func (o *Orchestrator) Extract(ctx context.Context, pageURL string) ExtractionResult {
	o.counters.requests.Add(1)

	verdict := o.filter.Evaluate(ctx, pageURL)
	result := ExtractionResult{URL: pageURL, Verdict: verdict}
	if !verdict.Passed {
		o.counters.rejected.Add(1)
		result.State = StateRejected
		result.FailureReason = "filtered: " + verdict.Reason
		return result
	}

	for _, b := range o.tiers {
		if gate, ok := b.(backend.Eligibility); ok && !gate.Eligible(pageURL) {
			continue
		}

		res, retries := o.attempt(ctx, b, pageURL, b.Tier() == backend.TierManaged)
		if res.Success && b.Tier() == backend.TierManaged {
			var listing *ListingSummary
			res, listing = o.expandListing(ctx, pageURL, res)
			result.Listing = listing
		}

		result.Attempts = append(result.Attempts, Attempt{
			Tier:    b.Tier(),
			Success: res.Success,
			Failure: res.Failure,
			Detail:  res.Detail,
			Retries: retries,
		})

		if res.Success {
			o.counters.succeeded.Add(1)
			result.State = StateSucceeded
			result.Tier = b.Tier()
			result.Success = true
			result.Documents = res.Documents
			return result
		}

		result.FailureReason = string(res.Failure)
		o.logger.Info().
			Str("url", pageURL).
			Str("tier", string(b.Tier())).
			Str("failure", string(res.Failure)).
			Str("detail", res.Detail).
			Msg("extraction tier failed")
	}

	o.counters.exhausted.Add(1)
	result.State = StateExhausted
	o.logger.Warn().Str("url", pageURL).Str("failure", result.FailureReason).Msg("extraction exhausted every tier")
	return result
}

// attempt calls one tier, retrying only rate_limited failures after a fixed backoff.
func (o *Orchestrator) attempt(ctx context.Context, b backend.Backend, pageURL string, withLinks bool) (backend.Result, int) {
	tier := b.Tier()
	opts := backend.Options{Timeout: o.opts.Timeout, OnlyMainContent: true, WithLinks: withLinks}

	retries := 0
	for {
		res, err := o.call(ctx, b, pageURL, opts)
		if err != nil {
			return res, retries
		}
		o.counters.outcome(tier, res.Success)
		if res.Success || res.Failure != backend.FailureRateLimited || retries >= o.opts.RateLimitRetries {
			return res, retries
		}
		retries++
		o.counters.rateLimitRetries.Add(1)
		if err := o.opts.Sleeper(ctx, o.opts.RateLimitBackoff); err != nil {
			return res, retries
		}
	}
}

// call runs one backend request. Managed-tier requests hold a slot of managedSlots for
// the duration of the request only, never across listing expansion or backoff.
func (o *Orchestrator) call(ctx context.Context, b backend.Backend, pageURL string, opts backend.Options) (backend.Result, error) {
	tier := b.Tier()
	if tier == backend.TierManaged {
		if err := o.managedSlots.Acquire(ctx, 1); err != nil {
			return backend.Result{
				URL:     pageURL,
				Tier:    tier,
				Failure: backend.FailureUnreachable,
				Detail:  fmt.Sprintf("waiting for managed slot: %v", err),
			}, err
		}
		defer o.managedSlots.Release(1)
	}
	o.counters.attempt(tier)
	return b.Extract(ctx, pageURL, opts), nil
}

// ExtractBatch processes urls in windows of Concurrency with a fixed pause between windows.
// Results keep input order.
func (o *Orchestrator) ExtractBatch(ctx context.Context, urls []string) []ExtractionResult {
	results := make([]ExtractionResult, len(urls))
	pacer := throttle.NewWindow(1, o.opts.BatchPause, o.opts.Sleeper)

	for start := 0; start < len(urls); start += o.opts.Concurrency {
		end := min(start+o.opts.Concurrency, len(urls))
		if err := pacer.Wait(ctx); err != nil {
			for i := start; i < len(urls); i++ {
				results[i] = o.cancelled(urls[i], err)
			}
			return results
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i] = o.Extract(ctx, urls[i])
				return nil
			})
		}
		_ = g.Wait()
	}
	return results
}

func (o *Orchestrator) cancelled(pageURL string, err error) ExtractionResult {
	o.counters.requests.Add(1)
	o.counters.exhausted.Add(1)
	return ExtractionResult{
		URL:           pageURL,
		State:         StateExhausted,
		FailureReason: fmt.Sprintf("batch cancelled: %v", err),
	}
}

// Documents flattens the documents of successful results, preserving order.
func Documents(results []ExtractionResult) []document.Document {
	var docs []document.Document
	for _, r := range results {
		if r.Success {
			docs = append(docs, r.Documents...)
		}
	}
	return docs
}
