package hybrid

import (
	"sync/atomic"

	"horse.fit/harvest/internal/backend"
	"horse.fit/harvest/internal/metrics"
)

type tierCounters struct {
	attempts  atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
}

type counters struct {
	requests         atomic.Int64
	rejected         atomic.Int64
	succeeded        atomic.Int64
	exhausted        atomic.Int64
	rateLimitRetries atomic.Int64
	listingPages     atomic.Int64
	linksDiscovered  atomic.Int64
	linksAdmitted    atomic.Int64
	detailsExtracted atomic.Int64
	tiers            map[backend.Tier]*tierCounters
}

func newCounters() *counters {
	c := &counters{tiers: make(map[backend.Tier]*tierCounters, len(backend.Tiers))}
	for _, tier := range backend.Tiers {
		c.tiers[tier] = &tierCounters{}
	}
	return c
}

func (c *counters) attempt(tier backend.Tier) {
	if tc, ok := c.tiers[tier]; ok {
		tc.attempts.Add(1)
	}
}

func (c *counters) outcome(tier backend.Tier, success bool) {
	tc, ok := c.tiers[tier]
	if !ok {
		return
	}
	if success {
		tc.successes.Add(1)
		return
	}
	tc.failures.Add(1)
}

// Stats is a point-in-time copy of the orchestrator counters.
type Stats struct {
	Requests         int64                      `json:"requests"`
	Rejected         int64                      `json:"rejected"`
	Succeeded        int64                      `json:"succeeded"`
	Exhausted        int64                      `json:"exhausted"`
	RateLimitRetries int64                      `json:"rate_limit_retries"`
	ListingPages     int64                      `json:"listing_pages"`
	LinksDiscovered  int64                      `json:"links_discovered"`
	LinksAdmitted    int64                      `json:"links_admitted"`
	DetailsExtracted int64                      `json:"details_extracted"`
	Tiers            map[backend.Tier]TierStats `json:"tiers"`
}

type TierStats struct {
	Attempts  int64 `json:"attempts"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`
}

// ManagedCalls is the number of paid extraction calls made.
func (s Stats) ManagedCalls() int64 {
	return s.Tiers[backend.TierManaged].Attempts
}

func (o *Orchestrator) Stats() Stats {
	c := o.counters
	stats := Stats{
		Requests:         c.requests.Load(),
		Rejected:         c.rejected.Load(),
		Succeeded:        c.succeeded.Load(),
		Exhausted:        c.exhausted.Load(),
		RateLimitRetries: c.rateLimitRetries.Load(),
		ListingPages:     c.listingPages.Load(),
		LinksDiscovered:  c.linksDiscovered.Load(),
		LinksAdmitted:    c.linksAdmitted.Load(),
		DetailsExtracted: c.detailsExtracted.Load(),
		Tiers:            make(map[backend.Tier]TierStats, len(c.tiers)),
	}
	for tier, tc := range c.tiers {
		stats.Tiers[tier] = TierStats{
			Attempts:  tc.attempts.Load(),
			Successes: tc.successes.Load(),
			Failures:  tc.failures.Load(),
		}
	}
	return stats
}

// Samples exports the orchestrator counters; admission counters come from the filter.
func (o *Orchestrator) Samples() []metrics.Sample {
	stats := o.Stats()
	samples := []metrics.Sample{
		{Name: "extraction_requests_total", Help: "URLs submitted for extraction", Value: float64(stats.Requests)},
		{Name: "extraction_results_total", Help: "Extraction chains by terminal state", Labels: map[string]string{"state": string(StateRejected)}, Value: float64(stats.Rejected)},
		{Name: "extraction_results_total", Help: "Extraction chains by terminal state", Labels: map[string]string{"state": string(StateSucceeded)}, Value: float64(stats.Succeeded)},
		{Name: "extraction_results_total", Help: "Extraction chains by terminal state", Labels: map[string]string{"state": string(StateExhausted)}, Value: float64(stats.Exhausted)},
	}
	for _, tier := range backend.Tiers {
		ts := stats.Tiers[tier]
		labels := map[string]string{"tier": string(tier)}
		samples = append(samples,
			metrics.Sample{Name: "extraction_tier_attempts_total", Help: "Backend calls by tier", Labels: labels, Value: float64(ts.Attempts)},
			metrics.Sample{Name: "extraction_tier_failures_total", Help: "Failed backend calls by tier", Labels: labels, Value: float64(ts.Failures)},
		)
	}
	samples = append(samples,
		metrics.Sample{Name: "extraction_managed_calls_total", Help: "Paid extraction calls", Value: float64(stats.ManagedCalls())},
		metrics.Sample{Name: "extraction_rate_limit_retries_total", Help: "Retries after rate_limited failures", Value: float64(stats.RateLimitRetries)},
		metrics.Sample{Name: "extraction_listing_pages_total", Help: "Pages expanded as listings", Value: float64(stats.ListingPages)},
		metrics.Sample{Name: "extraction_listing_links_total", Help: "Listing links by disposition", Labels: map[string]string{"disposition": "discovered"}, Value: float64(stats.LinksDiscovered)},
		metrics.Sample{Name: "extraction_listing_links_total", Help: "Listing links by disposition", Labels: map[string]string{"disposition": "admitted"}, Value: float64(stats.LinksAdmitted)},
		metrics.Sample{Name: "extraction_listing_links_total", Help: "Listing links by disposition", Labels: map[string]string{"disposition": "extracted"}, Value: float64(stats.DetailsExtracted)},
	)
	return samples
}
