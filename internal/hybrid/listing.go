package hybrid

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"horse.fit/harvest/internal/backend"
	"horse.fit/harvest/internal/document"
	"horse.fit/harvest/internal/throttle"
)

var excludedLinkFragments = []string{"/tag/", "/category/", "/author/", "/page/", "/search/", "#"}

// relevantLinks keeps same-site links that do not point at listing pages, deduplicated by
// canonical URL, capped at limit.
func relevantLinks(pageURL string, links []string, limit int) []string {
	self := document.CanonicalURL(pageURL)
	seen := map[string]struct{}{self: {}}
	out := make([]string, 0, min(len(links), limit))

	for _, link := range links {
		if len(out) >= limit {
			break
		}
		trimmed := strings.TrimSpace(link)
		if trimmed == "" || !document.SameSite(pageURL, trimmed) {
			continue
		}
		lower := strings.ToLower(trimmed)
		excluded := false
		for _, fragment := range excludedLinkFragments {
			if strings.Contains(lower, fragment) {
				excluded = true
				break
			}
		}
		if excluded {
			continue
		}
		canonical := document.CanonicalURL(trimmed)
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

// expandListing treats a managed-tier page with enough relevant links as a listing page:
// each link is re-admitted, capped, and extracted on the managed tier. When no detail page
// yields a document the listing page's own content is kept if it has any.
func (o *Orchestrator) expandListing(ctx context.Context, pageURL string, main backend.Result) (backend.Result, *ListingSummary) {
	candidates := relevantLinks(pageURL, main.Links, o.opts.MaxLinks)
	if len(candidates) < o.opts.MinListingLinks {
		return main, nil
	}

	o.counters.listingPages.Add(1)
	o.counters.linksDiscovered.Add(int64(len(candidates)))

	admitted := o.filter.Admitted(ctx, candidates)
	if len(admitted) > o.opts.MaxArticles {
		admitted = admitted[:o.opts.MaxArticles]
	}
	o.counters.linksAdmitted.Add(int64(len(admitted)))

	summary := &ListingSummary{Discovered: len(candidates), Admitted: len(admitted)}
	docs := o.extractDetails(ctx, admitted)
	summary.Extracted = len(docs)

	o.logger.Info().
		Str("url", pageURL).
		Int("discovered", summary.Discovered).
		Int("admitted", summary.Admitted).
		Int("extracted", summary.Extracted).
		Msg("listing page expanded")

	if len(docs) > 0 {
		out := main
		out.Documents = docs
		return out, summary
	}
	if hasContent(main.Documents) {
		return main, summary
	}
	failed := main
	failed.Success = false
	failed.Documents = nil
	failed.Failure = backend.FailureUnsupported
	failed.Detail = "listing page yielded no articles"
	return failed, summary
}

// extractDetails runs detail extractions on the managed tier, Concurrency at a time, with
// the batch pause between windows.
func (o *Orchestrator) extractDetails(ctx context.Context, urls []string) []document.Document {
	results := make([]backend.Result, len(urls))
	pacer := throttle.NewWindow(1, o.opts.BatchPause, o.opts.Sleeper)

	for start := 0; start < len(urls); start += o.opts.Concurrency {
		end := min(start+o.opts.Concurrency, len(urls))
		if err := pacer.Wait(ctx); err != nil {
			break
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				res, _ := o.attempt(ctx, o.managed, urls[i], false)
				results[i] = res
				return nil
			})
		}
		_ = g.Wait()
	}

	var docs []document.Document
	for _, res := range results {
		if res.Success {
			o.counters.detailsExtracted.Add(1)
			docs = append(docs, res.Documents...)
		}
	}
	return docs
}

func hasContent(docs []document.Document) bool {
	for _, doc := range docs {
		if strings.TrimSpace(doc.BodyText) != "" {
			return true
		}
	}
	return false
}
