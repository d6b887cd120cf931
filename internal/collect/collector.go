package collect

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/harvest/internal/document"
	"horse.fit/harvest/internal/hybrid"
)

const DefaultConcurrency = 4

var ErrMessagingNotConfigured = errors.New("messaging source not configured")

// MessageSource reads recent posts from a messaging channel.
type MessageSource interface {
	Messages(ctx context.Context, channel string) ([]document.Document, error)
}

// Extractor is the orchestrator surface used for scrape sources.
type Extractor interface {
	ExtractBatch(ctx context.Context, urls []string) []hybrid.ExtractionResult
}

type SourceResult struct {
	Source     string                   `json:"source"`
	Type       SourceType               `json:"type"`
	Success    bool                     `json:"success"`
	Count      int                      `json:"count"`
	Error      string                   `json:"error,omitempty"`
	Extraction *hybrid.ExtractionResult `json:"extraction,omitempty"`
}

type Result struct {
	Documents []document.Document `json:"documents"`
	Sources   []SourceResult      `json:"sources"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
}

type Collector struct {
	extractor   Extractor
	feeds       *FeedReader
	messages    MessageSource
	concurrency int
	logger      zerolog.Logger
}

// New wires the collaborators. messages may be nil; messaging sources then fail individually.
func New(extractor Extractor, feeds *FeedReader, messages MessageSource, concurrency int, logger zerolog.Logger) *Collector {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if feeds == nil {
		feeds = NewFeedReader(FeedOptions{})
	}
	return &Collector{
		extractor:   extractor,
		feeds:       feeds,
		messages:    messages,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Collect reads every source and returns the flat document list in source order plus a
// per-source breakdown. Scrape sources go through the orchestrator as one batch.
func (c *Collector) Collect(ctx context.Context, sources []Source) Result {
	results := make([]SourceResult, len(sources))
	docs := make([][]document.Document, len(sources))

	var scrapeIdx []int
	var scrapeURLs []string
	var g errgroup.Group
	g.SetLimit(c.concurrency)

	for i, src := range sources {
		name := strings.TrimSpace(src.Source)
		kind := Resolve(name, src.Type)
		results[i] = SourceResult{Source: name, Type: kind}

		switch kind {
		case TypeScrape:
			scrapeIdx = append(scrapeIdx, i)
			scrapeURLs = append(scrapeURLs, name)
		case TypeFeed:
			g.Go(func() error {
				items, err := c.feeds.Read(ctx, name)
				docs[i] = items
				results[i] = finish(results[i], len(items), err)
				return nil
			})
		case TypeMessaging:
			g.Go(func() error {
				if c.messages == nil {
					results[i] = finish(results[i], 0, ErrMessagingNotConfigured)
					return nil
				}
				items, err := c.messages.Messages(ctx, name)
				docs[i] = items
				results[i] = finish(results[i], len(items), err)
				return nil
			})
		default:
			results[i] = finish(results[i], 0, fmt.Errorf("unknown source type %q", kind))
		}
	}

	if len(scrapeURLs) > 0 {
		g.Go(func() error {
			if c.extractor == nil {
				for _, idx := range scrapeIdx {
					results[idx] = finish(results[idx], 0, fmt.Errorf("extractor not configured"))
				}
				return nil
			}
			extracted := c.extractor.ExtractBatch(ctx, scrapeURLs)
			for n, idx := range scrapeIdx {
				res := extracted[n]
				results[idx].Extraction = &res
				docs[idx] = res.Documents
				var err error
				if !res.Success {
					err = errors.New(res.FailureReason)
				}
				results[idx] = finish(results[idx], len(res.Documents), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	out := Result{Sources: results}
	for i, r := range results {
		if r.Success {
			out.Succeeded++
			out.Documents = append(out.Documents, docs[i]...)
			continue
		}
		out.Failed++
		c.logger.Warn().Str("source", r.Source).Str("type", string(r.Type)).Str("error", r.Error).Msg("source collection failed")
	}
	return out
}

func finish(r SourceResult, count int, err error) SourceResult {
	if err != nil {
		r.Success = false
		r.Error = err.Error()
		return r
	}
	r.Success = true
	r.Count = count
	return r
}
