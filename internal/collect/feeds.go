package collect

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"horse.fit/harvest/internal/backend"
	"horse.fit/harvest/internal/document"
	"horse.fit/harvest/internal/globaltime"
)

const DefaultFeedTimeout = 20 * time.Second

type FeedOptions struct {
	Timeout    time.Duration
	UserAgent  string
	HoursAgo   int
	HTTPClient *http.Client
	Detect     backend.Detector
}

// FeedReader fetches plain RSS/Atom feeds directly, without the feed bridge.
type FeedReader struct {
	opts   FeedOptions
	client *http.Client
}

func NewFeedReader(opts FeedOptions) *FeedReader {
	normalized := opts
	if normalized.Timeout <= 0 {
		normalized.Timeout = DefaultFeedTimeout
	}
	client := normalized.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &FeedReader{opts: normalized, client: client}
}

func (r *FeedReader) Read(ctx context.Context, feedURL string) ([]document.Document, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	feed, reason, err := backend.FetchFeed(callCtx, r.client, feedURL, r.opts.UserAgent)
	if err != nil {
		return nil, fmt.Errorf("fetch feed (%s): %w", reason, err)
	}

	docs := make([]document.Document, 0, len(feed.Items))
	for _, item := range feed.Items {
		doc := backend.FeedItemDocument(item, feed.Title)
		if r.opts.Detect != nil {
			doc = doc.WithLanguage(r.opts.Detect(doc.Title, doc.BodyText))
		}
		docs = append(docs, doc)
	}
	if r.opts.HoursAgo > 0 {
		docs = FilterRecent(docs, time.Duration(r.opts.HoursAgo)*time.Hour, globaltime.Now())
	}
	return docs, nil
}

// FilterRecent keeps documents published within window of now. Undated documents are kept.
func FilterRecent(docs []document.Document, window time.Duration, now time.Time) []document.Document {
	cutoff := now.Add(-window)
	out := make([]document.Document, 0, len(docs))
	for _, doc := range docs {
		if doc.PublishedAt == nil || !doc.PublishedAt.Before(cutoff) {
			out = append(out, doc)
		}
	}
	return out
}
