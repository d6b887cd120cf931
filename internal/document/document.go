package document

import (
	"fmt"
	"strings"
	"time"
)

// Source identifies the kind of origin a document came from.
type Source string

const (
	SourceFeed    Source = "feed"
	SourceScrape  Source = "scrape"
	SourceMessage Source = "message"
)

// ParseSource accepts the canonical names plus the aliases used by upstream callers.
func ParseSource(raw string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "feed", "rss", "atom":
		return SourceFeed, nil
	case "scrape", "scraper", "firecrawl", "web":
		return SourceScrape, nil
	case "message", "messaging", "telegram":
		return SourceMessage, nil
	default:
		return "", fmt.Errorf("unknown document source %q", raw)
	}
}

// Priority orders sources for canonical selection; higher wins.
func (s Source) Priority() int {
	switch s {
	case SourceMessage:
		return 3
	case SourceScrape:
		return 2
	case SourceFeed:
		return 1
	default:
		return 0
	}
}

// Document is an extracted piece of content. Values are treated as immutable once built;
// derived data such as embeddings live in parallel structures keyed by position.
type Document struct {
	URL         string         `json:"url"`
	Title       string         `json:"title"`
	BodyText    string         `json:"body_text"`
	PublishedAt *time.Time     `json:"published_at,omitempty"`
	Source      Source         `json:"source"`
	Language    string         `json:"language,omitempty"`
	RawMetadata map[string]any `json:"raw_metadata,omitempty"`
}

// DedupKey is the exact-match identity used before any embedding work: the canonical URL,
// or the normalized title when the URL is absent. An empty key means "no identity".
func (d Document) DedupKey() string {
	if canonical := CanonicalURL(d.URL); canonical != "" {
		return "url:" + canonical
	}
	if title := NormalizeTitle(d.Title); title != "" {
		return "title:" + title
	}
	return ""
}

// PublishedUnix returns the publish time in seconds, with a missing timestamp read as the epoch.
func (d Document) PublishedUnix() int64 {
	if d.PublishedAt == nil {
		return 0
	}
	return d.PublishedAt.Unix()
}

// NormalizeTitle lowercases and collapses whitespace.
func NormalizeTitle(raw string) string {
	return strings.ToLower(strings.Join(strings.Fields(raw), " "))
}

// WithMetadata returns a copy of d carrying an extra metadata key.
func (d Document) WithMetadata(key string, value any) Document {
	out := d
	out.RawMetadata = make(map[string]any, len(d.RawMetadata)+1)
	for k, v := range d.RawMetadata {
		out.RawMetadata[k] = v
	}
	out.RawMetadata[key] = value
	return out
}

// WithLanguage returns a copy of d tagged with lang.
func (d Document) WithLanguage(lang string) Document {
	out := d
	out.Language = lang
	return out
}
