package collect

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/harvest/internal/backend"
	"horse.fit/harvest/internal/document"
	"horse.fit/harvest/internal/globaltime"
	"horse.fit/harvest/internal/hybrid"
)

const rssFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
<title>Example Feed</title>
<item>
  <title>Fresh story</title>
  <link>https://example.com/blog/fresh-story</link>
  <description>&lt;p&gt;Fresh &lt;b&gt;body&lt;/b&gt;&lt;/p&gt;</description>
  <pubDate>Sat, 17 Oct 2026 10:00:00 GMT</pubDate>
  <guid>fresh-1</guid>
</item>
<item>
  <title>Old story</title>
  <link>https://example.com/blog/old-story</link>
  <description>Old body</description>
  <pubDate>Mon, 05 Oct 2026 10:00:00 GMT</pubDate>
</item>
<item>
  <title>Undated story</title>
  <link>https://example.com/blog/undated-story</link>
  <description>No date</description>
</item>
</channel></rss>`

type fakeExtractor struct {
	urls []string
}

func (f *fakeExtractor) ExtractBatch(_ context.Context, urls []string) []hybrid.ExtractionResult {
	f.urls = append(f.urls, urls...)
	out := make([]hybrid.ExtractionResult, len(urls))
	for i, u := range urls {
		if u == "https://example.com/broken-page" {
			out[i] = hybrid.ExtractionResult{URL: u, State: hybrid.StateExhausted, FailureReason: string(backend.FailureUnreachable)}
			continue
		}
		out[i] = hybrid.ExtractionResult{
			URL:       u,
			State:     hybrid.StateSucceeded,
			Tier:      backend.TierManaged,
			Success:   true,
			Documents: []document.Document{{URL: u, Title: "scraped", Source: document.SourceScrape}},
		}
	}
	return out
}

type fakeMessages struct{}

func (fakeMessages) Messages(_ context.Context, channel string) ([]document.Document, error) {
	if channel == "@silent" {
		return nil, errors.New("channel not found")
	}
	return []document.Document{{URL: "https://t.me/" + channel + "/1", Title: "post", Source: document.SourceMessage}}, nil
}

func TestResolve(t *testing.T) {
	t.Parallel()

	cases := []struct {
		source string
		hint   SourceType
		want   SourceType
	}{
		{source: "https://example.com/blog/post-title", hint: TypeAuto, want: TypeScrape},
		{source: "https://example.com/rss.xml", hint: TypeAuto, want: TypeFeed},
		{source: "https://example.com/feed", hint: "", want: TypeFeed},
		{source: "@ai_news", hint: TypeAuto, want: TypeMessaging},
		{source: "https://example.com/rss.xml", hint: TypeScrape, want: TypeScrape},
	}
	for _, tc := range cases {
		if got := Resolve(tc.source, tc.hint); got != tc.want {
			t.Fatalf("Resolve(%q, %q) = %q, want %q", tc.source, tc.hint, got, tc.want)
		}
	}
}

func TestParseSourceType(t *testing.T) {
	t.Parallel()

	aliases := map[string]SourceType{"": TypeAuto, "RSS": TypeFeed, "firecrawl": TypeScrape, "telegram": TypeMessaging}
	for raw, want := range aliases {
		got, err := ParseSourceType(raw)
		if err != nil || got != want {
			t.Fatalf("ParseSourceType(%q) = %q, %v; want %q", raw, got, err, want)
		}
	}
	if _, err := ParseSourceType("pigeon"); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestFilterRecentKeepsUndated(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	fresh := now.Add(-2 * time.Hour)
	stale := now.Add(-48 * time.Hour)
	docs := []document.Document{
		{URL: "fresh", PublishedAt: &fresh},
		{URL: "stale", PublishedAt: &stale},
		{URL: "undated"},
	}

	got := FilterRecent(docs, 24*time.Hour, now)
	if len(got) != 2 || got[0].URL != "fresh" || got[1].URL != "undated" {
		t.Fatalf("FilterRecent() = %+v", got)
	}
}

func TestCollectMixedSources(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rss.xml" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rssFixture))
	}))
	defer server.Close()

	extractor := &fakeExtractor{}
	feeds := NewFeedReader(FeedOptions{HoursAgo: 72})
	c := New(extractor, feeds, fakeMessages{}, 2, zerolog.Nop())

	result := c.Collect(context.Background(), []Source{
		{Source: server.URL + "/rss.xml"},
		{Source: "https://example.com/blog/post-title"},
		{Source: "@ai_news", Type: TypeMessaging},
		{Source: "https://example.com/broken-page"},
		{Source: "@silent"},
		{Source: server.URL + "/missing.xml", Type: TypeFeed},
	})

	if result.Succeeded != 3 || result.Failed != 3 {
		t.Fatalf("expected 3 succeeded / 3 failed, got %+v", result.Sources)
	}
	if len(extractor.urls) != 2 {
		t.Fatalf("expected both scrape sources in one batch, got %v", extractor.urls)
	}

	feed := result.Sources[0]
	if feed.Type != TypeFeed || !feed.Success || feed.Count != 2 {
		t.Fatalf("expected two recent feed items, got %+v", feed)
	}
	if result.Documents[0].Title != "Fresh story" || result.Documents[0].BodyText != "Fresh body" {
		t.Fatalf("unexpected first feed document %+v", result.Documents[0])
	}
	if result.Documents[1].Title != "Undated story" {
		t.Fatalf("expected undated item kept, got %+v", result.Documents[1])
	}
	if len(result.Documents) != 4 {
		t.Fatalf("expected 4 documents in source order, got %d", len(result.Documents))
	}

	scrape := result.Sources[1]
	if scrape.Extraction == nil || scrape.Extraction.Tier != backend.TierManaged {
		t.Fatalf("expected extraction detail on scrape source, got %+v", scrape)
	}
	if broken := result.Sources[3]; broken.Success || broken.Error != string(backend.FailureUnreachable) {
		t.Fatalf("expected broken page failure, got %+v", broken)
	}
	if missing := result.Sources[5]; missing.Success || missing.Error == "" {
		t.Fatalf("expected missing feed failure, got %+v", missing)
	}
}

func TestCollectMessagingWithoutSource(t *testing.T) {
	t.Parallel()

	c := New(&fakeExtractor{}, nil, nil, 0, zerolog.Nop())
	result := c.Collect(context.Background(), []Source{{Source: "@channel", Type: TypeMessaging}})
	if result.Failed != 1 || result.Sources[0].Error != ErrMessagingNotConfigured.Error() {
		t.Fatalf("expected messaging failure, got %+v", result.Sources)
	}
}
