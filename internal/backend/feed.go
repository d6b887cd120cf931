package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"horse.fit/harvest/internal/document"
	"horse.fit/harvest/internal/reader"
)

const DefaultBridgeEndpoint = "http://localhost:8080"

// FeedBridgeOptions configures the L0 adapter. Domains maps a site domain to the bridge
// name that knows how to render it as a feed.
type FeedBridgeOptions struct {
	Endpoint   string
	Domains    map[string]string
	Format     string
	Timeout    time.Duration
	UserAgent  string
	HTTPClient *http.Client
	Detect     Detector
}

// FeedBridge turns social and paywalled pages into feeds through an RSS-Bridge style service.
type FeedBridge struct {
	opts    FeedBridgeOptions
	client  *http.Client
	domains []string
	logger  zerolog.Logger
}

func NewFeedBridge(opts FeedBridgeOptions, logger zerolog.Logger) *FeedBridge {
	normalized := opts
	if strings.TrimSpace(normalized.Endpoint) == "" {
		normalized.Endpoint = DefaultBridgeEndpoint
	}
	normalized.Endpoint = strings.TrimRight(strings.TrimSpace(normalized.Endpoint), "/")
	if normalized.Format == "" {
		normalized.Format = "Atom"
	}
	client := normalized.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	domains := make([]string, 0, len(normalized.Domains))
	for domain := range normalized.Domains {
		domains = append(domains, domain)
	}
	// Longest first so the most specific domain wins.
	sort.Slice(domains, func(i, j int) bool {
		if len(domains[i]) != len(domains[j]) {
			return len(domains[i]) > len(domains[j])
		}
		return domains[i] < domains[j]
	})

	return &FeedBridge{opts: normalized, client: client, domains: domains, logger: logger}
}

func (b *FeedBridge) Tier() Tier { return TierFeed }

// Eligible reports whether url belongs to a bridge-supported domain.
func (b *FeedBridge) Eligible(pageURL string) bool {
	_, ok := b.bridgeFor(pageURL)
	return ok
}

func (b *FeedBridge) bridgeFor(pageURL string) (string, bool) {
	host := document.Host(pageURL)
	for _, domain := range b.domains {
		if document.HostMatches(host, domain) {
			return b.opts.Domains[domain], true
		}
	}
	return "", false
}

func (b *FeedBridge) Extract(ctx context.Context, pageURL string, opts Options) Result {
	bridge, ok := b.bridgeFor(pageURL)
	if !ok {
		return failed(pageURL, TierFeed, FailureUnsupported, "domain has no feed bridge")
	}

	query := url.Values{}
	query.Set("action", "display")
	query.Set("bridge", bridge)
	query.Set("url", pageURL)
	query.Set("format", b.opts.Format)
	endpoint := b.opts.Endpoint + "/?" + query.Encode()

	callCtx, cancel := context.WithTimeout(ctx, timeoutOr(opts.Timeout, b.opts.Timeout))
	defer cancel()

	feed, cerr := fetchFeed(callCtx, b.client, endpoint, b.opts.UserAgent)
	if cerr != nil {
		return failed(pageURL, TierFeed, cerr.reason, cerr.detail)
	}
	if len(feed.Items) == 0 {
		return failed(pageURL, TierFeed, FailureUnsupported, "feed returned zero items")
	}

	docs := make([]document.Document, 0, len(feed.Items))
	for _, item := range feed.Items {
		docs = append(docs, FeedItemDocument(item, feed.Title))
	}
	b.logger.Debug().Str("url", pageURL).Str("bridge", bridge).Int("items", len(docs)).Msg("feed bridge extraction succeeded")
	return succeeded(pageURL, TierFeed, withLanguage(docs, b.opts.Detect), nil)
}

// FetchFeed downloads and parses a feed URL, classifying failures like every other adapter.
func FetchFeed(ctx context.Context, client *http.Client, feedURL, userAgent string) (*gofeed.Feed, FailureReason, error) {
	if client == nil {
		client = &http.Client{}
	}
	feed, cerr := fetchFeed(ctx, client, feedURL, userAgent)
	if cerr != nil {
		return nil, cerr.reason, cerr
	}
	return feed, "", nil
}

func fetchFeed(ctx context.Context, client *http.Client, feedURL, userAgent string) (*gofeed.Feed, *callError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, &callError{reason: FailureUnreachable, detail: fmt.Sprintf("build request: %v", err)}
	}
	if strings.TrimSpace(userAgent) != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	req.Header.Set("Accept", "application/atom+xml, application/rss+xml, application/xml;q=0.9, */*;q=0.5")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &callError{reason: FailureUnreachable, detail: transportDetail(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &callError{reason: ClassifyStatus(resp.StatusCode), detail: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	feed, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &callError{reason: FailureMalformedResponse, detail: fmt.Sprintf("parse feed: %v", err)}
	}
	return feed, nil
}

// FeedItemDocument converts a parsed feed item into a feed-sourced Document.
func FeedItemDocument(item *gofeed.Item, feedTitle string) document.Document {
	body := item.Content
	if strings.TrimSpace(body) == "" {
		body = item.Description
	}

	published := item.PublishedParsed
	if published == nil {
		published = item.UpdatedParsed
	}
	var publishedAt *time.Time
	if published != nil {
		utc := published.UTC()
		publishedAt = &utc
	}

	link := strings.TrimSpace(item.Link)
	if link == "" && len(item.Links) > 0 {
		link = strings.TrimSpace(item.Links[0])
	}

	meta := map[string]any{}
	if item.GUID != "" {
		meta["guid"] = item.GUID
	}
	if feedTitle != "" {
		meta["feed_title"] = feedTitle
	}
	if author := itemAuthor(item); author != "" {
		meta["author"] = author
	}
	if len(item.Categories) > 0 {
		meta["categories"] = item.Categories
	}
	if description := htmlToText(item.Description); description != "" {
		meta["description"] = description
	}

	return document.Document{
		URL:         link,
		Title:       strings.TrimSpace(item.Title),
		BodyText:    htmlToText(body),
		PublishedAt: publishedAt,
		Source:      document.SourceFeed,
		RawMetadata: meta,
	}
}

func itemAuthor(item *gofeed.Item) string {
	for _, person := range item.Authors {
		if person != nil && strings.TrimSpace(person.Name) != "" {
			return strings.TrimSpace(person.Name)
		}
	}
	return ""
}

func htmlToText(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if !strings.Contains(trimmed, "<") {
		return reader.CleanText(trimmed)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(trimmed))
	if err != nil {
		return reader.CleanText(trimmed)
	}
	doc.Find("script, style").Remove()
	doc.Find("p, br, div, li, h1, h2, h3, h4").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	return reader.CleanText(doc.Text())
}
