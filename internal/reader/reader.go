package reader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"
)

const (
	DefaultFetchTimeout  = 12 * time.Second
	DefaultBodyByteLimit = 2 * 1024 * 1024

	defaultUserAgent = "harvest-reader/1.0 (+https://horse.fit/harvest)"
)

// ErrEmptyContent is returned when nothing readable could be extracted.
var ErrEmptyContent = errors.New("reader extracted empty content")

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch status %d", e.Code)
}

// FetchOptions controls HTTP behavior for page extraction.
type FetchOptions struct {
	Timeout       time.Duration
	BodyByteLimit int64
	UserAgent     string
	HTTPClient    *http.Client
}

// Page is the readable projection of an HTML page.
type Page struct {
	URL         string
	Title       string
	Description string
	Text        string
	PublishedAt *time.Time
	Links       []string
}

// Fetch retrieves pageURL and extracts its readable content and outbound links.
func Fetch(ctx context.Context, pageURL string, opts FetchOptions) (Page, error) {
	page := strings.TrimSpace(pageURL)
	if page == "" {
		return Page{}, fmt.Errorf("page URL is required")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	bodyLimit := opts.BodyByteLimit
	if bodyLimit <= 0 {
		bodyLimit = DefaultBodyByteLimit
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, page, nil)
	if err != nil {
		return Page{}, fmt.Errorf("build request: %w", err)
	}

	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Page{}, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, bodyLimit))
	if err != nil {
		return Page{}, fmt.Errorf("read body: %w", err)
	}

	return Parse(body, page, resp.Header.Get("Content-Type"))
}

// Parse extracts readable content from an already fetched body.
func Parse(body []byte, pageURL string, contentType string) (Page, error) {
	page := Page{URL: pageURL}
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "text/plain") {
		page.Text = CleanText(string(body))
		if page.Text == "" {
			return page, ErrEmptyContent
		}
		return page, nil
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return page, fmt.Errorf("parse page url: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return page, fmt.Errorf("parse html: %w", err)
	}
	page.Title = pageTitle(doc)
	page.Description = firstContent(doc, `meta[name="description"]`, `meta[property="og:description"]`)
	page.PublishedAt = publishedAt(doc)
	page.Links = ExtractLinks(doc, base)

	article, err := readability.FromReader(bytes.NewReader(body), base)
	if err != nil {
		return page, fmt.Errorf("readability parse: %w", err)
	}

	var rendered bytes.Buffer
	if err := article.RenderText(&rendered); err != nil {
		return page, fmt.Errorf("render readability text: %w", err)
	}

	page.Text = CleanText(rendered.String())
	if page.Text == "" {
		page.Text = CleanText(article.Excerpt())
	}
	if page.Text == "" {
		page.Text = CleanText(page.Description)
	}
	if page.Text == "" && page.Title == "" {
		return page, ErrEmptyContent
	}
	return page, nil
}

// ExtractLinks returns absolute http(s) links found in anchors, deduplicated, in document order.
func ExtractLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := ref
		if base != nil {
			abs = base.ResolveReference(ref)
		}
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		link := abs.String()
		if _, ok := seen[link]; ok {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links
}

func pageTitle(doc *goquery.Document) string {
	if title := firstContent(doc, `meta[property="og:title"]`); title != "" {
		return title
	}
	if title := collapse(doc.Find("title").First().Text()); title != "" {
		return title
	}
	return collapse(doc.Find("h1").First().Text())
}

func publishedAt(doc *goquery.Document) *time.Time {
	raw := firstContent(doc,
		`meta[property="article:published_time"]`,
		`meta[itemprop="datePublished"]`,
		`meta[name="pubdate"]`,
	)
	if raw == "" {
		if value, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
			raw = strings.TrimSpace(value)
		}
	}
	return ParseTime(raw)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

// ParseTime reads the common publish-date encodings. It returns nil when raw is unusable.
func ParseTime(raw string) *time.Time {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			utc := parsed.UTC()
			return &utc
		}
	}
	return nil
}

func firstContent(doc *goquery.Document, selectors ...string) string {
	for _, selector := range selectors {
		if value, ok := doc.Find(selector).First().Attr("content"); ok {
			if cleaned := collapse(value); cleaned != "" {
				return cleaned
			}
		}
	}
	return ""
}

func collapse(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

// CleanText normalizes line endings and collapses extra in-line whitespace.
func CleanText(raw string) string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	lines := strings.Split(normalized, "\n")
	paragraphs := make([]string, 0, len(lines))
	for _, line := range lines {
		clean := strings.Join(strings.Fields(line), " ")
		if clean == "" {
			continue
		}
		paragraphs = append(paragraphs, clean)
	}

	return strings.Join(paragraphs, "\n\n")
}

// TruncateText clips text to maxChars runes and appends a single ellipsis rune when truncated.
func TruncateText(raw string, maxChars int) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || maxChars <= 0 {
		return trimmed, false
	}

	runes := []rune(trimmed)
	if len(runes) <= maxChars {
		return trimmed, false
	}
	if maxChars == 1 {
		return "…", true
	}

	clipped := strings.TrimSpace(string(runes[:maxChars-1]))
	if clipped == "" {
		return "…", true
	}
	return clipped + "…", true
}
