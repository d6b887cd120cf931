package admission

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	maxTitleRunes       = 200
	maxDescriptionRunes = 300
	minTitleRunes       = 10
)

var (
	articleMarkupPattern = regexp.MustCompile(`(?i)articleBody|article:published|og:article`)
	articleLDTypePattern = regexp.MustCompile(`"@type"\s*:\s*\[?\s*"(\w*Article|BlogPosting|SocialMediaPosting)"`)
)

// signalWords mark listing and index pages. Each pattern matches whole words only.
var signalWords = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"archive", regexp.MustCompile(`(?i)\barchives?\b`)},
	{"category", regexp.MustCompile(`(?i)\bcategor(y|ies)\b`)},
	{"tag", regexp.MustCompile(`(?i)\btags?\b`)},
	{"search_results", regexp.MustCompile(`(?i)\bsearch results\b`)},
	{"page", regexp.MustCompile(`(?i)\bpage\b`)},
	{"index", regexp.MustCompile(`(?i)\bindex\b`)},
}

type prober struct {
	client *http.Client
	opts   Options
}

// probe inspects the live page. A transport failure or timeout yields ReasonProbeFailed
// with Passed=true so that transient outages never discard content.
func (p prober) probe(ctx context.Context, pageURL string) Verdict {
	headStatus, headType, headErr := p.head(ctx, pageURL)
	if headErr == nil {
		if headStatus == http.StatusNotFound || headStatus == http.StatusGone {
			return p.rejectWith(pageURL, ReasonUnreachable, &Metadata{ContentType: headType})
		}
		if headStatus >= 200 && headStatus < 300 && headType != "" && !isHTML(headType) {
			return p.rejectWith(pageURL, ReasonNotHTML, &Metadata{ContentType: headType})
		}
	}

	status, contentType, body, err := p.fetchPrefix(ctx, pageURL)
	if err != nil {
		return Verdict{URL: pageURL, Passed: true, Stage: StageProbe, Reason: ReasonProbeFailed}
	}
	if status == http.StatusNotFound || status == http.StatusGone {
		return p.rejectWith(pageURL, ReasonUnreachable, &Metadata{ContentType: contentType})
	}
	if status < 200 || status >= 300 {
		return p.rejectWith(pageURL, ReasonHTTPError, &Metadata{ContentType: contentType})
	}
	if contentType != "" && !isHTML(contentType) {
		return p.rejectWith(pageURL, ReasonNotHTML, &Metadata{ContentType: contentType})
	}

	meta, err := parseMetadata(body)
	if err != nil {
		return Verdict{URL: pageURL, Passed: true, Stage: StageProbe, Reason: ReasonProbeFailed}
	}
	meta.ContentType = contentType

	verdict := validateMetadata(meta)
	verdict.URL = pageURL
	verdict.Stage = StageProbe
	verdict.Metadata = &meta
	return verdict
}

func (p prober) rejectWith(pageURL, reason string, meta *Metadata) Verdict {
	v := reject(pageURL, StageProbe, reason)
	v.Metadata = meta
	return v
}

func (p prober) head(ctx context.Context, pageURL string) (int, string, error) {
	headCtx, cancel := context.WithTimeout(ctx, p.opts.HeadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(headCtx, http.MethodHead, pageURL, nil)
	if err != nil {
		return 0, "", fmt.Errorf("build head request: %w", err)
	}
	p.decorate(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("head request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	return resp.StatusCode, contentTypeOf(resp), nil
}

func (p prober) fetchPrefix(ctx context.Context, pageURL string) (int, string, []byte, error) {
	getCtx, cancel := context.WithTimeout(ctx, p.opts.GetTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(getCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		return 0, "", nil, fmt.Errorf("build get request: %w", err)
	}
	p.decorate(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, "", nil, fmt.Errorf("get request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.opts.ProbeBytes))
	if err != nil && len(body) == 0 {
		return 0, "", nil, fmt.Errorf("read body prefix: %w", err)
	}
	return resp.StatusCode, contentTypeOf(resp), body, nil
}

func (p prober) decorate(req *http.Request) {
	req.Header.Set("User-Agent", p.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")
}

func contentTypeOf(resp *http.Response) string {
	return strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Type")))
}

func isHTML(contentType string) bool {
	return strings.Contains(contentType, "text/html") || strings.Contains(contentType, "application/xhtml")
}

// parseMetadata reads head metadata from a possibly truncated HTML prefix.
func parseMetadata(html []byte) (Metadata, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return Metadata{}, fmt.Errorf("parse html prefix: %w", err)
	}

	var meta Metadata
	meta.Title = clip(collapse(doc.Find("title").First().Text()), maxTitleRunes)
	if meta.Title == "" {
		meta.Title = clip(metaContent(doc, `meta[property="og:title"]`), maxTitleRunes)
	}
	meta.Description = clip(metaContent(doc,
		`meta[name="description"]`,
		`meta[name="Description"]`,
		`meta[property="og:description"]`,
	), maxDescriptionRunes)
	meta.OGType = strings.ToLower(metaContent(doc, `meta[property="og:type"]`))
	meta.PublishedAt = metaContent(doc,
		`meta[property="article:published_time"]`,
		`meta[itemprop="datePublished"]`,
		`meta[name="pubdate"]`,
	)

	meta.HasArticleSchema = articleMarkupPattern.Match(html)
	if !meta.HasArticleSchema {
		doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if articleLDTypePattern.MatchString(s.Text()) {
				meta.HasArticleSchema = true
				return false
			}
			return true
		})
	}
	return meta, nil
}

// validateMetadata grades parsed metadata. Explicit article signals are checked before
// listing signal words, so article markup wins over an unlucky title.
func validateMetadata(meta Metadata) Verdict {
	if len([]rune(meta.Title)) < minTitleRunes {
		return Verdict{Reason: ReasonNoValidTitle}
	}
	if meta.OGType == "article" {
		return Verdict{Passed: true, Reason: ReasonOGTypeArticle, Confidence: ConfidenceHigh}
	}
	if meta.HasArticleSchema {
		return Verdict{Passed: true, Reason: ReasonArticleSchema, Confidence: ConfidenceHigh}
	}
	if meta.PublishedAt != "" {
		return Verdict{Passed: true, Reason: ReasonPublishedTime, Confidence: ConfidenceMedium}
	}
	for _, word := range signalWords {
		if word.pattern.MatchString(meta.Title) || word.pattern.MatchString(meta.Description) {
			return Verdict{Reason: "title_contains_" + word.name}
		}
	}
	if meta.Description != "" {
		return Verdict{Passed: true, Reason: ReasonBasicMetadata, Confidence: ConfidenceLow}
	}
	return Verdict{Reason: ReasonInsufficientMeta}
}

func metaContent(doc *goquery.Document, selectors ...string) string {
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

func clip(raw string, maxRunes int) string {
	runes := []rune(raw)
	if len(runes) <= maxRunes {
		return raw
	}
	return strings.TrimSpace(string(runes[:maxRunes]))
}
