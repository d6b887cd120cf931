package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/harvest/internal/document"
	"horse.fit/harvest/internal/reader"
)

// Self-hosted modes.
const (
	ModeFirecrawl = "firecrawl"
	ModeReader    = "reader"
)

// SelfHostedOptions configures the L1 adapter. Firecrawl mode talks to a self-operated
// Firecrawl instance; reader mode extracts in-process with readability.
type SelfHostedOptions struct {
	Mode       string
	Endpoint   string
	Timeout    time.Duration
	UserAgent  string
	HTTPClient *http.Client
	Detect     Detector
}

type SelfHosted struct {
	opts   SelfHostedOptions
	client *http.Client
	logger zerolog.Logger
}

type selfHostedRequest struct {
	URL         string             `json:"url"`
	PageOptions selfHostedPageOpts `json:"pageOptions"`
}

type selfHostedPageOpts struct {
	OnlyMainContent bool `json:"onlyMainContent"`
	IncludeHTML     bool `json:"includeHtml,omitempty"`
}

type selfHostedResponse struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
	Data    *struct {
		Content  string         `json:"content"`
		Markdown string         `json:"markdown"`
		Links    []string       `json:"linksOnPage"`
		Metadata map[string]any `json:"metadata"`
	} `json:"data"`
}

// NewSelfHosted returns nil when the options do not describe a usable backend, which
// callers treat as "L1 not configured".
func NewSelfHosted(opts SelfHostedOptions, logger zerolog.Logger) (*SelfHosted, error) {
	mode := strings.ToLower(strings.TrimSpace(opts.Mode))
	endpoint := strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/")
	switch {
	case mode == "" && endpoint == "":
		return nil, nil
	case mode == "":
		mode = ModeFirecrawl
	}
	switch mode {
	case ModeFirecrawl:
		if endpoint == "" {
			return nil, fmt.Errorf("self-hosted firecrawl mode requires an endpoint")
		}
	case ModeReader:
	default:
		return nil, fmt.Errorf("unsupported self-hosted mode %q", opts.Mode)
	}

	normalized := opts
	normalized.Mode = mode
	normalized.Endpoint = endpoint
	client := normalized.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &SelfHosted{opts: normalized, client: client, logger: logger}, nil
}

func (s *SelfHosted) Tier() Tier { return TierSelfHosted }

// Mode reports the configured mode.
func (s *SelfHosted) Mode() string { return s.opts.Mode }

func (s *SelfHosted) Extract(ctx context.Context, pageURL string, opts Options) Result {
	callCtx, cancel := context.WithTimeout(ctx, timeoutOr(opts.Timeout, s.opts.Timeout))
	defer cancel()

	if s.opts.Mode == ModeReader {
		return s.extractWithReader(callCtx, pageURL)
	}

	var parsed selfHostedResponse
	payload := selfHostedRequest{
		URL:         pageURL,
		PageOptions: selfHostedPageOpts{OnlyMainContent: true},
	}
	if cerr := doJSON(callCtx, s.client, http.MethodPost, s.opts.Endpoint+"/v0/scrape", nil, payload, &parsed); cerr != nil {
		return failed(pageURL, TierSelfHosted, cerr.reason, cerr.detail)
	}
	if parsed.Success != nil && !*parsed.Success {
		return failed(pageURL, TierSelfHosted, FailureUnsupported, strings.TrimSpace(parsed.Error))
	}
	if parsed.Data == nil {
		return failed(pageURL, TierSelfHosted, FailureMalformedResponse, "response missing data")
	}

	body := parsed.Data.Markdown
	if strings.TrimSpace(body) == "" {
		body = parsed.Data.Content
	}
	doc := scrapedDocument(pageURL, stringField(parsed.Data.Metadata, "title", "ogTitle"), body, parsed.Data.Metadata)
	if doc.BodyText == "" && doc.Title == "" {
		return failed(pageURL, TierSelfHosted, FailureUnsupported, "empty content")
	}
	return succeeded(pageURL, TierSelfHosted, withLanguage([]document.Document{doc}, s.opts.Detect), parsed.Data.Links)
}

func (s *SelfHosted) extractWithReader(ctx context.Context, pageURL string) Result {
	page, err := reader.Fetch(ctx, pageURL, reader.FetchOptions{
		UserAgent:  s.opts.UserAgent,
		HTTPClient: s.client,
	})
	if err != nil {
		var statusErr *reader.StatusError
		switch {
		case errors.As(err, &statusErr):
			return failed(pageURL, TierSelfHosted, ClassifyStatus(statusErr.Code), err.Error())
		case errors.Is(err, reader.ErrEmptyContent):
			return failed(pageURL, TierSelfHosted, FailureUnsupported, err.Error())
		default:
			return failed(pageURL, TierSelfHosted, FailureUnreachable, transportDetail(err))
		}
	}

	meta := map[string]any{"extractor": ModeReader}
	if page.Description != "" {
		meta["description"] = page.Description
	}
	doc := document.Document{
		URL:         pageURL,
		Title:       page.Title,
		BodyText:    page.Text,
		PublishedAt: page.PublishedAt,
		Source:      document.SourceScrape,
		RawMetadata: meta,
	}
	return succeeded(pageURL, TierSelfHosted, withLanguage([]document.Document{doc}, s.opts.Detect), page.Links)
}

// scrapedDocument builds a scrape-sourced Document from Firecrawl-style output.
func scrapedDocument(pageURL, title, body string, meta map[string]any) document.Document {
	source := stringField(meta, "sourceURL", "url")
	if source == "" {
		source = pageURL
	}
	published := reader.ParseTime(stringField(meta, "publishedTime", "article:published_time", "datePublished"))

	raw := make(map[string]any, len(meta))
	for key, value := range meta {
		raw[key] = value
	}
	return document.Document{
		URL:         source,
		Title:       strings.TrimSpace(title),
		BodyText:    reader.CleanText(body),
		PublishedAt: published,
		Source:      document.SourceScrape,
		RawMetadata: raw,
	}
}

func stringField(meta map[string]any, keys ...string) string {
	for _, key := range keys {
		switch value := meta[key].(type) {
		case string:
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		case []any:
			for _, item := range value {
				if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
					return strings.TrimSpace(s)
				}
			}
		}
	}
	return ""
}
