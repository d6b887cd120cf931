package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/harvest/internal/document"
	"horse.fit/harvest/internal/throttle"
)

const DefaultManagedEndpoint = "https://api.firecrawl.dev/v1"

// ManagedOptions configures the L2 adapter against the hosted Firecrawl API.
type ManagedOptions struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Limiter    throttle.Limiter
	Detect     Detector
}

// Managed is the billed baseline tier. Every request sent counts as one credit.
type Managed struct {
	opts    ManagedOptions
	client  *http.Client
	limiter throttle.Limiter
	logger  zerolog.Logger
	calls   atomic.Int64
}

type managedRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats"`
	OnlyMainContent bool     `json:"onlyMainContent"`
	Timeout         int64    `json:"timeout,omitempty"`
}

type managedResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    *struct {
		Markdown string         `json:"markdown"`
		HTML     string         `json:"html"`
		Links    []string       `json:"links"`
		Metadata map[string]any `json:"metadata"`
	} `json:"data"`
}

func NewManaged(opts ManagedOptions, logger zerolog.Logger) *Managed {
	normalized := opts
	normalized.Endpoint = strings.TrimRight(strings.TrimSpace(normalized.Endpoint), "/")
	if normalized.Endpoint == "" {
		normalized.Endpoint = DefaultManagedEndpoint
	}
	client := normalized.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	limiter := normalized.Limiter
	if limiter == nil {
		limiter = throttle.Unlimited()
	}
	return &Managed{opts: normalized, client: client, limiter: limiter, logger: logger}
}

func (m *Managed) Tier() Tier { return TierManaged }

// Calls is the number of billed requests sent so far.
func (m *Managed) Calls() int64 { return m.calls.Load() }

func (m *Managed) Extract(ctx context.Context, pageURL string, opts Options) Result {
	timeout := timeoutOr(opts.Timeout, m.opts.Timeout)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := m.limiter.Wait(callCtx); err != nil {
		return failed(pageURL, TierManaged, FailureRateLimited, fmt.Sprintf("local rate limiter: %v", err))
	}

	formats := []string{"markdown", "html"}
	if opts.WithLinks {
		formats = []string{"markdown", "links"}
	}
	payload := managedRequest{
		URL:             pageURL,
		Formats:         formats,
		OnlyMainContent: true,
		Timeout:         timeout.Milliseconds(),
	}
	headers := map[string]string{}
	if key := strings.TrimSpace(m.opts.APIKey); key != "" {
		headers["Authorization"] = "Bearer " + key
	}

	m.calls.Add(1)
	var parsed managedResponse
	if cerr := doJSON(callCtx, m.client, http.MethodPost, m.opts.Endpoint+"/scrape", headers, payload, &parsed); cerr != nil {
		m.logger.Debug().Str("url", pageURL).Str("failure", string(cerr.reason)).Msg("managed extraction failed")
		return failed(pageURL, TierManaged, cerr.reason, cerr.detail)
	}
	if !parsed.Success {
		return failed(pageURL, TierManaged, FailureUnsupported, strings.TrimSpace(parsed.Error))
	}
	if parsed.Data == nil {
		return failed(pageURL, TierManaged, FailureMalformedResponse, "response missing data")
	}

	body := parsed.Data.Markdown
	if strings.TrimSpace(body) == "" {
		body = htmlToText(parsed.Data.HTML)
	}
	doc := scrapedDocument(pageURL, stringField(parsed.Data.Metadata, "title", "ogTitle"), body, parsed.Data.Metadata)
	return succeeded(pageURL, TierManaged, withLanguage([]document.Document{doc}, m.opts.Detect), parsed.Data.Links)
}
