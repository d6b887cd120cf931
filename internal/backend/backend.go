package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"horse.fit/harvest/internal/document"
)

// Tier is one of the cost-ordered extraction backends.
type Tier string

const (
	TierFeed       Tier = "L0"
	TierSelfHosted Tier = "L1"
	TierManaged    Tier = "L2"
)

// Tiers lists every tier from cheapest to costliest.
var Tiers = []Tier{TierFeed, TierSelfHosted, TierManaged}

// Rank orders tiers by operating cost.
func (t Tier) Rank() int {
	for i, tier := range Tiers {
		if tier == t {
			return i
		}
	}
	return len(Tiers)
}

// FailureReason classifies a failed extraction attempt.
type FailureReason string

const (
	FailureUnreachable       FailureReason = "unreachable"
	FailureUnsupported       FailureReason = "unsupported"
	FailureRateLimited       FailureReason = "rate_limited"
	FailureMalformedResponse FailureReason = "malformed_response"
)

const (
	DefaultTimeout  = 60 * time.Second
	maxResponseSize = 8 * 1024 * 1024
)

// Options tune a single extraction call.
type Options struct {
	Timeout         time.Duration
	OnlyMainContent bool
	WithLinks       bool
}

// Result is the normalized outcome of one adapter call.
type Result struct {
	URL       string              `json:"url"`
	Tier      Tier                `json:"tier"`
	Success   bool                `json:"success"`
	Documents []document.Document `json:"documents,omitempty"`
	Links     []string            `json:"links,omitempty"`
	Failure   FailureReason       `json:"failure,omitempty"`
	Detail    string              `json:"detail,omitempty"`
}

// Backend is the single capability every tier exposes. Adapters never retry.
type Backend interface {
	Tier() Tier
	Extract(ctx context.Context, url string, opts Options) Result
}

// Eligibility is implemented by backends that only serve some URLs.
type Eligibility interface {
	Eligible(url string) bool
}

// Detector tags a document with a language code.
type Detector func(title, body string) string

func succeeded(url string, tier Tier, docs []document.Document, links []string) Result {
	return Result{URL: url, Tier: tier, Success: true, Documents: docs, Links: links}
}

func failed(url string, tier Tier, reason FailureReason, detail string) Result {
	return Result{URL: url, Tier: tier, Failure: reason, Detail: detail}
}

func withLanguage(docs []document.Document, detect Detector) []document.Document {
	if detect == nil {
		return docs
	}
	out := make([]document.Document, len(docs))
	for i, doc := range docs {
		if doc.Language == "" {
			doc = doc.WithLanguage(detect(doc.Title, doc.BodyText))
		}
		out[i] = doc
	}
	return out
}

func timeoutOr(requested, fallback time.Duration) time.Duration {
	if requested > 0 {
		return requested
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultTimeout
}

// callError carries the failure classification of an HTTP exchange.
type callError struct {
	reason FailureReason
	detail string
}

func (e *callError) Error() string {
	return fmt.Sprintf("%s: %s", e.reason, e.detail)
}

// ClassifyStatus maps an HTTP status to a failure reason.
func ClassifyStatus(code int) FailureReason {
	switch {
	case code == http.StatusTooManyRequests:
		return FailureRateLimited
	case code == http.StatusRequestTimeout:
		return FailureUnreachable
	case code >= 400 && code < 500:
		return FailureUnsupported
	default:
		return FailureUnreachable
	}
}

func doJSON(
	ctx context.Context,
	client *http.Client,
	method string,
	endpoint string,
	headers map[string]string,
	payload any,
	out any,
) *callError {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return &callError{reason: FailureMalformedResponse, detail: fmt.Sprintf("marshal request: %v", err)}
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return &callError{reason: FailureUnreachable, detail: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return &callError{reason: FailureUnreachable, detail: transportDetail(err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &callError{reason: FailureUnreachable, detail: fmt.Sprintf("read response: %v", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &callError{
			reason: ClassifyStatus(resp.StatusCode),
			detail: fmt.Sprintf("status %d: %s", resp.StatusCode, snippet(respBody)),
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &callError{reason: FailureMalformedResponse, detail: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}

func transportDetail(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out"
	}
	return err.Error()
}

func snippet(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
