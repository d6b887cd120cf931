package similarity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	DefaultEmbeddingEndpoint = "http://127.0.0.1:8844/embed"
	DefaultMaxResponseBytes  = 8 << 20
)

type HTTPOptions struct {
	Endpoint         string
	APIKey           string
	Model            string
	MaxLength        int
	Timeout          time.Duration
	MaxResponseBytes int64
	HTTPClient       *http.Client
}

// HTTPEmbedder speaks the common self-hosted embedding shapes: {texts} -> {embeddings},
// the OpenAI-compatible {input} -> {data[]} on /v1/embeddings paths, and the Workers AI
// {text} -> {result.data} envelope.
type HTTPEmbedder struct {
	opts   HTTPOptions
	client *http.Client
}

type embedRequest struct {
	Texts     []string `json:"texts,omitempty"`
	Input     []string `json:"input,omitempty"`
	Text      []string `json:"text,omitempty"`
	Model     string   `json:"model,omitempty"`
	MaxLength int      `json:"max_length,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Data       []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Result *struct {
		Data [][]float64 `json:"data"`
	} `json:"result"`
}

func NewHTTPEmbedder(opts HTTPOptions) *HTTPEmbedder {
	normalized := opts
	normalized.Endpoint = normalizeEmbeddingEndpoint(opts.Endpoint)
	if normalized.Timeout <= 0 {
		normalized.Timeout = DefaultEmbeddingTimeout
	}
	if normalized.MaxResponseBytes <= 0 {
		normalized.MaxResponseBytes = DefaultMaxResponseBytes
	}
	client := normalized.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPEmbedder{opts: normalized, client: client}
}

func (e *HTTPEmbedder) Name() string {
	return "http:" + e.opts.Endpoint
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	texts := []string{text}
	payload := embedRequest{Texts: texts, MaxLength: e.opts.MaxLength}

	parsedEndpoint, err := url.Parse(e.opts.Endpoint)
	if err == nil {
		switch {
		case strings.HasSuffix(parsedEndpoint.Path, "/v1/embeddings"):
			payload = embedRequest{Input: texts, Model: e.opts.Model}
		case strings.Contains(parsedEndpoint.Path, "/ai/run/"):
			payload = embedRequest{Text: texts}
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	requestCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, e.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(e.opts.APIKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, e.opts.MaxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if int64(len(respBody)) > e.opts.MaxResponseBytes {
		return nil, fmt.Errorf("embedding response exceeds %d bytes", e.opts.MaxResponseBytes)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embedding service status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}

	vectors := parsed.Embeddings
	if len(vectors) == 0 && len(parsed.Data) > 0 {
		sort.Slice(parsed.Data, func(i, j int) bool {
			return parsed.Data[i].Index < parsed.Data[j].Index
		})
		for _, row := range parsed.Data {
			vectors = append(vectors, row.Embedding)
		}
	}
	if len(vectors) == 0 && parsed.Result != nil {
		vectors = parsed.Result.Data
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("embedding response missing vectors")
	}
	return vectors[0], nil
}

func normalizeEmbeddingEndpoint(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DefaultEmbeddingEndpoint
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return trimmed
	}
	if parsed.Path == "" || parsed.Path == "/" {
		parsed.Path = "/embed"
	}
	return parsed.String()
}
