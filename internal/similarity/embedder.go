package similarity

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	ProviderHTTP   = "http"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	DefaultEmbeddingTimeout = 30 * time.Second
)

// Embedder turns bounded text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Name() string
}

// EmbedderOptions configure NewEmbedder.
type EmbedderOptions struct {
	Provider string
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// NewEmbedder builds the embedder for opts.Provider. An empty provider means http.
func NewEmbedder(ctx context.Context, opts EmbedderOptions) (Embedder, error) {
	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	switch provider {
	case "", ProviderHTTP:
		return NewHTTPEmbedder(HTTPOptions{
			Endpoint: opts.Endpoint,
			APIKey:   opts.APIKey,
			Model:    opts.Model,
			Timeout:  opts.Timeout,
		}), nil
	case ProviderOpenAI:
		return NewOpenAIEmbedder(opts.APIKey, opts.Model, opts.Endpoint), nil
	case ProviderGemini:
		return NewGeminiEmbedder(ctx, opts.APIKey, opts.Model)
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", opts.Provider)
	}
}

func toFloat64(values []float32) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}
