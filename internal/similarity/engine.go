package similarity

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/harvest/internal/document"
)

const DefaultBodyChars = 500

// Engine builds feature text for documents and embeds it. Backend failures degrade to a
// nil vector.
type Engine struct {
	embedder  Embedder
	bodyChars int
	logger    zerolog.Logger
}

func NewEngine(embedder Embedder, bodyChars int, logger zerolog.Logger) *Engine {
	if bodyChars <= 0 {
		bodyChars = DefaultBodyChars
	}
	return &Engine{embedder: embedder, bodyChars: bodyChars, logger: logger}
}

// FeatureText is the title followed by the first bodyChars runes of the body.
func FeatureText(doc document.Document, bodyChars int) string {
	title := strings.TrimSpace(doc.Title)
	body := []rune(strings.TrimSpace(doc.BodyText))
	if bodyChars >= 0 && len(body) > bodyChars {
		body = body[:bodyChars]
	}
	return title + "\n\n" + string(body)
}

// Embed returns nil when the document cannot be embedded.
func (e *Engine) Embed(ctx context.Context, doc document.Document) []float64 {
	if e == nil || e.embedder == nil {
		return nil
	}
	text := FeatureText(doc, e.bodyChars)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	vector, err := e.embedder.Embed(ctx, text)
	if err != nil {
		e.logger.Warn().Err(err).Str("url", doc.URL).Str("embedder", e.embedder.Name()).Msg("embedding failed")
		return nil
	}
	return vector
}

// Cosine is dot(a,b)/(|a||b|), or 0 when either vector has zero magnitude. Mismatched
// lengths are a caller bug and panic.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		panic(fmt.Sprintf("similarity: vector length mismatch %d != %d", len(a), len(b)))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return math.Max(-1, math.Min(1, sim))
}
