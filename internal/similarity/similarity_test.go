package similarity

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/harvest/internal/document"
)

func TestCosineProperties(t *testing.T) {
	t.Parallel()

	a := []float64{1, 2, 3}
	b := []float64{-2, 0.5, 4}
	zero := []float64{0, 0, 0}

	if math.Abs(Cosine(a, b)-Cosine(b, a)) > 1e-12 {
		t.Fatalf("cosine not symmetric: %v vs %v", Cosine(a, b), Cosine(b, a))
	}
	if math.Abs(Cosine(a, a)-1) > 1e-12 {
		t.Fatalf("expected self similarity 1, got %v", Cosine(a, a))
	}
	if got := Cosine(zero, b); got != 0 {
		t.Fatalf("expected zero vector similarity 0, got %v", got)
	}
	if got := Cosine([]float64{1, 0}, []float64{-1, 0}); math.Abs(got+1) > 1e-12 {
		t.Fatalf("expected opposite vectors -1, got %v", got)
	}
}

func TestCosinePanicsOnLengthMismatch(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for mismatched lengths")
		}
	}()
	Cosine([]float64{1, 2}, []float64{1, 2, 3})
}

func TestFeatureTextTruncatesBodyByRunes(t *testing.T) {
	t.Parallel()

	doc := document.Document{Title: " Headline ", BodyText: "日本語のテキスト"}
	if got := FeatureText(doc, 3); got != "Headline\n\n日本語" {
		t.Fatalf("FeatureText() = %q", got)
	}
	if got := FeatureText(doc, 500); got != "Headline\n\n日本語のテキスト" {
		t.Fatalf("FeatureText() = %q", got)
	}
}

type stubEmbedder struct {
	vector []float64
	err    error
	texts  []string
}

func (s *stubEmbedder) Name() string { return "stub" }

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	s.texts = append(s.texts, text)
	return s.vector, s.err
}

func TestEngineEmbedReturnsNilOnFailure(t *testing.T) {
	t.Parallel()

	stub := &stubEmbedder{err: errors.New("backend down")}
	engine := NewEngine(stub, 10, zerolog.Nop())

	if got := engine.Embed(context.Background(), document.Document{URL: "https://a.test/x", Title: "t", BodyText: "body"}); got != nil {
		t.Fatalf("expected nil vector on failure, got %v", got)
	}
	if len(stub.texts) != 1 {
		t.Fatalf("expected one embedder call, got %d", len(stub.texts))
	}

	stub.err = nil
	stub.vector = []float64{0.1, 0.2}
	if got := engine.Embed(context.Background(), document.Document{Title: "t", BodyText: strings.Repeat("x", 50)}); len(got) != 2 {
		t.Fatalf("expected vector, got %v", got)
	}
	if got := stub.texts[1]; got != "t\n\n"+strings.Repeat("x", 10) {
		t.Fatalf("unexpected feature text %q", got)
	}
}

func TestEngineSkipsEmptyDocuments(t *testing.T) {
	t.Parallel()

	stub := &stubEmbedder{vector: []float64{1}}
	engine := NewEngine(stub, 0, zerolog.Nop())
	if got := engine.Embed(context.Background(), document.Document{}); got != nil {
		t.Fatalf("expected nil for empty document, got %v", got)
	}
	if len(stub.texts) != 0 {
		t.Fatalf("expected no embedder call")
	}
}

func TestHTTPEmbedderResponseShapes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		path      string
		response  string
		wantField string
	}{
		{name: "native", path: "/embed", response: `{"embeddings":[[0.5,0.25]]}`, wantField: "texts"},
		{name: "openai compatible", path: "/v1/embeddings", response: `{"data":[{"index":0,"embedding":[0.5,0.25]}]}`, wantField: "input"},
		{name: "workers ai", path: "/client/v4/accounts/acct/ai/run/@cf/baai/bge-base-en-v1.5", response: `{"result":{"data":[[0.5,0.25]]},"success":true}`, wantField: "text"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var (
				mu         sync.Mutex
				gotPayload map[string]any
				gotAuth    string
			)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != tc.path {
					http.NotFound(w, r)
					return
				}
				mu.Lock()
				gotAuth = r.Header.Get("Authorization")
				_ = json.NewDecoder(r.Body).Decode(&gotPayload)
				mu.Unlock()
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tc.response))
			}))
			defer server.Close()

			embedder := NewHTTPEmbedder(HTTPOptions{Endpoint: server.URL + tc.path, APIKey: "secret"})
			vector, err := embedder.Embed(context.Background(), "hello")
			if err != nil {
				t.Fatalf("Embed() error = %v", err)
			}
			if len(vector) != 2 || vector[0] != 0.5 || vector[1] != 0.25 {
				t.Fatalf("unexpected vector %v", vector)
			}
			mu.Lock()
			defer mu.Unlock()
			if _, ok := gotPayload[tc.wantField]; !ok {
				t.Fatalf("expected %q in payload, got %v", tc.wantField, gotPayload)
			}
			if gotAuth != "Bearer secret" {
				t.Fatalf("expected bearer auth, got %q", gotAuth)
			}
		})
	}
}

func TestHTTPEmbedderErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/embed":
			_, _ = w.Write([]byte(`{"embeddings":[]}`))
		default:
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	if _, err := NewHTTPEmbedder(HTTPOptions{Endpoint: server.URL}).Embed(context.Background(), "x"); err == nil {
		t.Fatalf("expected error for empty vectors")
	}
	_, err := NewHTTPEmbedder(HTTPOptions{Endpoint: server.URL + "/busy"}).Embed(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "status 503") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestHTTPEmbedderRejectsOversizedResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[[` + strings.Repeat("0.125,", 64) + `1]]}`))
	}))
	defer server.Close()

	small := NewHTTPEmbedder(HTTPOptions{Endpoint: server.URL, MaxResponseBytes: 128})
	_, err := small.Embed(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "exceeds 128 bytes") {
		t.Fatalf("expected size limit error, got %v", err)
	}

	vector, err := NewHTTPEmbedder(HTTPOptions{Endpoint: server.URL}).Embed(context.Background(), "x")
	if err != nil || len(vector) != 65 {
		t.Fatalf("expected 65-dim vector under the default limit, got %d dims err=%v", len(vector), err)
	}
}

func TestNormalizeEmbeddingEndpoint(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":                                 DefaultEmbeddingEndpoint,
		"http://embed.local:9000":          "http://embed.local:9000/embed",
		"http://embed.local/v1/embeddings": "http://embed.local/v1/embeddings",
	}
	for in, want := range cases {
		if got := normalizeEmbeddingEndpoint(in); got != want {
			t.Fatalf("normalizeEmbeddingEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewEmbedderRejectsUnknownProvider(t *testing.T) {
	t.Parallel()

	if _, err := NewEmbedder(context.Background(), EmbedderOptions{Provider: "carrier-pigeon"}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
	if _, err := NewEmbedder(context.Background(), EmbedderOptions{Provider: ProviderGemini}); err == nil {
		t.Fatalf("expected error for gemini without key")
	}
	embedder, err := NewEmbedder(context.Background(), EmbedderOptions{Provider: ProviderOpenAI, Model: "nomic-embed-text", Endpoint: "http://localhost:11434/v1"})
	if err != nil || embedder.Name() != "openai:nomic-embed-text" {
		t.Fatalf("unexpected openai embedder %v, %v", embedder, err)
	}
}
