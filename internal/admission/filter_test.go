package admission

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const articleHead = `<!doctype html><html><head>
<title>Researchers publish a new model card</title>
<meta name="description" content="A detailed look at the release.">
<meta property="og:type" content="article">
</head><body><p>body</p></body></html>`

func newPatternFilter() *Filter {
	return New(NewState(StateOptions{}), Options{}, zerolog.Nop())
}

func TestEvaluateCachesVerdicts(t *testing.T) {
	t.Parallel()

	f := newPatternFilter()
	ctx := context.Background()

	first := f.Evaluate(ctx, "https://example.com/category/ai")
	second := f.Evaluate(ctx, "https://example.com/category/ai")

	if first.Stage != StagePattern {
		t.Fatalf("expected first verdict from pattern stage, got %s", first.Stage)
	}
	if second.Stage != StageCache {
		t.Fatalf("expected second verdict from cache, got %s", second.Stage)
	}
	if first.Passed != second.Passed || first.Reason != second.Reason || first.URL != second.URL {
		t.Fatalf("cached verdict differs: %+v vs %+v", first, second)
	}

	stats := f.State().Stats()
	if stats.Total != 2 {
		t.Fatalf("expected total=2, got %d", stats.Total)
	}
	if stats.FilteredByPattern != 1 {
		t.Fatalf("expected pattern counter to increment once, got %d", stats.FilteredByPattern)
	}
	if stats.FilteredByCache != 1 || stats.CacheHits != 1 {
		t.Fatalf("expected one cache-served rejection, got %+v", stats)
	}
	if stats.CreditsSaved != 1 {
		t.Fatalf("expected credits_saved=1, got %d", stats.CreditsSaved)
	}
}

func TestEvaluateHighConfidenceArticleWithoutProbe(t *testing.T) {
	t.Parallel()

	f := newPatternFilter()
	got := f.Evaluate(context.Background(), "https://example.com/2024/01/some-title")
	if !got.Passed || got.Confidence != ConfidenceHigh {
		t.Fatalf("unexpected verdict: %+v", got)
	}
	if stats := f.State().Stats(); stats.Passed != 1 || stats.Total != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	state := NewState(StateOptions{TTL: time.Hour, Clock: clock})
	f := New(state, Options{}, zerolog.Nop())

	f.Evaluate(context.Background(), "https://example.com/tag/llm")
	mu.Lock()
	now = now.Add(61 * time.Minute)
	mu.Unlock()

	got := f.Evaluate(context.Background(), "https://example.com/tag/llm")
	if got.Stage != StagePattern {
		t.Fatalf("expected expired entry to be re-evaluated, got stage %s", got.Stage)
	}
	if stats := state.Stats(); stats.FilteredByPattern != 2 || stats.CacheHits != 0 {
		t.Fatalf("unexpected stats after expiry: %+v", stats)
	}
}

func TestCacheEvictsOldestBeyondCapacity(t *testing.T) {
	t.Parallel()

	state := NewState(StateOptions{Capacity: 2})
	f := New(state, Options{}, zerolog.Nop())
	ctx := context.Background()

	f.Evaluate(ctx, "https://example.com/tag/a")
	f.Evaluate(ctx, "https://example.com/tag/b")
	f.Evaluate(ctx, "https://example.com/tag/c")

	if size := state.CacheSize(); size != 2 {
		t.Fatalf("expected cache size 2, got %d", size)
	}
	if got := f.Evaluate(ctx, "https://example.com/tag/a"); got.Stage == StageCache {
		t.Fatalf("expected oldest entry to be evicted")
	}
	if got := f.Evaluate(ctx, "https://example.com/tag/c"); got.Stage != StageCache {
		t.Fatalf("expected newest entry to be cached, got %s", got.Stage)
	}
}

func TestResetAndClearCache(t *testing.T) {
	t.Parallel()

	f := newPatternFilter()
	f.Evaluate(context.Background(), "https://example.com/tag/a")
	f.State().Reset()
	if stats := f.State().Stats(); stats != (Stats{}) {
		t.Fatalf("expected zero stats after reset, got %+v", stats)
	}
	if f.State().CacheSize() != 1 {
		t.Fatalf("reset must not clear the cache")
	}
	f.State().ClearCache()
	if f.State().CacheSize() != 0 {
		t.Fatalf("expected empty cache after ClearCache")
	}
}

func newProbeServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func newProbeFilter(timeout time.Duration) *Filter {
	return New(NewState(StateOptions{}), Options{
		Probe:       true,
		HeadTimeout: timeout,
		GetTimeout:  timeout,
	}, zerolog.Nop())
}

func TestProbeAcceptsArticleMarkup(t *testing.T) {
	t.Parallel()

	server := newProbeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write([]byte(articleHead))
	})

	got := newProbeFilter(time.Second).Evaluate(context.Background(), server.URL+"/misc/item")
	if !got.Passed || got.Stage != StageProbe || got.Reason != ReasonOGTypeArticle || got.Confidence != ConfidenceHigh {
		t.Fatalf("unexpected verdict: %+v", got)
	}
	if got.Metadata == nil || got.Metadata.Title != "Researchers publish a new model card" {
		t.Fatalf("expected parsed metadata, got %+v", got.Metadata)
	}
}

func TestProbeRejectsNonHTML(t *testing.T) {
	t.Parallel()

	server := newProbeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
	})

	got := newProbeFilter(time.Second).Evaluate(context.Background(), server.URL+"/download/thing")
	if got.Passed || got.Reason != ReasonNotHTML || got.Stage != StageProbe {
		t.Fatalf("unexpected verdict: %+v", got)
	}
}

func TestProbeRejectsMissingPage(t *testing.T) {
	t.Parallel()

	server := newProbeServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	got := newProbeFilter(time.Second).Evaluate(context.Background(), server.URL+"/blog/gone-post")
	if got.Passed || got.Reason != ReasonUnreachable {
		t.Fatalf("unexpected verdict: %+v", got)
	}
}

func TestProbeMetadataValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		html       string
		passed     bool
		reason     string
		confidence Confidence
	}{
		{
			name:   "short title",
			html:   `<html><head><title>Home</title></head></html>`,
			reason: ReasonNoValidTitle,
		},
		{
			name:       "json-ld article",
			html:       `<html><head><title>Deep dive into vector search</title><script type="application/ld+json">{"@type": "NewsArticle"}</script></head></html>`,
			passed:     true,
			reason:     ReasonArticleSchema,
			confidence: ConfidenceHigh,
		},
		{
			name:       "published meta counts as article markup",
			html:       `<html><head><title>Deep dive into vector search</title><meta property="article:published_time" content="2024-01-02T00:00:00Z"></head></html>`,
			passed:     true,
			reason:     ReasonArticleSchema,
			confidence: ConfidenceHigh,
		},
		{
			name:       "published itemprop",
			html:       `<html><head><title>Deep dive into vector search</title><meta itemprop="datePublished" content="2024-01-02"></head></html>`,
			passed:     true,
			reason:     ReasonPublishedTime,
			confidence: ConfidenceMedium,
		},
		{
			name:   "listing title",
			html:   `<html><head><title>Posts tagged with AI - Page 3</title><meta name="description" content="All posts."></head></html>`,
			reason: "title_contains_page",
		},
		{
			name:   "archive description",
			html:   `<html><head><title>Monthly roundup collection</title><meta name="description" content="The archive of everything."></head></html>`,
			reason: "title_contains_archive",
		},
		{
			name:       "title and description",
			html:       `<html><head><title>Why embeddings drift over time</title><meta name="description" content="A practical explanation."></head></html>`,
			passed:     true,
			reason:     ReasonBasicMetadata,
			confidence: ConfidenceLow,
		},
		{
			name:   "title only",
			html:   `<html><head><title>Why embeddings drift over time</title></head></html>`,
			reason: ReasonInsufficientMeta,
		},
	}

	for _, tc := range cases {
		meta, err := parseMetadata([]byte(tc.html))
		if err != nil {
			t.Fatalf("%s: parseMetadata returned error: %v", tc.name, err)
		}
		got := validateMetadata(meta)
		if got.Passed != tc.passed || got.Reason != tc.reason || got.Confidence != tc.confidence {
			t.Fatalf("%s: got %+v, want passed=%t reason=%s confidence=%s", tc.name, got, tc.passed, tc.reason, tc.confidence)
		}
	}
}

func TestProbeTimeoutFailsOpen(t *testing.T) {
	t.Parallel()

	server := newProbeServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	got := newProbeFilter(50*time.Millisecond).Evaluate(context.Background(), server.URL+"/2024/01/slow-article")
	if !got.Passed || got.Reason != ReasonProbeFailed {
		t.Fatalf("expected fail-open verdict, got %+v", got)
	}
	if got.Confidence != ConfidenceHigh {
		t.Fatalf("expected pattern confidence to carry over, got %s", got.Confidence)
	}
}

func TestConcurrentEvaluationsShareOneDecision(t *testing.T) {
	t.Parallel()

	var gets atomic.Int32
	release := make(chan struct{})
	server := newProbeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if r.Method == http.MethodGet {
			gets.Add(1)
			<-release
			_, _ = w.Write([]byte(articleHead))
		}
	})

	f := newProbeFilter(5 * time.Second)
	target := server.URL + "/misc/shared-item"

	const callers = 6
	var wg sync.WaitGroup
	verdicts := make([]Verdict, callers)
	wg.Add(1)
	go func() {
		defer wg.Done()
		verdicts[0] = f.Evaluate(context.Background(), target)
	}()
	for gets.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			verdicts[i] = f.Evaluate(context.Background(), target)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := gets.Load(); n != 1 {
		t.Fatalf("expected exactly one page fetch, got %d", n)
	}
	for _, v := range verdicts {
		if !v.Passed || v.Stage != StageProbe {
			t.Fatalf("expected every caller to see the shared verdict, got %+v", v)
		}
	}
	stats := f.State().Stats()
	if stats.Total != callers || stats.Passed != callers {
		t.Fatalf("unexpected totals: %+v", stats)
	}
	if stats.CacheHits != 0 || stats.InflightShared != callers-1 {
		t.Fatalf("expected %d shared verdicts and no cache hits, got %+v", callers-1, stats)
	}

	if again := f.Evaluate(context.Background(), target); again.Stage != StageCache {
		t.Fatalf("expected later lookup from cache, got %+v", again)
	}
	if got := f.State().Stats().CacheHits; got != 1 {
		t.Fatalf("expected one cache hit, got %d", got)
	}
}

func TestEvaluateBatchKeepsOrder(t *testing.T) {
	t.Parallel()

	f := newPatternFilter()
	urls := []string{
		"https://example.com/category/ai",
		"https://example.com/blog/what-is-ai",
		"https://example.com/style.css",
		"https://example.com/2024/01/some-title",
	}

	result := f.EvaluateBatch(context.Background(), urls)
	if len(result.Verdicts) != len(urls) {
		t.Fatalf("expected %d verdicts, got %d", len(urls), len(result.Verdicts))
	}
	for i, v := range result.Verdicts {
		if v.URL != urls[i] {
			t.Fatalf("verdict %d out of order: %s", i, v.URL)
		}
	}
	if result.Summary.Passed != 2 || result.Summary.Filtered != 2 || result.Summary.CreditsSaved != 2 {
		t.Fatalf("unexpected summary: %+v", result.Summary)
	}
	if result.Summary.FilterRate != 0.5 {
		t.Fatalf("unexpected filter rate: %v", result.Summary.FilterRate)
	}

	admitted := f.Admitted(context.Background(), urls)
	if len(admitted) != 2 || admitted[0] != urls[1] || admitted[1] != urls[3] {
		t.Fatalf("unexpected admitted urls: %v", admitted)
	}
}

func TestSamplesExposeCounters(t *testing.T) {
	t.Parallel()

	f := newPatternFilter()
	f.Evaluate(context.Background(), "https://example.com/tag/x")
	f.Evaluate(context.Background(), "https://example.com/blog/what-is-ai")

	var b strings.Builder
	for _, s := range f.Samples() {
		b.WriteString(s.Name)
		b.WriteString(" ")
	}
	for _, name := range []string{"url_filter_total", "url_filter_passed", "url_filter_rejected", "url_filter_credits_saved", "url_filter_cache_size", "url_filter_inflight_shared_total"} {
		if !strings.Contains(b.String(), name) {
			t.Fatalf("expected sample %s in %s", name, b.String())
		}
	}
}
