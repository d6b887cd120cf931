package reader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func TestCleanTextCollapsesWhitespaceAndPreservesParagraphs(t *testing.T) {
	t.Parallel()

	input := "  First   paragraph \n\n Second\tparagraph \r\n\r\nThird line "
	got := CleanText(input)
	want := "First paragraph\n\nSecond paragraph\n\nThird line"
	if got != want {
		t.Fatalf("CleanText mismatch\nwant: %q\ngot:  %q", want, got)
	}
}

func TestTruncateText(t *testing.T) {
	t.Parallel()

	got, truncated := TruncateText("abcdefghijklmnopqrstuvwxyz", 10)
	if !truncated || got != "abcdefghi…" {
		t.Fatalf("unexpected truncation: %q truncated=%t", got, truncated)
	}

	full, wasTruncated := TruncateText("short", 10)
	if wasTruncated || full != "short" {
		t.Fatalf("unexpected short text: %q truncated=%t", full, wasTruncated)
	}
}

func TestExtractLinksResolvesAndDeduplicates(t *testing.T) {
	t.Parallel()

	html := `<html><body>
<a href="/blog/one">one</a>
<a href="https://example.com/blog/one">dup</a>
<a href="two">relative</a>
<a href="mailto:someone@example.com">mail</a>
<a href="javascript:void(0)">js</a>
<a href="https://other.com/x">external</a>
</body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	base, _ := url.Parse("https://example.com/blog/")

	got := ExtractLinks(doc, base)
	want := []string{"https://example.com/blog/one", "https://example.com/blog/two", "https://other.com/x"}
	if len(got) != len(want) {
		t.Fatalf("unexpected links: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("link %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseTime(t *testing.T) {
	t.Parallel()

	if got := ParseTime("2024-02-01"); got == nil || got.Year() != 2024 || got.Month() != 2 {
		t.Fatalf("unexpected parse of date-only value: %v", got)
	}
	if got := ParseTime("2024-02-01T10:00:00+02:00"); got == nil || got.Hour() != 8 {
		t.Fatalf("expected UTC normalization, got %v", got)
	}
	if got := ParseTime("yesterday"); got != nil {
		t.Fatalf("expected nil for unparseable input, got %v", got)
	}
}

func TestFetchPlainText(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("  line one \n\n line   two "))
	}))
	defer server.Close()

	page, err := Fetch(context.Background(), server.URL, FetchOptions{})
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if page.Text != "line one\n\nline two" {
		t.Fatalf("unexpected text: %q", page.Text)
	}
}

func TestFetchReportsStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := Fetch(context.Background(), server.URL, FetchOptions{})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected StatusError 503, got %v", err)
	}
}
