package admission

import "testing"

func TestEvaluatePatternRejectsListingPages(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://example.com/":                            ReasonSiteRoot,
		"https://example.com":                             ReasonSiteRoot,
		"https://example.com/category/ai":                 "excluded_path:category",
		"https://example.com/categories/machine-learning": "excluded_path:category",
		"https://example.com/tag/llm":                     "excluded_path:tag",
		"https://example.com/tags/llm":                    "excluded_path:tag",
		"https://example.com/author/x":                    "excluded_path:author",
		"https://example.com/authors/jane-smith":          "excluded_path:author",
		"https://example.com/page/2":                      "excluded_path:page",
		"https://example.com/blog/page/2":                 "excluded_path:page",
		"https://example.com/search?q=y":                  "excluded_path:search",
		"https://example.com/archive":                     "excluded_path:archive",
		"https://example.com/archives/2024":               "excluded_path:archive",
		"https://openai.com/blog":                         "excluded_path:section_index",
		"https://openai.com/blog/":                        "excluded_path:section_index",
		"https://example.com/index.html":                  "excluded_path:index",
		"https://example.com/posts?page=3":                "excluded_path:section_index",
		"https://example.com/stories?page=3":              "query_param:page",
		"https://example.com/results?query=llm":           "query_param:query",
		"https://example.com/style.css":                   "static_file:.css",
		"https://example.com/document.pdf":                "static_file:.pdf",
		"https://example.com/image.JPG":                   "static_file:.jpg",
		"https://example.com/blog/article#comments":       ReasonAnchor,
		"ftp://example.com/file":                          ReasonInvalidURL,
		"not a url":                                       ReasonInvalidURL,
	}

	for input, wantReason := range cases {
		got := evaluatePattern(input)
		if got.Passed {
			t.Fatalf("evaluatePattern(%q) passed, want rejection %q", input, wantReason)
		}
		if got.Reason != wantReason {
			t.Fatalf("evaluatePattern(%q) reason = %q, want %q", input, got.Reason, wantReason)
		}
	}
}

func TestEvaluatePatternAcceptsArticleShapes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		url        string
		confidence Confidence
		stage      Stage
		reason     string
	}{
		{"https://example.com/2024/01/some-title", ConfidenceHigh, StagePattern, ReasonArticlePath},
		{"https://example.com/blog/what-is-ai", ConfidenceHigh, StagePattern, ReasonArticlePath},
		{"https://www.anthropic.com/news/claude-3-opus", ConfidenceHigh, StagePattern, ReasonArticlePath},
		{"https://example.com/stories/model-release-123.html", ConfidenceHigh, StagePattern, ReasonArticlePath},
		{"https://example.com/insights/why-models-hallucinate", ConfidenceMedium, StagePattern, ReasonTitleLikePath},
		{"https://example.com/why_models_hallucinate", ConfidenceMedium, StagePattern, ReasonTitleLikePath},
		{"https://example.com/article", ConfidenceLow, StageDefault, ReasonDefaultPass},
		{"https://news.ycombinator.com/item?id=39846524", ConfidenceLow, StageDefault, ReasonDefaultPass},
	}

	for _, tc := range cases {
		got := evaluatePattern(tc.url)
		if !got.Passed {
			t.Fatalf("evaluatePattern(%q) rejected with %q", tc.url, got.Reason)
		}
		if got.Confidence != tc.confidence || got.Stage != tc.stage || got.Reason != tc.reason {
			t.Fatalf("evaluatePattern(%q) = %+v, want confidence=%s stage=%s reason=%s", tc.url, got, tc.confidence, tc.stage, tc.reason)
		}
	}
}

func TestEvaluatePatternZeroSegmentsIsNoMatch(t *testing.T) {
	t.Parallel()

	got := evaluatePattern("https://example.com///")
	if got.Passed || got.Reason != ReasonNoMatch || got.Stage != StageDefault {
		t.Fatalf("unexpected verdict: %+v", got)
	}
}

func TestLooksLikeTitle(t *testing.T) {
	t.Parallel()

	if looksLikeTitle("short-one") {
		t.Fatalf("expected short segment to be rejected")
	}
	if looksLikeTitle("longsegmentwithoutseparator") {
		t.Fatalf("expected segment without separator to be rejected")
	}
	if !looksLikeTitle("a-long-title") {
		t.Fatalf("expected hyphenated segment to look like a title")
	}
}
