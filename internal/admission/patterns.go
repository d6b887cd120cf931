package admission

import (
	"net/url"
	"regexp"
	"strings"
)

// excludedSegments maps listing-page path segments to the class reported in the reason.
var excludedSegments = map[string]string{
	"category":   "category",
	"categories": "category",
	"tag":        "tag",
	"tags":       "tag",
	"author":     "author",
	"authors":    "author",
	"archive":    "archive",
	"archives":   "archive",
	"search":     "search",
}

// sectionIndexes are bare top-level listing sections such as /blog.
var sectionIndexes = map[string]struct{}{
	"blog":     {},
	"news":     {},
	"posts":    {},
	"articles": {},
}

var disqualifyingParams = []string{"page", "p", "s", "search", "q", "query", "filter", "category", "tag"}

var staticExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".svg", ".webp", ".css", ".js", ".json", ".xml", ".pdf", ".zip"}

var (
	indexPagePattern = regexp.MustCompile(`^index\.(html?|php)$`)
	numericSegment   = regexp.MustCompile(`^\d+$`)

	articlePathPatterns = []*regexp.Regexp{
		regexp.MustCompile(`/(blog|posts?|articles?|news)/[\w-]+`),
		regexp.MustCompile(`/\d{4}/\d{2}/[\w-]+`),
		regexp.MustCompile(`/[\w-]+-\d+\.html?$`),
	}
)

const (
	maxTitleLikeSegments = 6
	minTitleLikeLength   = 11
)

// evaluatePattern classifies a URL from its shape alone.
func evaluatePattern(raw string) Verdict {
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return reject(raw, StagePattern, ReasonInvalidURL)
	}

	path := strings.ToLower(parsed.Path)
	if path == "" || path == "/" {
		return reject(raw, StagePattern, ReasonSiteRoot)
	}

	segments := pathSegments(path)
	if class := excludedPathClass(segments); class != "" {
		return reject(raw, StagePattern, "excluded_path:"+class)
	}

	query := parsed.Query()
	for _, name := range disqualifyingParams {
		if hasQueryKey(query, name) {
			return reject(raw, StagePattern, "query_param:"+name)
		}
	}

	for _, ext := range staticExtensions {
		if strings.HasSuffix(path, ext) {
			return reject(raw, StagePattern, "static_file:"+ext)
		}
	}

	if parsed.Fragment != "" {
		return reject(raw, StagePattern, ReasonAnchor)
	}

	for _, pattern := range articlePathPatterns {
		if pattern.MatchString(path) {
			return pass(raw, StagePattern, ReasonArticlePath, ConfidenceHigh)
		}
	}

	if n := len(segments); n >= 1 && n <= maxTitleLikeSegments && looksLikeTitle(segments[n-1]) {
		return pass(raw, StagePattern, ReasonTitleLikePath, ConfidenceMedium)
	}

	if len(segments) == 0 {
		return reject(raw, StageDefault, ReasonNoMatch)
	}
	return pass(raw, StageDefault, ReasonDefaultPass, ConfidenceLow)
}

func pathSegments(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func excludedPathClass(segments []string) string {
	if len(segments) == 1 {
		if _, ok := sectionIndexes[segments[0]]; ok {
			return "section_index"
		}
		if indexPagePattern.MatchString(segments[0]) {
			return "index"
		}
	}
	for i, segment := range segments {
		if class, ok := excludedSegments[segment]; ok {
			return class
		}
		if segment == "page" && i+1 < len(segments) && numericSegment.MatchString(segments[i+1]) {
			return "page"
		}
	}
	return ""
}

func hasQueryKey(query url.Values, name string) bool {
	for key := range query {
		if strings.EqualFold(key, name) {
			return true
		}
	}
	return false
}

func looksLikeTitle(segment string) bool {
	return len([]rune(segment)) >= minTitleLikeLength && strings.ContainsAny(segment, "-_")
}
