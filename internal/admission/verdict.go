package admission

// Stage names the filter stage that decided a verdict.
type Stage string

const (
	StagePattern Stage = "pattern"
	StageProbe   Stage = "network-probe"
	StageCache   Stage = "cache"
	StageDefault Stage = "default"
)

// Confidence grades how strongly a passing verdict indicates an article.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Reason codes attached to verdicts.
const (
	ReasonInvalidURL       = "invalid_url"
	ReasonSiteRoot         = "site_root"
	ReasonAnchor           = "anchor_link"
	ReasonArticlePath      = "article_path"
	ReasonTitleLikePath    = "title_like_path"
	ReasonDefaultPass      = "default_pass"
	ReasonNoMatch          = "no_match"
	ReasonUnreachable      = "unreachable"
	ReasonNotHTML          = "not_html"
	ReasonHTTPError        = "http_error"
	ReasonNoValidTitle     = "no_valid_title"
	ReasonOGTypeArticle    = "og_type_article"
	ReasonArticleSchema    = "article_schema"
	ReasonPublishedTime    = "published_time"
	ReasonBasicMetadata    = "basic_metadata_present"
	ReasonInsufficientMeta = "insufficient_metadata"
	ReasonProbeFailed      = "probe_failed"
)

// Metadata is what the network probe could read from the page head.
type Metadata struct {
	Title            string `json:"title,omitempty"`
	Description      string `json:"description,omitempty"`
	ContentType      string `json:"content_type,omitempty"`
	OGType           string `json:"og_type,omitempty"`
	HasArticleSchema bool   `json:"has_article_schema"`
	PublishedAt      string `json:"published_at,omitempty"`
}

// Verdict is the outcome of evaluating one URL. Rejections are ordinary values, not errors.
type Verdict struct {
	URL        string     `json:"url"`
	Passed     bool       `json:"passed"`
	Stage      Stage      `json:"stage"`
	Reason     string     `json:"reason"`
	Confidence Confidence `json:"confidence,omitempty"`
	Metadata   *Metadata  `json:"metadata,omitempty"`
}

func pass(url string, stage Stage, reason string, confidence Confidence) Verdict {
	return Verdict{URL: url, Passed: true, Stage: stage, Reason: reason, Confidence: confidence}
}

func reject(url string, stage Stage, reason string) Verdict {
	return Verdict{URL: url, Passed: false, Stage: stage, Reason: reason}
}
