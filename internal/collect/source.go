package collect

import (
	"fmt"
	"strings"
)

// SourceType is the caller's hint for how a source identifier should be read.
type SourceType string

const (
	TypeAuto      SourceType = "auto"
	TypeFeed      SourceType = "feed"
	TypeScrape    SourceType = "scrape"
	TypeMessaging SourceType = "messaging"
)

// ParseSourceType accepts canonical names and the aliases upstream callers use.
func ParseSourceType(raw string) (SourceType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "auto":
		return TypeAuto, nil
	case "feed", "rss", "atom":
		return TypeFeed, nil
	case "scrape", "firecrawl", "web":
		return TypeScrape, nil
	case "messaging", "message", "telegram":
		return TypeMessaging, nil
	default:
		return "", fmt.Errorf("unknown source type %q", raw)
	}
}

// Source is one identifier to collect from: a page URL, a feed URL or a channel name.
type Source struct {
	Source string     `json:"source" yaml:"source"`
	Type   SourceType `json:"type,omitempty" yaml:"type"`
}

var feedHints = []string{"rss", "atom", "/feed", ".xml"}

// Resolve turns an auto hint into a concrete type. HTTP URLs that look like feeds are read
// as feeds, other HTTP URLs are scraped, and anything else is a messaging channel.
func Resolve(source string, hint SourceType) SourceType {
	if hint != "" && hint != TypeAuto {
		return hint
	}
	trimmed := strings.ToLower(strings.TrimSpace(source))
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		return TypeMessaging
	}
	for _, marker := range feedHints {
		if strings.Contains(trimmed, marker) {
			return TypeFeed
		}
	}
	return TypeScrape
}
