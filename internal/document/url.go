package document

import (
	"net/url"
	"sort"
	"strings"
)

var trackingQueryKeys = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"mc_cid":  {},
	"mc_eid":  {},
	"ref":     {},
	"ref_src": {},
}

// CanonicalURL normalizes an absolute http(s) URL for identity comparisons. It returns ""
// when raw is not an absolute URL.
func CanonicalURL(raw string) string {
	canonical, _ := canonicalize(raw)
	return canonical
}

// Host returns the lowercased host of raw without a leading "www.".
func Host(raw string) string {
	_, host := canonicalize(raw)
	return strings.TrimPrefix(host, "www.")
}

// SameSite reports whether two URLs share a host, ignoring a "www." prefix.
func SameSite(a, b string) bool {
	ha, hb := Host(a), Host(b)
	return ha != "" && ha == hb
}

// HostMatches reports whether host equals domain or is one of its subdomains.
func HostMatches(host, domain string) bool {
	host = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(host)), "www.")
	domain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "www.")
	if host == "" || domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func canonicalize(raw string) (string, string) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ""
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", ""
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", ""
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Hostname())
	port := parsed.Port()
	parsed.Host = host
	if port != "" {
		defaultPort := (parsed.Scheme == "http" && port == "80") || (parsed.Scheme == "https" && port == "443")
		if !defaultPort {
			parsed.Host = host + ":" + port
		}
	}

	parsed.Fragment = ""
	parsed.RawFragment = ""
	path := parsed.EscapedPath()
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if path == "" {
		path = "/"
	}
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	if unescaped, err := url.PathUnescape(path); err == nil {
		parsed.Path = unescaped
		parsed.RawPath = path
	} else {
		parsed.Path = path
		parsed.RawPath = ""
	}

	q := parsed.Query()
	for key := range q {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") {
			q.Del(key)
			continue
		}
		if _, ok := trackingQueryKeys[lower]; ok {
			q.Del(key)
		}
	}
	parsed.RawQuery = encodeSorted(q)

	return parsed.String(), host
}

func encodeSorted(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for key := range q {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	ordered := url.Values{}
	for _, key := range keys {
		values := append([]string(nil), q[key]...)
		sort.Strings(values)
		for _, value := range values {
			ordered.Add(key, value)
		}
	}
	return ordered.Encode()
}
