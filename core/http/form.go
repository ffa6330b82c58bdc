package http

import (
	"net/url"
	"strings"
)

// parseForm decodes "k1=v1&k2=v2" pairs into dst. A key without '=' maps to
// an empty value, the last duplicate wins, and pairs that fail to decode
// keep their raw text.
func parseForm(dst map[string]string, raw string) {
	for raw != "" {
		var pair string
		pair, raw, _ = strings.Cut(raw, "&")
		if pair == "" {
			continue
		}

		key, value, _ := strings.Cut(pair, "=")
		dst[unescape(key)] = unescape(value)
	}
}

func unescape(s string) string {
	if strings.IndexByte(s, '%') < 0 && strings.IndexByte(s, '+') < 0 {
		return s
	}
	if v, err := url.QueryUnescape(s); err == nil {
		return v
	}
	return s
}

// splitTarget splits a request-target into its path and raw query.
func splitTarget(target string) (path, query string) {
	path, query, _ = strings.Cut(target, "?")
	return path, query
}
