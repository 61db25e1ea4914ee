package waf

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
)

// Structural limits applied before any pattern matching. Oversized URIs and
// header floods are request-smuggling staples and never legitimate traffic
// for a fronted site.
const (
	uriLengthLimit   = 8192
	headerCountLimit = 64
)

// exemptHeaders are never pattern-matched: browser-controlled or known to
// produce false positives (Accept lines contain slashes and commas, cookies
// are opaque to us).
var exemptHeaders = map[string]struct{}{
	"host":              {},
	"accept":            {},
	"accept-language":   {},
	"accept-encoding":   {},
	"connection":        {},
	"content-length":    {},
	"content-type":      {},
	"if-modified-since": {},
	"if-none-match":     {},
	"cache-control":     {},
	"upgrade":           {},
	"authorization":     {},
}

func isExemptHeader(name string) bool {
	lower := strings.ToLower(name)
	if _, ok := exemptHeaders[lower]; ok {
		return true
	}
	// Sec-Fetch-*, Sec-CH-*, Sec-WebSocket-* and friends.
	return strings.HasPrefix(lower, "sec-")
}

// queryVariants returns the raw query plus its decoded forms. Attackers rely
// on single- and double-encoding (%2527 decodes to %27 decodes to a quote)
// and on + for spaces, so each decoding pass gets its own match attempt.
func queryVariants(raw string) []string {
	if raw == "" {
		return nil
	}
	variants := []string{raw}
	add := func(v string) {
		if !slices.Contains(variants, v) {
			variants = append(variants, v)
		}
	}
	if strings.Contains(raw, "+") {
		add(strings.ReplaceAll(raw, "+", " "))
	}
	decoded := raw
	if strings.Contains(raw, "%") {
		if d, err := url.QueryUnescape(raw); err == nil {
			decoded = d
			add(d)
		}
	}
	if strings.Contains(decoded, "%") {
		if dd, err := url.QueryUnescape(decoded); err == nil {
			add(dd)
		}
	}
	return variants
}

// inspect runs the request through the structural limits and the ruleset,
// returning the name of the first rule that matches.
func (fw *firewall) inspect(r *http.Request) (string, bool) {
	if len(r.RequestURI) > uriLengthLimit {
		return "uri-too-long", true
	}

	var headerValues []string
	for name, values := range r.Header {
		if isExemptHeader(name) {
			continue
		}
		headerValues = append(headerValues, values...)
	}
	if len(headerValues) > headerCountLimit {
		return "too-many-headers", true
	}

	path := r.URL.Path
	agent := r.UserAgent()
	variants := queryVariants(r.URL.RawQuery)

	for i := range fw.rules {
		rl := &fw.rules[i]
		switch {
		case rl.in&scopeFullURI != 0 && rl.re.MatchString(r.RequestURI):
			return rl.name, true
		case rl.in&scopePath != 0 && matchesPath(rl, path):
			return rl.name, true
		case rl.in&scopeQuery != 0 && slices.ContainsFunc(variants, rl.re.MatchString):
			return rl.name, true
		case rl.in&scopeAgent != 0 && agent != "" && rl.re.MatchString(agent):
			return rl.name, true
		case rl.in&scopeHeader != 0 && slices.ContainsFunc(headerValues, rl.re.MatchString):
			return rl.name, true
		}
	}
	return "", false
}

// matchesPath applies a path-scoped rule. /.well-known is carved out so the
// sensitive-path rule cannot interfere with challenge or metadata traffic.
func matchesPath(rl *rule, path string) bool {
	if rl.name == "sensitive-path" &&
		(path == "/.well-known" || strings.HasPrefix(path, "/.well-known/")) {
		return false
	}
	return rl.re.MatchString(path)
}

// remoteIP extracts the client address for log lines, preferring the first
// X-Forwarded-For hop when present.
func remoteIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return xff
	}
	return r.RemoteAddr
}
