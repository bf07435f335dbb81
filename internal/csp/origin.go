package csp

import (
	"net/url"
	"strconv"
	"strings"
)

// defaultPorts lists schemes with a network origin and the port that is
// omitted when the origin is serialized.
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ws":    "80",
	"wss":   "443",
	"ftp":   "21",
}

// Origin serializes the origin of u as scheme://host[:port]. It returns ""
// when the origin is opaque (no host, or a special scheme with an empty host).
func Origin(u *url.URL) string {
	if u == nil {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "blob" {
		inner, err := url.Parse(u.Opaque)
		if err != nil || strings.EqualFold(inner.Scheme, "blob") {
			return ""
		}
		return Origin(inner)
	}
	if scheme == "" || u.Host == "" {
		return ""
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	port := u.Port()
	if port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n < 0 || n > 65535 {
			return ""
		}
		if port == defaultPorts[scheme] {
			port = ""
		}
	}
	if port != "" {
		return scheme + "://" + host + ":" + port
	}
	return scheme + "://" + host
}

// ResolveOrigin resolves raw against the document URL and returns the CSP
// source token for its origin: 'self' when it matches the document origin,
// the literal origin otherwise. It returns false when raw cannot be parsed or
// has an opaque origin; the caller must then drop the candidate.
//
// data: URLs are not handled here; callers substitute the data: marker.
func ResolveOrigin(raw string, doc *url.URL) (Token, bool) {
	return ResolveOriginFrom(raw, doc, doc)
}

// ResolveOriginFrom is ResolveOrigin with a resolution base that differs
// from the document URL, as set by <base href>. 'self' is still the origin
// of doc.
func ResolveOriginFrom(raw string, base, doc *url.URL) (Token, bool) {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	u := ref
	if base != nil {
		u = base.ResolveReference(ref)
	}

	origin := Origin(u)
	if origin == "" {
		return "", false
	}
	if doc != nil && origin == Origin(doc) {
		return Self, true
	}
	return Token(origin), true
}

// SocketOrigin rewrites an http(s) origin token to its ws(s) equivalent.
// 'self' and tokens already carrying a socket scheme are returned unchanged.
func SocketOrigin(t Token) Token {
	if t.Kind() != KindOrigin {
		return t
	}
	if s := string(t); strings.HasPrefix(s, "http") {
		return Token("ws" + strings.TrimPrefix(s, "http"))
	}
	return t
}

// IsDataURL reports whether raw uses the data: scheme.
func IsDataURL(raw string) bool {
	s := strings.TrimSpace(raw)
	return len(s) >= 5 && strings.EqualFold(s[:5], "data:")
}
