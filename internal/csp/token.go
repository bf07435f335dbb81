package csp

import (
	"regexp"
	"strings"
)

// Token is a single CSP source expression, compared as a raw string.
type Token string

// Keyword and marker tokens.
const (
	Self         Token = "'self'"
	None         Token = "'none'"
	DataURI      Token = "data:"
	Inline       Token = "inline"
	UnsafeInline Token = "'unsafe-inline'"
)

// TokenKind classifies a token.
type TokenKind string

const (
	KindSelf         TokenKind = "self"
	KindNone         TokenKind = "none"
	KindOrigin       TokenKind = "origin"
	KindDataURI      TokenKind = "data-uri-marker"
	KindInline       TokenKind = "inline-marker"
	KindHash         TokenKind = "hash-source"
	KindNonce        TokenKind = "nonce-source"
	KindUnsafeInline TokenKind = "unsafe-inline-fallback"
)

// Kind returns the token's classification. Anything that is not a keyword,
// marker, hash or nonce is an origin.
func (t Token) Kind() TokenKind {
	switch t {
	case Self:
		return KindSelf
	case None:
		return KindNone
	case DataURI:
		return KindDataURI
	case Inline:
		return KindInline
	case UnsafeInline:
		return KindUnsafeInline
	}
	s := string(t)
	switch {
	case strings.HasPrefix(s, "'nonce-"):
		return KindNonce
	case strings.HasPrefix(s, "'sha256-"), strings.HasPrefix(s, "'sha384-"), strings.HasPrefix(s, "'sha512-"):
		return KindHash
	default:
		return KindOrigin
	}
}

func (t Token) String() string {
	return string(t)
}

var nonceValueRe = regexp.MustCompile(`^[A-Za-z0-9+/_-]+=*$`)

// ValidNonce reports whether v is a CSP base64-value and can be quoted into
// a nonce-source without altering the policy around it.
func ValidNonce(v string) bool {
	return nonceValueRe.MatchString(v)
}

// NonceToken formats a nonce-source expression.
func NonceToken(value string) Token {
	return Token("'nonce-" + value + "'")
}

// HashToken formats a hash-source expression from an algorithm name and a
// base64-encoded digest.
func HashToken(algo, b64 string) Token {
	return Token("'" + algo + "-" + b64 + "'")
}

// InlineKind distinguishes inline scripts from inline styles.
type InlineKind string

const (
	InlineScript InlineKind = "script"
	InlineStyle  InlineKind = "style"
)

// InlineResource is the text body of an inline script or style element.
type InlineResource struct {
	Kind     InlineKind `json:"kind"`
	Content  string     `json:"-"`
	Snapshot string     `json:"snapshot"`
}

// NonceRecord is a nonce attribute observed on an inline element.
type NonceRecord struct {
	Kind     InlineKind `json:"kind"`
	Value    string     `json:"value"`
	Snapshot string     `json:"snapshot"`
}

// DataURIRecord notes that an element depends on a data: URI.
type DataURIRecord struct {
	Kind    string `json:"kind"`
	Context string `json:"context"`
}

// Data URI categories.
const (
	DataScript      = "script"
	DataStyle       = "style"
	DataStyleInline = "style-inline-data"
	DataImage       = "img"
	DataFont        = "font-inline-data-uri"
	DataFrame       = "frame"
	DataObject      = "object"
)
