// Package csp holds the policy inference engine: the per-directive source
// state, origin resolution, inline hashing and the finalization pass that
// turns observations into a Content-Security-Policy recommendation.
package csp

// Directive is one CSP resource category governed by the policy.
type Directive string

const (
	DefaultSrc     Directive = "default-src"
	ScriptSrc      Directive = "script-src"
	StyleSrc       Directive = "style-src"
	ImgSrc         Directive = "img-src"
	FontSrc        Directive = "font-src"
	FrameSrc       Directive = "frame-src"
	ConnectSrc     Directive = "connect-src"
	ObjectSrc      Directive = "object-src"
	FrameAncestors Directive = "frame-ancestors"
	BaseURI        Directive = "base-uri"
	FormAction     Directive = "form-action"
)

// Directives is the closed set of directives the engine tracks, in the order
// they are emitted.
var Directives = []Directive{
	DefaultSrc,
	ScriptSrc,
	StyleSrc,
	ImgSrc,
	FontSrc,
	FrameSrc,
	ConnectSrc,
	ObjectSrc,
	FrameAncestors,
	BaseURI,
	FormAction,
}

var directiveSet = buildDirectiveSet()

func buildDirectiveSet() map[Directive]bool {
	s := make(map[Directive]bool, len(Directives))
	for _, d := range Directives {
		s[d] = true
	}
	return s
}

// Valid reports whether d belongs to the tracked directive set.
func (d Directive) Valid() bool {
	return directiveSet[d]
}

// Baseline returns the placeholder token every directive starts with.
func (d Directive) Baseline() Token {
	if d == ObjectSrc {
		return None
	}
	return Self
}

func (d Directive) String() string {
	return string(d)
}
