// Package dom exposes the read-only view of an HTML document the scanner
// walks: elements selected by resource kind, each with attribute, text and
// outer-markup accessors.
package dom

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Kind selects a family of resource-bearing elements.
type Kind int

const (
	KindScript Kind = iota
	KindStylesheet
	KindStyle
	KindImage
	KindFrame
	KindObject
	KindEmbed
	KindFontPreload
)

var kindNames = map[Kind]string{
	KindScript:      "script",
	KindStylesheet:  "link[stylesheet]",
	KindStyle:       "style",
	KindImage:       "img",
	KindFrame:       "iframe",
	KindObject:      "object",
	KindEmbed:       "embed",
	KindFontPreload: "link[preload-font]",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Element is a single node of the document.
type Element interface {
	Tag() string
	// Attr returns the attribute value and whether it is present.
	Attr(name string) (string, bool)
	// Text returns the concatenated text content.
	Text() string
	OuterHTML() string
}

// Document is the accessor the scanner consumes.
type Document interface {
	// URL is the address the document was loaded from; it defines 'self'.
	URL() *url.URL
	// BaseURL is the resolution base for relative references: the first
	// <base href> resolved against URL, or URL itself.
	BaseURL() *url.URL
	// Elements returns the elements matching any of kinds in document order.
	Elements(kinds ...Kind) []Element
}

type document struct {
	url  *url.URL
	base *url.URL
	root *html.Node
}

// Parse reads an HTML document. loc is the URL the document was loaded
// from; a <base href> in the document overrides it for relative references.
func Parse(r io.Reader, loc *url.URL) (Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}
	return &document{url: loc, base: baseURL(root, loc), root: root}, nil
}

// baseURL returns the first <base href> resolved against loc. An unparseable
// href leaves loc in effect.
func baseURL(root *html.Node, loc *url.URL) *url.URL {
	n := findFirst(root, func(n *html.Node) bool {
		if n.DataAtom != atom.Base {
			return false
		}
		_, ok := lookupAttr(n, "href")
		return ok
	})
	if n == nil {
		return loc
	}
	ref, err := url.Parse(strings.TrimSpace(attr(n, "href")))
	if err != nil {
		return loc
	}
	if loc != nil {
		ref = loc.ResolveReference(ref)
	}
	if !ref.IsAbs() {
		return loc
	}
	return ref
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

// ParseString is Parse over an in-memory document.
func ParseString(s string, base *url.URL) (Document, error) {
	return Parse(strings.NewReader(s), base)
}

func (d *document) URL() *url.URL {
	return d.url
}

func (d *document) BaseURL() *url.URL {
	return d.base
}

func (d *document) Elements(kinds ...Kind) []Element {
	want := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	var out []Element
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if k, ok := classify(n); ok && want[k] {
				out = append(out, &element{n: n})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	return out
}

func classify(n *html.Node) (Kind, bool) {
	switch n.DataAtom {
	case atom.Script:
		return KindScript, true
	case atom.Style:
		return KindStyle, true
	case atom.Img:
		return KindImage, true
	case atom.Iframe:
		return KindFrame, true
	case atom.Object:
		return KindObject, true
	case atom.Embed:
		return KindEmbed, true
	case atom.Link:
		rel := relTokens(attr(n, "rel"))
		if rel["stylesheet"] {
			return KindStylesheet, true
		}
		if rel["preload"] && strings.EqualFold(strings.TrimSpace(attr(n, "as")), "font") {
			return KindFontPreload, true
		}
	}
	return 0, false
}

func relTokens(rel string) map[string]bool {
	fields := strings.Fields(strings.ToLower(rel))
	out := make(map[string]bool, len(fields))
	for _, f := range fields {
		out[f] = true
	}
	return out
}

func attr(n *html.Node, name string) string {
	v, _ := lookupAttr(n, name)
	return v
}

func lookupAttr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

type element struct {
	n *html.Node
}

func (e *element) Tag() string {
	return e.n.Data
}

func (e *element) Attr(name string) (string, bool) {
	return lookupAttr(e.n, name)
}

func (e *element) Text() string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(e.n)
	return b.String()
}

func (e *element) OuterHTML() string {
	var b strings.Builder
	if err := html.Render(&b, e.n); err != nil {
		return "<" + e.n.Data + ">"
	}
	return b.String()
}
