// Package scan performs the static pass over a parsed document, classifying
// every resource-bearing element and recording its sources into the policy
// state.
package scan

import (
	"strings"

	"github.com/ppiankov/cspwatch/internal/dom"
)

// ResourceKind is the closed classification of resource-bearing elements.
type ResourceKind int

const (
	ExternalScript ResourceKind = iota + 1
	InlineScript
	ExternalStylesheet
	InlineStyle
	Image
	FontPreload
	Frame
	Embed
)

var resourceKindNames = map[ResourceKind]string{
	ExternalScript:     "external-script",
	InlineScript:       "inline-script",
	ExternalStylesheet: "external-stylesheet",
	InlineStyle:        "inline-style",
	Image:              "image",
	FontPreload:        "font-preload",
	Frame:              "frame",
	Embed:              "embed",
}

func (k ResourceKind) String() string {
	if s, ok := resourceKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ResourceKinds lists every kind in declaration order.
var ResourceKinds = []ResourceKind{
	ExternalScript, InlineScript, ExternalStylesheet, InlineStyle,
	Image, FontPreload, Frame, Embed,
}

// Resource is one classified element. Ref is the URL reference the element
// loads (empty for inline bodies and payload-less embeds).
type Resource struct {
	Kind    ResourceKind
	Element dom.Element
	Ref     string
}

var scannedKinds = []dom.Kind{
	dom.KindScript,
	dom.KindStylesheet,
	dom.KindStyle,
	dom.KindImage,
	dom.KindFontPreload,
	dom.KindFrame,
	dom.KindObject,
	dom.KindEmbed,
}

// Resources classifies the document's elements in document order. Elements
// that carry nothing to record (an img without src, a stylesheet link
// without href) are skipped.
func Resources(doc dom.Document) []Resource {
	els := doc.Elements(scannedKinds...)
	out := make([]Resource, 0, len(els))
	for _, el := range els {
		if r, ok := Classify(el); ok {
			out = append(out, r)
		}
	}
	return out
}

// Classify maps a single element to its resource kind.
func Classify(el dom.Element) (Resource, bool) {
	tag := strings.ToLower(el.Tag())
	switch tag {
	case "script":
		if src := attrValue(el, "src"); src != "" {
			return Resource{Kind: ExternalScript, Element: el, Ref: src}, true
		}
		return Resource{Kind: InlineScript, Element: el}, true
	case "style":
		return Resource{Kind: InlineStyle, Element: el}, true
	case "link":
		href := attrValue(el, "href")
		if href == "" {
			return Resource{}, false
		}
		rel := strings.Fields(strings.ToLower(attrValue(el, "rel")))
		for _, r := range rel {
			if r == "stylesheet" {
				return Resource{Kind: ExternalStylesheet, Element: el, Ref: href}, true
			}
		}
		return Resource{Kind: FontPreload, Element: el, Ref: href}, true
	case "img":
		if src := attrValue(el, "src"); src != "" {
			return Resource{Kind: Image, Element: el, Ref: src}, true
		}
	case "iframe":
		if src := attrValue(el, "src"); src != "" {
			return Resource{Kind: Frame, Element: el, Ref: src}, true
		}
	case "object":
		return Resource{Kind: Embed, Element: el, Ref: attrValue(el, "data")}, true
	case "embed":
		return Resource{Kind: Embed, Element: el, Ref: attrValue(el, "src")}, true
	}
	return Resource{}, false
}

func attrValue(el dom.Element, name string) string {
	v, _ := el.Attr(name)
	return strings.TrimSpace(v)
}
