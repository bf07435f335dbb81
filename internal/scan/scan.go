package scan

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ppiankov/cspwatch/internal/csp"
	"github.com/ppiankov/cspwatch/internal/dom"
)

const snapshotLimit = 200

// ReasonNoEmbedData justifies the 'none' recorded for a payload-less
// object or embed.
const ReasonNoEmbedData = "no embed data specified"

var (
	fontURLRe    = regexp.MustCompile(`url\(['"]?(data:|https?://[^)'"]+)`)
	inlineDataRe = regexp.MustCompile(`url\(['"]?data:`)
)

// Result summarizes one scan.
type Result struct {
	Counts  map[ResourceKind]int
	Dropped int
}

// Scan walks the document once and records every static source into s.
func Scan(doc dom.Document, s *csp.State) Result {
	res := Result{Counts: make(map[ResourceKind]int, len(ResourceKinds))}
	sc := &scanner{state: s, doc: doc, result: &res}
	for _, r := range Resources(doc) {
		res.Counts[r.Kind]++
		sc.record(r)
	}
	slog.Debug("static scan complete", "resources", sumCounts(res.Counts), "dropped", res.Dropped)
	return res
}

type scanner struct {
	state  *csp.State
	doc    dom.Document
	result *Result
}

func (sc *scanner) record(r Resource) {
	el := r.Element
	switch r.Kind {
	case ExternalScript:
		sc.external(csp.ScriptSrc, r.Ref, el.OuterHTML(), csp.DataScript)
	case InlineScript:
		sc.inline(el, csp.ScriptSrc, csp.InlineScript)
	case ExternalStylesheet:
		sc.external(csp.StyleSrc, r.Ref, el.OuterHTML(), csp.DataStyle)
	case InlineStyle:
		text := el.Text()
		if sc.inline(el, csp.StyleSrc, csp.InlineStyle) && inlineDataRe.MatchString(text) {
			sc.state.AddDataURI(csp.DataURIRecord{Kind: csp.DataStyleInline, Context: Snapshot(el.OuterHTML())})
		}
		sc.fonts(el, text)
	case Image:
		sc.external(csp.ImgSrc, r.Ref, el.OuterHTML(), csp.DataImage)
	case FontPreload:
		sc.external(csp.FontSrc, r.Ref, el.OuterHTML(), csp.DataFont)
	case Frame:
		sc.external(csp.FrameSrc, r.Ref, el.OuterHTML(), csp.DataFrame)
	case Embed:
		if r.Ref == "" {
			sc.state.Record(csp.ObjectSrc, csp.None, ReasonNoEmbedData)
			return
		}
		sc.external(csp.ObjectSrc, r.Ref, el.OuterHTML(), csp.DataObject)
	}
}

// external records a URL-bearing element: data: URLs become the data: marker
// plus a data URI record, everything else its resolved origin.
func (sc *scanner) external(d csp.Directive, ref, justification, dataKind string) {
	if csp.IsDataURL(ref) {
		sc.state.Record(d, csp.DataURI, justification)
		sc.state.AddDataURI(csp.DataURIRecord{Kind: dataKind, Context: Snapshot(justification)})
		return
	}
	tok, ok := csp.ResolveOriginFrom(ref, sc.doc.BaseURL(), sc.doc.URL())
	if !ok {
		sc.drop(d, ref)
		return
	}
	sc.state.Record(d, tok, justification)
}

// inline collects a non-empty inline body and its nonce. It reports whether
// the body was collected.
func (sc *scanner) inline(el dom.Element, d csp.Directive, kind csp.InlineKind) bool {
	text := el.Text()
	if strings.TrimSpace(text) == "" {
		return false
	}
	snap := Snapshot(el.OuterHTML())
	sc.state.AddInline(csp.InlineResource{Kind: kind, Content: text, Snapshot: snap})
	sc.state.Record(d, csp.Inline, snap)
	if nonce, ok := el.Attr("nonce"); ok && nonce != "" {
		sc.state.AddNonce(csp.NonceRecord{Kind: kind, Value: nonce, Snapshot: snap})
	}
	return true
}

func (sc *scanner) fonts(el dom.Element, text string) {
	for _, m := range fontURLRe.FindAllStringSubmatch(text, -1) {
		reason := truncate(text, snapshotLimit)
		if m[1] == "data:" {
			sc.state.Record(csp.FontSrc, csp.DataURI, reason+" (data URI)")
			sc.state.AddDataURI(csp.DataURIRecord{Kind: csp.DataFont, Context: Snapshot(el.OuterHTML())})
			continue
		}
		tok, ok := csp.ResolveOriginFrom(m[1], sc.doc.BaseURL(), sc.doc.URL())
		if !ok {
			sc.drop(csp.FontSrc, m[1])
			continue
		}
		sc.state.Record(csp.FontSrc, tok, reason)
	}
}

func (sc *scanner) drop(d csp.Directive, ref string) {
	sc.result.Dropped++
	sc.state.AddUnresolved(ref)
	slog.Debug("dropping unresolvable url", "directive", d, "url", ref)
}

// Snapshot shortens element markup for display.
func Snapshot(markup string) string {
	if len(markup) <= snapshotLimit {
		return markup
	}
	return truncate(markup, snapshotLimit) + "..."
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func sumCounts(m map[ResourceKind]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}
