package monitor

import (
	"context"
	"net/url"
	"regexp"
	"testing"

	"github.com/ppiankov/cspwatch/internal/csp"
	"github.com/ppiankov/cspwatch/internal/rules"
)

func testPolicy(t *testing.T) *csp.Policy {
	t.Helper()
	doc, err := url.Parse("https://example.com/")
	if err != nil {
		t.Fatal(err)
	}
	s := csp.NewState(doc)
	s.Record(csp.ScriptSrc, "https://cdn.example.net", `<script src="https://cdn.example.net/app.js"></script>`)
	s.Record(csp.ImgSrc, csp.DataURI, `<img src="data:image/png;base64,AAAA">`)
	s.AddDataURI(csp.DataURIRecord{Kind: csp.DataImage, Context: `<img src="data:image/png;base64,AAAA">`})
	s.AddInline(csp.InlineResource{Kind: csp.InlineScript, Content: "console.log(1)", Snapshot: "<script>console.log(1)</script>"})
	s.Record(csp.ScriptSrc, csp.Inline, "<script>console.log(1)</script>")
	s.MarkEval()

	d, err := csp.NewDigester("sha256")
	if err != nil {
		t.Fatal(err)
	}
	return csp.Finalize(context.Background(), s, d)
}

func testViolations() []rules.Violation {
	return []rules.Violation{
		{
			RuleSet:   "builtin",
			Rule:      "no-eval",
			Type:      rules.TypeNoEval,
			Severity:  rules.SeverityCritical,
			Directive: csp.ScriptSrc,
			Message:   "page uses eval() or Function()",
		},
		{
			RuleSet:   "builtin",
			Rule:      "no-data-uri",
			Type:      rules.TypeNoDataURI,
			Severity:  rules.SeverityInfo,
			Directive: csp.ImgSrc,
			Source:    csp.DataURI,
			Message:   "img-src allows data:",
		},
	}
}

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}
