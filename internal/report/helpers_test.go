package report

import (
	"context"
	"net/url"
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
	s.Record(csp.ConnectSrc, "https://api.example.org", "request to: https://api.example.org/v1/items")
	s.Record(csp.ImgSrc, csp.DataURI, `<img src="data:image/png;base64,AAAA">`)
	s.AddDataURI(csp.DataURIRecord{Kind: csp.DataImage, Context: `<img src="data:image/png;base64,AAAA">`})
	s.AddInline(csp.InlineResource{Kind: csp.InlineStyle, Content: "body{color:red}", Snapshot: "<style>body{color:red}</style>"})
	s.Record(csp.StyleSrc, csp.Inline, "<style>body{color:red}</style>")
	s.AddNonce(csp.NonceRecord{Kind: csp.InlineScript, Value: "r4nd0m", Snapshot: `<script nonce="r4nd0m">init()</script>`})
	s.AddUnresolved("http://[::1")

	d, err := csp.NewDigester("sha256")
	if err != nil {
		t.Fatal(err)
	}
	return csp.Finalize(context.Background(), s, d)
}

func testViolations() []rules.Violation {
	return []rules.Violation{
		{Rule: "no-data-uri", Severity: rules.SeverityInfo, Directive: csp.ImgSrc, Source: csp.DataURI, Message: "img-src allows data:"},
		{Rule: "allowed-origins", Severity: rules.SeverityWarn, Directive: csp.ConnectSrc, Source: "https://api.example.org", Message: "https://api.example.org is not an allowed origin"},
	}
}
