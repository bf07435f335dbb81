package csp

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"
)

// Reporting describes the static violation-reporting endpoints appended to
// every recommendation.
type Reporting struct {
	URI      string `json:"reportUri" yaml:"uri"`
	Group    string `json:"group" yaml:"group"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	MaxAge   int    `json:"maxAge" yaml:"maxAge"`
}

// DefaultReporting returns the reporting endpoints used when none are configured.
func DefaultReporting() Reporting {
	return Reporting{
		URI:      "/report-csp-violation-endpoint",
		Group:    "csp-endpoint",
		MaxAge:   10886400,
		Endpoint: "/report-csp-violation-endpoint",
	}
}

type reportToGroup struct {
	Group     string           `json:"group"`
	MaxAge    int              `json:"max_age"`
	Endpoints []reportEndpoint `json:"endpoints"`
}

type reportEndpoint struct {
	URL string `json:"url"`
}

// ReportTo returns the structured group descriptor served in the Report-To
// header.
func (r Reporting) ReportTo() string {
	b, err := json.Marshal(reportToGroup{
		Group:     r.Group,
		MaxAge:    r.MaxAge,
		Endpoints: []reportEndpoint{{URL: r.Endpoint}},
	})
	if err != nil {
		return ""
	}
	return string(b)
}

// Policy is the finalized recommendation of one audit run.
type Policy struct {
	GeneratedAt time.Time        `json:"generatedAt"`
	DocumentURL string           `json:"documentUrl"`
	Directives  []DirectiveState `json:"directives"`
	Nonces      []NonceRecord    `json:"nonces,omitempty"`
	DataURIs    []DataURIRecord  `json:"dataUris,omitempty"`
	Unresolved  []string         `json:"unresolved,omitempty"`
	Reporting   Reporting        `json:"reporting"`
	Eval        bool             `json:"eval"`
	Baseline    bool             `json:"baseline"`
	ReportOnly  bool             `json:"reportOnly"`
	Partial     bool             `json:"partial"`
}

// Emitted returns the directives that pass the emission filter, in canonical
// order.
func (p *Policy) Emitted() []DirectiveState {
	var out []DirectiveState
	for i := range p.Directives {
		if p.Directives[i].Emitted {
			out = append(out, p.Directives[i])
		}
	}
	return out
}

// Directive returns the state of one directive.
func (p *Policy) Directive(d Directive) (DirectiveState, bool) {
	for i := range p.Directives {
		if p.Directives[i].Directive == d {
			return p.Directives[i], true
		}
	}
	return DirectiveState{}, false
}

// Sources returns the final source list of d.
func (p *Policy) Sources(d Directive) []Token {
	ds, _ := p.Directive(d)
	return ds.Sources
}

// Justifications returns the explanations recorded for (d, t).
func (p *Policy) Justifications(d Directive, t Token) []string {
	ds, _ := p.Directive(d)
	for _, r := range ds.Reasons {
		if r.Token == t {
			return r.Entries
		}
	}
	return nil
}

// Lines renders the policy one directive per line, followed by the
// reporting endpoints.
func (p *Policy) Lines() []string {
	emitted := p.Emitted()
	lines := make([]string, 0, len(emitted)+2)
	for i := range emitted {
		lines = append(lines, formatDirective(emitted[i])+";")
	}
	lines = append(lines,
		fmt.Sprintf("report-uri %s;", p.Reporting.URI),
		fmt.Sprintf("report-to %s;", p.Reporting.ReportTo()),
	)
	return lines
}

// Header renders the policy as a single header value. The report-to
// directive names the group; its descriptor goes in the Report-To header.
func (p *Policy) Header() string {
	emitted := p.Emitted()
	parts := make([]string, 0, len(emitted)+2)
	for i := range emitted {
		parts = append(parts, formatDirective(emitted[i]))
	}
	parts = append(parts,
		"report-uri "+p.Reporting.URI,
		"report-to "+p.Reporting.Group,
	)
	return strings.Join(parts, "; ")
}

// HeaderName is the response header the policy should be served under.
func (p *Policy) HeaderName() string {
	if p.ReportOnly {
		return "Content-Security-Policy-Report-Only"
	}
	return "Content-Security-Policy"
}

// MetaTag renders the policy as an http-equiv meta element. Browsers ignore
// frame-ancestors and the reporting directives in meta policies, so they are
// left out.
func (p *Policy) MetaTag() string {
	emitted := p.Emitted()
	parts := make([]string, 0, len(emitted))
	for i := range emitted {
		if emitted[i].Directive == FrameAncestors {
			continue
		}
		parts = append(parts, formatDirective(emitted[i]))
	}
	return fmt.Sprintf(`<meta http-equiv="Content-Security-Policy" content="%s">`,
		html.EscapeString(strings.Join(parts, "; ")))
}

func formatDirective(ds DirectiveState) string {
	parts := make([]string, 0, len(ds.Sources)+1)
	parts = append(parts, string(ds.Directive))
	for _, t := range ds.Sources {
		parts = append(parts, string(t))
	}
	return strings.Join(parts, " ")
}
