// Package report renders finalized policies as text, CSV and self-contained
// HTML reports.
package report

import (
	"bytes"
	"embed"
	"html/template"
	"strings"

	"github.com/ppiankov/cspwatch/internal/csp"
	"github.com/ppiankov/cspwatch/internal/rules"
)

//go:embed templates/report.html
var templateFS embed.FS

var reportTmpl = template.Must(template.ParseFS(templateFS, "templates/report.html"))

// Generate renders a policy and its rule violations as a self-contained HTML
// report.
func Generate(p *csp.Policy, violations []rules.Violation) ([]byte, error) {
	var critCount, warnCount, infoCount int
	vrows := make([]violationRow, 0, len(violations))
	for i := range violations {
		v := &violations[i]
		switch v.Severity {
		case rules.SeverityCritical:
			critCount++
		case rules.SeverityWarn:
			warnCount++
		default:
			infoCount++
		}
		vrows = append(vrows, violationRow{
			Severity:      string(v.Severity),
			SeverityLabel: strings.ToUpper(string(v.Severity)),
			Rule:          v.Rule,
			Directive:     string(v.Directive),
			Source:        string(v.Source),
			Message:       v.Message,
		})
	}

	data := reportData{
		GeneratedAt:   p.GeneratedAt.UTC().Format("2006-01-02 15:04 UTC"),
		DocumentURL:   p.DocumentURL,
		HeaderName:    p.HeaderName(),
		Header:        p.Header(),
		MetaTag:       p.MetaTag(),
		ReportTo:      p.Reporting.ReportTo(),
		Lines:         p.Lines(),
		Partial:       p.Partial,
		Baseline:      p.Baseline,
		EvalUsed:      p.Eval,
		EvalVerdict:   csp.EvalVerdict(p.Eval),
		DataVerdict:   csp.DataURIVerdict(p.DataURIs),
		DataURIs:      p.DataURIs,
		Nonces:        p.Nonces,
		Unresolved:    p.Unresolved,
		Directives:    buildDirectives(p),
		Violations:    vrows,
		CriticalCount: critCount,
		WarnCount:     warnCount,
		InfoCount:     infoCount,
		BestPractices: csp.BestPractices,
	}

	var buf bytes.Buffer
	if err := reportTmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type reportData struct {
	GeneratedAt   string
	DocumentURL   string
	HeaderName    string
	Header        string
	MetaTag       string
	ReportTo      string
	EvalVerdict   string
	DataVerdict   string
	Lines         []string
	DataURIs      []csp.DataURIRecord
	Nonces        []csp.NonceRecord
	Unresolved    []string
	Directives    []directiveRow
	Violations    []violationRow
	BestPractices []string
	CriticalCount int
	WarnCount     int
	InfoCount     int
	Partial       bool
	Baseline      bool
	EvalUsed      bool
}

type directiveRow struct {
	Name    string
	Sources []sourceRow
	Inline  []string
	Emitted bool
}

type sourceRow struct {
	Token          string
	Explanation    string
	Justifications []string
}

type violationRow struct {
	Severity      string
	SeverityLabel string
	Rule          string
	Directive     string
	Source        string
	Message       string
}

func buildDirectives(p *csp.Policy) []directiveRow {
	rows := make([]directiveRow, 0, len(p.Directives))
	for i := range p.Directives {
		ds := &p.Directives[i]
		row := directiveRow{
			Name:    string(ds.Directive),
			Emitted: ds.Emitted,
			Inline:  p.Justifications(ds.Directive, csp.Inline),
		}
		for _, t := range ds.Sources {
			row.Sources = append(row.Sources, sourceRow{
				Token:          string(t),
				Explanation:    csp.Explain(t),
				Justifications: p.Justifications(ds.Directive, t),
			})
		}
		rows = append(rows, row)
	}
	return rows
}
