package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/ppiankov/cspwatch/internal/csp"
	"github.com/ppiankov/cspwatch/internal/rules"
)

// WriteText renders the human-readable audit report: the policy one
// directive per line, the per-source explanations, the eval and data:
// verdicts and the hardening checklist.
func WriteText(w io.Writer, p *csp.Policy, violations []rules.Violation) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Recommended %s for %s\n\n", p.HeaderName(), p.DocumentURL)
	for _, line := range p.Lines() {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if p.Partial {
		b.WriteString("\nWARNING: settle window was cancelled; the policy may be missing runtime sources.\n")
	}
	if p.Baseline {
		b.WriteString("\nNo resources diverged from the baseline; the full baseline policy is shown.\n")
	}

	b.WriteString("\nExplanations:\n")
	for _, ds := range p.Emitted() {
		fmt.Fprintf(&b, "\n%s\n", ds.Directive)
		for _, t := range ds.Sources {
			fmt.Fprintf(&b, "  %s\n", t)
			if ex := csp.Explain(t); ex != "" {
				fmt.Fprintf(&b, "    %s\n", ex)
			}
			for _, j := range p.Justifications(ds.Directive, t) {
				fmt.Fprintf(&b, "    - %s\n", oneLine(j))
			}
		}
		if inline := p.Justifications(ds.Directive, csp.Inline); len(inline) > 0 {
			b.WriteString("  inline elements\n")
			for _, j := range inline {
				fmt.Fprintf(&b, "    - %s\n", oneLine(j))
			}
		}
	}

	fmt.Fprintf(&b, "\nEval: %s\n", csp.EvalVerdict(p.Eval))
	fmt.Fprintf(&b, "Data URIs: %s\n", csp.DataURIVerdict(p.DataURIs))
	for _, d := range p.DataURIs {
		fmt.Fprintf(&b, "  - [%s] %s\n", d.Kind, oneLine(d.Context))
	}

	if len(p.Nonces) > 0 {
		b.WriteString("\nNonces:\n")
		for _, n := range p.Nonces {
			fmt.Fprintf(&b, "  - %s nonce %q: %s\n", n.Kind, n.Value, oneLine(n.Snapshot))
		}
	}

	if len(p.Unresolved) > 0 {
		b.WriteString("\nUnresolved URLs (ignored):\n")
		for _, u := range p.Unresolved {
			fmt.Fprintf(&b, "  - %s\n", u)
		}
	}

	if len(violations) > 0 {
		b.WriteString("\nViolations:\n")
		for i := range violations {
			v := &violations[i]
			fmt.Fprintf(&b, "  [%s] %s: %s\n", strings.ToUpper(string(v.Severity)), v.Rule, v.Message)
		}
	}

	b.WriteString("\nBest practices:\n")
	for _, bp := range csp.BestPractices {
		fmt.Fprintf(&b, "  - %s\n", bp)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
