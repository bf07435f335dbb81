package rules

import (
	"github.com/ppiankov/cspwatch/internal/csp"
)

// Engine evaluates rule sets against a policy.
type Engine struct {
	sets []RuleSet
}

// NewEngine creates an engine with the given rule sets.
func NewEngine(sets ...RuleSet) *Engine {
	return &Engine{sets: sets}
}

// Evaluate runs every rule against the emitted directives of p.
func (e *Engine) Evaluate(p *csp.Policy) []Violation {
	var out []Violation
	for i := range e.sets {
		rs := &e.sets[i]
		for j := range rs.Spec.Rules {
			r := &rs.Spec.Rules[j]
			sev := SeverityWarn
			if r.Severity != "" {
				sev = Severity(r.Severity)
			}
			for _, f := range evaluateRule(r, p) {
				out = append(out, Violation{
					RuleSet:   rs.Name,
					Rule:      r.Name,
					Type:      r.Type,
					Severity:  sev,
					Directive: f.directive,
					Source:    f.source,
					Message:   f.message,
				})
			}
		}
	}
	return out
}

// Worst returns the highest severity among violations, or "" when there
// are none.
func Worst(violations []Violation) Severity {
	var worst Severity
	for i := range violations {
		if worst == "" || violations[i].Severity.Rank() > worst.Rank() {
			worst = violations[i].Severity
		}
	}
	return worst
}

type failure struct {
	directive csp.Directive
	source    csp.Token
	message   string
}

func evaluateRule(r *RuleSpec, p *csp.Policy) []failure {
	switch r.Type {
	case TypeNoUnsafeInline:
		return evalNoUnsafeInline(p)
	case TypeNoEval:
		return evalNoEval(p)
	case TypeNoDataURI:
		return evalNoDataURI(p)
	case TypeMaxOrigins:
		return evalMaxOrigins(p, r.Params)
	case TypeAllowedOrigins:
		return evalAllowedOrigins(p, r.Params)
	case TypeRequireNonce:
		return evalRequireNonce(p)
	default:
		return nil
	}
}
