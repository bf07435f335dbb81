// Package rules evaluates a finalized policy against CI rule sets: built-in
// hardening checks plus user rule files.
package rules

import "github.com/ppiankov/cspwatch/internal/csp"

// Severity classifies how urgent a violation is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank with info.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarn:
		return 1
	default:
		return 0
	}
}

// Rule types.
const (
	TypeNoUnsafeInline = "noUnsafeInline"
	TypeNoEval         = "noEval"
	TypeNoDataURI      = "noDataURI"
	TypeMaxOrigins     = "maxOrigins"
	TypeAllowedOrigins = "allowedOrigins"
	TypeRequireNonce   = "requireNonce"
)

// RuleSet is a named group of rules.
type RuleSet struct {
	Name string      `json:"name"`
	Spec RuleSetSpec `json:"spec"`
}

// RuleSetSpec lists the rules of a set.
type RuleSetSpec struct {
	Rules []RuleSpec `json:"rules,omitempty"`
}

// RuleSpec defines a rule the policy is evaluated against.
type RuleSpec struct {
	Name     string            `json:"name"`
	Type     string            `json:"type"` // see the Type constants
	Params   map[string]string `json:"params,omitempty"`
	Severity string            `json:"severity,omitempty"`
}

// Violation is one failed rule.
type Violation struct {
	RuleSet   string        `json:"ruleSet"`
	Rule      string        `json:"rule"`
	Type      string        `json:"type"`
	Severity  Severity      `json:"severity"`
	Directive csp.Directive `json:"directive,omitempty"`
	Source    csp.Token     `json:"source,omitempty"`
	Message   string        `json:"message"`
}

// Builtin is the rule set applied when no rule file disables it.
func Builtin() RuleSet {
	return RuleSet{
		Name: "builtin",
		Spec: RuleSetSpec{Rules: []RuleSpec{
			{Name: "no-eval", Type: TypeNoEval, Severity: string(SeverityCritical)},
			{Name: "no-unsafe-inline", Type: TypeNoUnsafeInline, Severity: string(SeverityWarn)},
			{Name: "no-data-uri", Type: TypeNoDataURI, Severity: string(SeverityInfo)},
		}},
	}
}
