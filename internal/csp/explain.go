package csp

// Explain returns the general explanation for a token kind, or "" when the
// token is justified only by the elements and calls recorded against it.
func Explain(t Token) string {
	switch t.Kind() {
	case KindSelf:
		return "'self' is required for resources loaded from the same origin."
	case KindNone:
		return "'none' blocks this resource type unless specifically needed."
	case KindUnsafeInline:
		return "'unsafe-inline' is present, consider replacing it with hashes or nonces."
	case KindHash:
		return string(t) + " is required for an inline resource (script/style) detected on this page."
	case KindNonce:
		return string(t) + " is required for an inline resource using this nonce."
	case KindDataURI:
		return "data: is required for resources (e.g. images, styles, fonts) using data URIs."
	default:
		return ""
	}
}

// EvalVerdict summarizes the eval flag.
func EvalVerdict(used bool) string {
	if used {
		return `eval() or Function() detected. Avoid it, or add 'unsafe-eval' to script-src at your own risk (not recommended).`
	}
	return "No eval() or Function() usage detected."
}

// DataURIVerdict summarizes data: usage.
func DataURIVerdict(records []DataURIRecord) string {
	if len(records) == 0 {
		return `No data URIs detected. Safe to remove "data:" from the policy.`
	}
	return "Data URI usage detected; data: must stay in the directives listed below."
}

// BestPractices is the hardening checklist shown with every report.
var BestPractices = []string{
	"Use object-src 'none' unless you absolutely need to embed objects.",
	"Use frame-ancestors to limit which sites can embed yours.",
	"Use base-uri 'self' to prevent <base> tag attacks.",
	"Use form-action 'self' to restrict where forms can post.",
	"Use report-uri or report-to to monitor violations.",
	"Prefer hashes or nonces over 'unsafe-inline'.",
	"Remove data: from directives unless explicitly needed.",
	"Minimize allowed domains for each directive.",
	"Re-run CSP audits after code or dependency changes.",
}
