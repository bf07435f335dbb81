package monitor

import (
	"encoding/json"
	"io"

	"github.com/ppiankov/cspwatch/internal/csp"
	"github.com/ppiankov/cspwatch/internal/rules"
)

// AuditOutput is the JSON envelope for `cspwatch audit -o json` and
// `cspwatch check -o json`. It wraps the policy with the rendered header,
// rule violations and exit-code metadata without polluting csp.Policy,
// which the serve-mode /api/v1/audit endpoint returns as is.
type AuditOutput struct {
	Policy     *csp.Policy       `json:"policy"`
	HeaderName string            `json:"headerName"`
	Header     string            `json:"header"`
	Violations []rules.Violation `json:"violations"`
	ExitCode   int               `json:"exitCode"`
}

// NewAuditOutput builds the envelope.
func NewAuditOutput(p *csp.Policy, violations []rules.Violation, exitCode int) AuditOutput {
	if violations == nil {
		violations = []rules.Violation{}
	}
	return AuditOutput{
		Policy:     p,
		HeaderName: p.HeaderName(),
		Header:     p.Header(),
		Violations: violations,
		ExitCode:   exitCode,
	}
}

// WriteJSON serializes an AuditOutput envelope to w.
func WriteJSON(w io.Writer, p *csp.Policy, violations []rules.Violation, exitCode int) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(NewAuditOutput(p, violations, exitCode))
}
