// Package monitor provides TUI rendering and exit-code logic for cspwatch.
package monitor

import (
	"github.com/ppiankov/cspwatch/internal/csp"
	"github.com/ppiankov/cspwatch/internal/rules"
)

// ExitCode returns a process exit code based on the worst violation.
//
//	0 = no problems
//	1 = warnings exist
//	2 = critical problems
//	3 = incomplete audit (settle window cancelled)
func ExitCode(p *csp.Policy, violations []rules.Violation) int {
	if p == nil || p.Partial {
		return 3
	}
	code := 0
	for i := range violations {
		switch violations[i].Severity {
		case rules.SeverityCritical:
			code = 2
		case rules.SeverityWarn:
			if code < 1 {
				code = 1
			}
		}
	}
	return code
}
