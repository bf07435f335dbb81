package rules

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ppiankov/cspwatch/internal/csp"
)

// evalNoUnsafeInline flags every emitted directive that fell back to
// 'unsafe-inline'.
func evalNoUnsafeInline(p *csp.Policy) []failure {
	var out []failure
	for _, ds := range p.Emitted() {
		for _, t := range ds.Sources {
			if t == csp.UnsafeInline {
				out = append(out, failure{
					directive: ds.Directive,
					source:    t,
					message:   fmt.Sprintf("%s allows 'unsafe-inline'", ds.Directive),
				})
			}
		}
	}
	return out
}

// evalNoEval flags dynamic evaluation.
func evalNoEval(p *csp.Policy) []failure {
	if !p.Eval {
		return nil
	}
	return []failure{{
		directive: csp.ScriptSrc,
		message:   "eval() or Function() used; the page needs 'unsafe-eval'",
	}}
}

// evalNoDataURI flags every emitted directive that allows data:.
func evalNoDataURI(p *csp.Policy) []failure {
	var out []failure
	for _, ds := range p.Emitted() {
		for _, t := range ds.Sources {
			if t == csp.DataURI {
				out = append(out, failure{
					directive: ds.Directive,
					source:    t,
					message:   fmt.Sprintf("%s allows data: URIs", ds.Directive),
				})
			}
		}
	}
	return out
}

// evalMaxOrigins checks the number of distinct third-party origins across
// the emitted directives, or within one directive when params name it.
func evalMaxOrigins(p *csp.Policy, params map[string]string) []failure {
	maxStr := params["max"]
	if maxStr == "" {
		return nil
	}
	limit, err := strconv.Atoi(maxStr)
	if err != nil || limit < 0 {
		return nil
	}
	only := csp.Directive(params["directive"])

	seen := make(map[csp.Token]bool)
	for _, ds := range p.Emitted() {
		if only != "" && ds.Directive != only {
			continue
		}
		for _, t := range ds.Sources {
			if t.Kind() == csp.KindOrigin {
				seen[t] = true
			}
		}
	}
	if len(seen) <= limit {
		return nil
	}
	scope := "policy"
	if only != "" {
		scope = string(only)
	}
	return []failure{{
		directive: only,
		message:   fmt.Sprintf("%s allows %d origins > maximum %d", scope, len(seen), limit),
	}}
}

// evalAllowedOrigins flags origins missing from the comma-separated allow
// list. Entries may use a leading wildcard label, e.g. https://*.example.com.
func evalAllowedOrigins(p *csp.Policy, params map[string]string) []failure {
	var allowed []string
	for _, o := range strings.Split(params["origins"], ",") {
		if o = strings.TrimSpace(strings.ToLower(o)); o != "" {
			allowed = append(allowed, strings.TrimSuffix(o, "/"))
		}
	}
	var out []failure
	for _, ds := range p.Emitted() {
		for _, t := range ds.Sources {
			if t.Kind() != csp.KindOrigin || originAllowed(string(t), allowed) {
				continue
			}
			out = append(out, failure{
				directive: ds.Directive,
				source:    t,
				message:   fmt.Sprintf("%s is not in the allowed origins", t),
			})
		}
	}
	return out
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == origin {
			return true
		}
		if !strings.Contains(a, "://*.") {
			continue
		}
		pat, err := url.Parse(strings.Replace(a, "*.", "", 1))
		if err != nil {
			continue
		}
		u, err := url.Parse(origin)
		if err != nil {
			continue
		}
		if u.Scheme == pat.Scheme && u.Port() == pat.Port() &&
			strings.HasSuffix(u.Hostname(), "."+pat.Hostname()) {
			return true
		}
	}
	return false
}

// evalRequireNonce flags script-src and style-src when inline content is
// allowed by hash or 'unsafe-inline' instead of a nonce.
func evalRequireNonce(p *csp.Policy) []failure {
	var out []failure
	for _, d := range []csp.Directive{csp.ScriptSrc, csp.StyleSrc} {
		ds, ok := p.Directive(d)
		if !ok || !ds.Emitted {
			continue
		}
		inline, nonce := false, false
		for _, t := range ds.Sources {
			switch t.Kind() {
			case csp.KindHash, csp.KindUnsafeInline:
				inline = true
			case csp.KindNonce:
				nonce = true
			}
		}
		if inline && !nonce {
			out = append(out, failure{
				directive: d,
				message:   fmt.Sprintf("%s allows inline content without a nonce", d),
			})
		}
	}
	return out
}
