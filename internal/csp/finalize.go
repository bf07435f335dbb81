package csp

import (
	"context"
	"log/slog"
	"time"
)

// Justifications recorded by the finalizer.
const (
	ReasonInlineScript = "inline script (hash shown)"
	ReasonInlineStyle  = "inline style (hash shown)"
	ReasonScriptNonce  = "script with nonce"
	ReasonStyleNonce   = "style with nonce"
)

// Finalize converts the collected inline content into hash or nonce sources,
// then applies the emission filter and returns the recommendation.
//
// A nil Digester means no digest capability: every inline body of a kind
// without a nonce falls back to 'unsafe-inline'. A digest failure on a single
// body falls back for that body only.
func Finalize(ctx context.Context, s *State, d Digester) *Policy {
	collected := s.Snapshot()

	var scripts, styles []InlineResource
	for i := range collected.Inline {
		switch collected.Inline[i].Kind {
		case InlineScript:
			scripts = append(scripts, collected.Inline[i])
		case InlineStyle:
			styles = append(styles, collected.Inline[i])
		}
	}
	finalizeInline(ctx, s, d, ScriptSrc, ReasonInlineScript, InlineScript, scripts)
	finalizeInline(ctx, s, d, StyleSrc, ReasonInlineStyle, InlineStyle, styles)

	for _, v := range distinctNonces(collected.Nonces) {
		tok := NonceToken(v)
		s.Record(ScriptSrc, tok, ReasonScriptNonce)
		s.Record(StyleSrc, tok, ReasonStyleNonce)
	}

	final := s.Snapshot()
	p := &Policy{
		GeneratedAt: time.Now().UTC(),
		Directives:  final.Directives,
		Nonces:      final.Nonces,
		DataURIs:    final.DataURIs,
		Unresolved:  final.Unresolved,
		Eval:        final.Eval,
		Reporting:   DefaultReporting(),
	}
	if doc := s.DocumentURL(); doc != nil {
		p.DocumentURL = doc.String()
	}
	applyEmission(p)
	return p
}

func finalizeInline(ctx context.Context, s *State, d Digester, dir Directive, reason string, kind InlineKind, res []InlineResource) {
	if len(res) == 0 {
		return
	}
	if s.HasNonce(kind) {
		slog.Debug("nonce present, skipping inline hashes", "kind", kind, "count", len(res))
		return
	}
	if d == nil {
		for range res {
			s.Record(dir, UnsafeInline, reason)
		}
		return
	}

	// Bodies are hashed untrimmed; browsers match the exact element text.
	hashes := make(map[string]Token, len(res))
	for i := range res {
		tok, ok := hashes[res[i].Content]
		if !ok {
			h, err := HashSource(ctx, d, res[i].Content)
			if err != nil {
				slog.Warn("inline digest failed, falling back to unsafe-inline", "kind", kind, "err", err)
				h = UnsafeInline
			}
			tok = h
			hashes[res[i].Content] = tok
		}
		s.Record(dir, tok, reason)
	}
}

// distinctNonces returns nonce values in first-seen order, script and style
// together.
func distinctNonces(records []NonceRecord) []string {
	seen := make(map[string]bool, len(records))
	var out []string
	for i := range records {
		v := records[i].Value
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// applyEmission keeps directives that diverged from their baseline. When
// nothing diverged the whole baseline is kept as the conservative policy.
func applyEmission(p *Policy) {
	diverged := false
	for i := range p.Directives {
		ds := &p.Directives[i]
		ds.Emitted = len(ds.Sources) > 1 || (len(ds.Sources) == 1 && ds.Sources[0] != ds.Directive.Baseline())
		if ds.Emitted {
			diverged = true
		}
	}
	if diverged {
		return
	}
	p.Baseline = true
	for i := range p.Directives {
		p.Directives[i].Emitted = true
	}
}
