package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ppiankov/cspwatch/internal/csp"
	"github.com/ppiankov/cspwatch/internal/intercept"
	"github.com/ppiankov/cspwatch/internal/rules"
)

func testPolicy() *csp.Policy {
	return &csp.Policy{
		Directives: []csp.DirectiveState{
			{Directive: csp.DefaultSrc, Sources: []csp.Token{csp.Self}},
			{Directive: csp.ScriptSrc, Sources: []csp.Token{csp.Self, "https://cdn.example.net"}, Emitted: true},
			{Directive: csp.ImgSrc, Sources: []csp.Token{csp.Self, csp.DataURI}, Emitted: true},
		},
		DataURIs:   []csp.DataURIRecord{{Kind: csp.DataImage}},
		Unresolved: []string{"http://[::1"},
		Eval:       true,
	}
}

func TestObserve_EmptyPolicy(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.Observe(&csp.Policy{}, nil, intercept.Stats{}, 500*time.Millisecond)

	if got := testutil.ToFloat64(c.auditsTotal.With(prometheus.Labels{"outcome": "complete"})); got != 1 {
		t.Errorf("audits_total{complete} = %v, want 1", got)
	}
	for _, sev := range []string{"info", "warn", "critical"} {
		if got := testutil.ToFloat64(c.violations.With(prometheus.Labels{"severity": sev})); got != 0 {
			t.Errorf("violations{%s} = %v, want 0", sev, got)
		}
	}
	if got := testutil.ToFloat64(c.evalUsed); got != 0 {
		t.Errorf("eval_used = %v, want 0", got)
	}
	if got := testutil.CollectAndCount(c.auditDuration); got != 1 {
		t.Errorf("audit_duration_seconds series = %d, want 1", got)
	}
}

func TestObserve_Policy(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	violations := []rules.Violation{
		{Severity: rules.SeverityCritical},
		{Severity: rules.SeverityInfo},
		{Severity: rules.SeverityInfo},
	}
	st := intercept.Stats{Requests: 3, Sockets: 1, Evals: 2, Dropped: 1}
	c.Observe(testPolicy(), violations, st, 6*time.Second)

	if got := testutil.ToFloat64(c.directiveSources.With(prometheus.Labels{"directive": "script-src", "emitted": "true"})); got != 2 {
		t.Errorf("directive_sources{script-src} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.directiveSources.With(prometheus.Labels{"directive": "default-src", "emitted": "false"})); got != 1 {
		t.Errorf("directive_sources{default-src} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.violations.With(prometheus.Labels{"severity": "critical"})); got != 1 {
		t.Errorf("violations{critical} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.violations.With(prometheus.Labels{"severity": "info"})); got != 2 {
		t.Errorf("violations{info} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.evalUsed); got != 1 {
		t.Errorf("eval_used = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.dataURIs); got != 1 {
		t.Errorf("data_uris = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.unresolved); got != 1 {
		t.Errorf("unresolved_urls = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.interceptEvents.With(prometheus.Labels{"kind": "request"})); got != 3 {
		t.Errorf("intercepted_events_total{request} = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.interceptEvents.With(prometheus.Labels{"kind": "eval"})); got != 2 {
		t.Errorf("intercepted_events_total{eval} = %v, want 2", got)
	}
}

func TestObserve_CountersAccumulate(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	st := intercept.Stats{Requests: 2}
	c.Observe(testPolicy(), nil, st, time.Second)
	partial := testPolicy()
	partial.Partial = true
	c.Observe(partial, nil, st, time.Second)

	if got := testutil.ToFloat64(c.auditsTotal.With(prometheus.Labels{"outcome": "complete"})); got != 1 {
		t.Errorf("audits_total{complete} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.auditsTotal.With(prometheus.Labels{"outcome": "partial"})); got != 1 {
		t.Errorf("audits_total{partial} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.interceptEvents.With(prometheus.Labels{"kind": "request"})); got != 4 {
		t.Errorf("intercepted_events_total{request} = %v, want 4", got)
	}
}

func TestObserve_ResetsDirectives(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.Observe(testPolicy(), nil, intercept.Stats{}, time.Second)
	c.Observe(&csp.Policy{Directives: []csp.DirectiveState{
		{Directive: csp.DefaultSrc, Sources: []csp.Token{csp.Self}, Emitted: true},
	}}, nil, intercept.Stats{}, time.Second)

	if got := testutil.CollectAndCount(c.directiveSources); got != 1 {
		t.Errorf("directive_sources series = %d, want 1 after reset", got)
	}
}

func TestRegistryExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.Observe(testPolicy(), nil, intercept.Stats{}, time.Second)

	expected := `
# HELP cspwatch_eval_used Whether the last audited page used eval() or Function() (1=yes).
# TYPE cspwatch_eval_used gauge
cspwatch_eval_used 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "cspwatch_eval_used"); err != nil {
		t.Errorf("unexpected exposition: %v", err)
	}
}
