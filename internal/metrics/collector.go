// Package metrics provides Prometheus instrumentation for cspwatch.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ppiankov/cspwatch/internal/csp"
	"github.com/ppiankov/cspwatch/internal/intercept"
	"github.com/ppiankov/cspwatch/internal/rules"
)

// Collector translates finished audits into Prometheus values. Gauges describe
// the last audit; counters accumulate across audits.
type Collector struct {
	auditsTotal      *prometheus.CounterVec
	auditDuration    prometheus.Histogram
	directiveSources *prometheus.GaugeVec
	violations       *prometheus.GaugeVec
	evalUsed         prometheus.Gauge
	dataURIs         prometheus.Gauge
	unresolved       prometheus.Gauge
	interceptEvents  *prometheus.CounterVec
	mu               sync.Mutex
}

// NewCollector creates and registers metrics on the given registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		auditsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cspwatch",
			Name:      "audits_total",
			Help:      "Number of completed audits by outcome (complete, partial).",
		}, []string{"outcome"}),

		auditDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cspwatch",
			Name:      "audit_duration_seconds",
			Help:      "Wall time of an audit including the settle window.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		directiveSources: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cspwatch",
			Name:      "directive_sources",
			Help:      "Number of sources per directive in the last audit.",
		}, []string{"directive", "emitted"}),

		violations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cspwatch",
			Name:      "violations",
			Help:      "Rule violations in the last audit by severity.",
		}, []string{"severity"}),

		evalUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cspwatch",
			Name:      "eval_used",
			Help:      "Whether the last audited page used eval() or Function() (1=yes).",
		}),

		dataURIs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cspwatch",
			Name:      "data_uris",
			Help:      "Number of data: dependencies in the last audit.",
		}),

		unresolved: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cspwatch",
			Name:      "unresolved_urls",
			Help:      "Number of URLs dropped because their origin could not be resolved.",
		}),

		interceptEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cspwatch",
			Name:      "intercepted_events_total",
			Help:      "Runtime events observed by the instrumentation, by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(c.auditsTotal)
	reg.MustRegister(c.auditDuration)
	reg.MustRegister(c.directiveSources)
	reg.MustRegister(c.violations)
	reg.MustRegister(c.evalUsed)
	reg.MustRegister(c.dataURIs)
	reg.MustRegister(c.unresolved)
	reg.MustRegister(c.interceptEvents)

	return c
}

// Observe records one finished audit.
func (c *Collector) Observe(p *csp.Policy, violations []rules.Violation, st intercept.Stats, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	outcome := "complete"
	if p.Partial {
		outcome = "partial"
	}
	c.auditsTotal.With(prometheus.Labels{"outcome": outcome}).Inc()
	c.auditDuration.Observe(duration.Seconds())

	c.directiveSources.Reset()
	for i := range p.Directives {
		ds := &p.Directives[i]
		c.directiveSources.With(prometheus.Labels{
			"directive": string(ds.Directive),
			"emitted":   strconv.FormatBool(ds.Emitted),
		}).Set(float64(len(ds.Sources)))
	}

	counts := map[rules.Severity]int{
		rules.SeverityInfo:     0,
		rules.SeverityWarn:     0,
		rules.SeverityCritical: 0,
	}
	for i := range violations {
		counts[violations[i].Severity]++
	}
	for sev, n := range counts {
		c.violations.With(prometheus.Labels{"severity": string(sev)}).Set(float64(n))
	}

	if p.Eval {
		c.evalUsed.Set(1)
	} else {
		c.evalUsed.Set(0)
	}
	c.dataURIs.Set(float64(len(p.DataURIs)))
	c.unresolved.Set(float64(len(p.Unresolved)))

	c.interceptEvents.With(prometheus.Labels{"kind": "request"}).Add(float64(st.Requests))
	c.interceptEvents.With(prometheus.Labels{"kind": "socket"}).Add(float64(st.Sockets))
	c.interceptEvents.With(prometheus.Labels{"kind": "eval"}).Add(float64(st.Evals))
	c.interceptEvents.With(prometheus.Labels{"kind": "dropped"}).Add(float64(st.Dropped))
}
