// Package runner wires one end-to-end audit: load the document, parse it,
// run the auditor with any recorded activity, evaluate rules and record
// metrics. The CLI commands and the serve handlers share it.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ppiankov/cspwatch/internal/audit"
	"github.com/ppiankov/cspwatch/internal/config"
	"github.com/ppiankov/cspwatch/internal/csp"
	"github.com/ppiankov/cspwatch/internal/dom"
	"github.com/ppiankov/cspwatch/internal/fetch"
	"github.com/ppiankov/cspwatch/internal/intercept"
	"github.com/ppiankov/cspwatch/internal/metrics"
	"github.com/ppiankov/cspwatch/internal/monitor"
	"github.com/ppiankov/cspwatch/internal/rules"
	"github.com/ppiankov/cspwatch/internal/scan"
)

// ErrEmptyTarget is returned when no URL or file was given.
var ErrEmptyTarget = errors.New("target URL or file is required")

// Request describes one audit.
type Request struct {
	Target string
	// BaseURL is the URL a local file is treated as having been served from.
	BaseURL string
	// Events are replayed through the instrumentation during the settle window.
	Events []intercept.Event
}

// Result is the outcome of one audit.
type Result struct {
	Policy     *csp.Policy
	Violations []rules.Violation
	Scan       scan.Result
	Stats      intercept.Stats
	Duration   time.Duration
	ExitCode   int
}

// Option configures a Runner.
type Option func(*Runner)

// WithTracer enables spans for each audit.
func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithCollector records every audit in the Prometheus collector.
func WithCollector(c *metrics.Collector) Option {
	return func(r *Runner) { r.collector = c }
}

// WithRuleSets replaces the rule sets evaluated after each audit. The
// built-in set is used by default.
func WithRuleSets(sets ...rules.RuleSet) Option {
	return func(r *Runner) { r.engine = rules.NewEngine(sets...) }
}

// WithLoader overrides the document loader.
func WithLoader(l *fetch.Loader) Option {
	return func(r *Runner) { r.loader = l }
}

// Runner runs audits with a fixed configuration.
type Runner struct {
	cfg       *config.Config
	digester  csp.Digester
	loader    *fetch.Loader
	engine    *rules.Engine
	collector *metrics.Collector
	tracer    trace.Tracer
}

// New builds a Runner from cfg.
func New(cfg *config.Config, opts ...Option) (*Runner, error) {
	d, err := csp.NewDigester(cfg.HashAlgorithm)
	if err != nil {
		return nil, err
	}
	r := &Runner{
		cfg:      cfg,
		digester: d,
		engine:   rules.NewEngine(rules.Builtin()),
		tracer:   noop.NewTracerProvider().Tracer("cspwatch"),
	}
	for _, o := range opts {
		o(r)
	}
	if r.loader == nil {
		r.loader, err = fetch.New(fetch.Options{
			Timeout:      cfg.FetchTimeout,
			UserAgent:    cfg.UserAgent,
			MaxBodyBytes: cfg.MaxBodyBytes,
			Socks5:       cfg.Socks5,
		})
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Run loads and audits req.Target. Cancelling ctx during the settle window
// still yields a (partial) result; cancelling it during the load does not.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Target == "" {
		return nil, ErrEmptyTarget
	}
	start := time.Now()

	doc, err := r.load(ctx, req)
	if err != nil {
		return nil, err
	}
	parsed, err := dom.Parse(bytes.NewReader(doc.Body), doc.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", doc.URL, err)
	}

	opts := []audit.Option{
		audit.WithSettle(r.cfg.Settle),
		audit.WithDigester(r.digester),
		audit.WithTracer(r.tracer),
		audit.WithReporting(r.cfg.Reporting),
		audit.WithReportOnly(r.cfg.ReportOnly),
	}
	if len(req.Events) > 0 {
		opts = append(opts, audit.WithEvents(req.Events))
	}
	a := audit.New(parsed, opts...)
	p, err := a.Run(ctx)
	if err != nil {
		return nil, err
	}

	violations := r.engine.Evaluate(p)
	res := &Result{
		Policy:     p,
		Violations: violations,
		Scan:       a.ScanResult(),
		Stats:      a.Instrumentation().Stats(),
		Duration:   time.Since(start),
		ExitCode:   monitor.ExitCode(p, violations),
	}
	if r.collector != nil {
		r.collector.Observe(p, violations, res.Stats, res.Duration)
	}
	slog.Debug("audit evaluated",
		"url", p.DocumentURL,
		"violations", len(violations),
		"exitCode", res.ExitCode,
		"duration", res.Duration.Round(time.Millisecond),
	)
	return res, nil
}

func (r *Runner) load(ctx context.Context, req Request) (*fetch.Document, error) {
	var (
		doc *fetch.Document
		err error
	)
	switch {
	case fetch.IsRemote(req.Target):
		doc, err = r.loader.Fetch(ctx, req.Target)
	case req.BaseURL != "":
		doc, err = r.loader.ReadFileAt(req.Target, req.BaseURL)
	default:
		doc, err = r.loader.ReadFile(req.Target)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", req.Target, err)
	}
	slog.Debug("document loaded", "url", doc.URL, "bytes", len(doc.Body), "retries", doc.RetryCount)
	return doc, nil
}
