// Package audit runs one policy inference: install the instrumentation,
// scan the document, hold the settle window open for runtime activity, then
// finalize the recommendation.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ppiankov/cspwatch/internal/csp"
	"github.com/ppiankov/cspwatch/internal/dom"
	"github.com/ppiankov/cspwatch/internal/intercept"
	"github.com/ppiankov/cspwatch/internal/scan"
)

// DefaultSettle is how long runtime activity is collected after the scan.
const DefaultSettle = 6 * time.Second

// ErrAlreadyRun is returned by a second Run on the same Auditor.
var ErrAlreadyRun = errors.New("audit already run")

// Phase is the lifecycle state of an Auditor.
type Phase int32

const (
	Initialized Phase = iota
	Scanning
	Settling
	Finalized
)

func (p Phase) String() string {
	switch p {
	case Initialized:
		return "initialized"
	case Scanning:
		return "scanning"
	case Settling:
		return "settling"
	case Finalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Feed produces runtime activity during the settle window. It must return
// once ctx is done.
type Feed func(ctx context.Context, in *intercept.Instrumentation)

// Option configures an Auditor.
type Option func(*Auditor)

// WithSettle sets the settle window. Zero finalizes right after the scan.
func WithSettle(d time.Duration) Option {
	return func(a *Auditor) { a.settle = d }
}

// WithDigester sets the digest provider (sha256 by default). Nil means
// inline bodies fall back to 'unsafe-inline'.
func WithDigester(d csp.Digester) Option {
	return func(a *Auditor) { a.digester = d }
}

// WithTracer enables OpenTelemetry spans for each phase.
func WithTracer(t trace.Tracer) Option {
	return func(a *Auditor) {
		if t != nil {
			a.tracer = t
		}
	}
}

// WithReporting overrides the reporting endpoints.
func WithReporting(r csp.Reporting) Option {
	return func(a *Auditor) { a.reporting = r }
}

// WithReportOnly marks the recommendation for the report-only header.
func WithReportOnly(on bool) Option {
	return func(a *Auditor) { a.reportOnly = on }
}

// WithFeed adds a source of runtime activity.
func WithFeed(f Feed) Option {
	return func(a *Auditor) { a.feeds = append(a.feeds, f) }
}

// WithEvents replays recorded runtime events at the start of the settle
// window. Recorded events are replayed to completion; the window only bounds
// live feeds.
func WithEvents(events []intercept.Event) Option {
	return func(a *Auditor) { a.events = append(a.events, events...) }
}

// Auditor owns the state of one run.
type Auditor struct {
	doc        dom.Document
	state      *csp.State
	instr      *intercept.Instrumentation
	tracer     trace.Tracer
	digester   csp.Digester
	reporting  csp.Reporting
	feeds      []Feed
	events     []intercept.Event
	settle     time.Duration
	reportOnly bool

	phase      atomic.Int32
	ran        atomic.Bool
	mu         sync.Mutex
	scanResult scan.Result
}

// New prepares an audit of doc. The instrumentation is installed here,
// before anything else touches the document.
func New(doc dom.Document, opts ...Option) *Auditor {
	state := csp.NewState(doc.URL())
	sha256, _ := csp.NewDigester("sha256") //nolint:errcheck // sha256 is always supported
	a := &Auditor{
		doc:       doc,
		state:     state,
		instr:     intercept.Install(state),
		tracer:    noop.NewTracerProvider().Tracer("cspwatch"),
		digester:  sha256,
		reporting: csp.DefaultReporting(),
		settle:    DefaultSettle,
	}
	for _, o := range opts {
		o(a)
	}
	if a.settle < 0 {
		a.settle = 0
	}
	return a
}

// Instrumentation exposes the run's wrappers so callers can route their own
// transports, dialers and evaluators through them.
func (a *Auditor) Instrumentation() *intercept.Instrumentation {
	return a.instr
}

// Phase returns the current lifecycle state.
func (a *Auditor) Phase() Phase {
	return Phase(a.phase.Load())
}

// ScanResult returns the static scan summary once scanning has completed.
func (a *Auditor) ScanResult() scan.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanResult
}

// Run performs the audit. Cancelling ctx ends the settle window early; the
// recommendation is still produced from what was collected and marked
// partial. Run may be called once.
func (a *Auditor) Run(ctx context.Context) (*csp.Policy, error) {
	if !a.ran.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}

	docURL := ""
	if u := a.doc.URL(); u != nil {
		docURL = u.String()
	}
	ctx, span := a.tracer.Start(ctx, "audit.Run", trace.WithAttributes(
		attribute.String("csp.document_url", docURL),
		attribute.Int64("csp.settle_ms", a.settle.Milliseconds()),
	))
	defer span.End()

	a.runScan(ctx)
	partial := a.runSettle(ctx)
	p := a.runFinalize(context.WithoutCancel(ctx))
	p.Partial = partial

	span.SetAttributes(
		attribute.Int("csp.directives_emitted", len(p.Emitted())),
		attribute.Bool("csp.baseline", p.Baseline),
		attribute.Bool("csp.partial", partial),
	)
	if partial {
		span.SetStatus(codes.Error, "settle window cancelled")
	}
	slog.Info("audit complete",
		"url", docURL,
		"emitted", len(p.Emitted()),
		"baseline", p.Baseline,
		"eval", p.Eval,
		"partial", partial,
	)
	return p, nil
}

func (a *Auditor) runScan(ctx context.Context) {
	a.phase.Store(int32(Scanning))
	_, span := a.tracer.Start(ctx, "audit.Scan")
	defer span.End()

	res := scan.Scan(a.doc, a.state)
	a.mu.Lock()
	a.scanResult = res
	a.mu.Unlock()

	for _, k := range scan.ResourceKinds {
		if n := res.Counts[k]; n > 0 {
			span.SetAttributes(attribute.Int("csp.resources."+k.String(), n))
		}
	}
	span.SetAttributes(attribute.Int("csp.dropped", res.Dropped))
}

// runSettle holds the window open while the feeds run. It reports whether
// the window was cut short by cancellation.
func (a *Auditor) runSettle(ctx context.Context) bool {
	a.phase.Store(int32(Settling))
	ctx, span := a.tracer.Start(ctx, "audit.Settle")
	defer span.End()

	partial := false
	if len(a.events) > 0 {
		n := intercept.Replay(ctx, a.instr, a.events)
		if n < len(a.events) && ctx.Err() != nil {
			partial = true
			slog.Warn("replay cancelled, finalizing with partial data", "replayed", n, "total", len(a.events))
		}
	}

	feedCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, f := range a.feeds {
		wg.Add(1)
		go func(f Feed) {
			defer wg.Done()
			f(feedCtx, a.instr)
		}(f)
	}

	timer := time.NewTimer(a.settle)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		partial = true
		slog.Warn("settle window cancelled, finalizing with partial data", "err", ctx.Err())
	}
	stop()
	wg.Wait()

	st := a.instr.Stats()
	span.SetAttributes(
		attribute.Int64("csp.requests", st.Requests),
		attribute.Int64("csp.sockets", st.Sockets),
		attribute.Int64("csp.evals", st.Evals),
	)
	return partial
}

func (a *Auditor) runFinalize(ctx context.Context) *csp.Policy {
	ctx, span := a.tracer.Start(ctx, "audit.Finalize")
	defer span.End()

	p := csp.Finalize(ctx, a.state, a.digester)
	p.Reporting = a.reporting
	p.ReportOnly = a.reportOnly
	a.phase.Store(int32(Finalized))
	return p
}
