// Package intercept instruments the runtime call sites that can load
// resources after the static scan: outgoing requests, socket construction
// and dynamic code evaluation. Every wrapper records into the run's policy
// state and then forwards to the original unconditionally.
package intercept

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/ppiankov/cspwatch/internal/csp"
)

// Request APIs reported by ObserveRequest. They share one justification
// label; the API is kept for logs and activity replay.
const (
	APIXHR   = "xhr"
	APIFetch = "fetch"
	APIHTTP  = "http"
)

// Instrumentation is the set of wrappers bound to one audit run.
type Instrumentation struct {
	state    *csp.State
	requests atomic.Int64
	sockets  atomic.Int64
	evals    atomic.Int64
	dropped  atomic.Int64
}

// Stats counts the calls observed so far.
type Stats struct {
	Requests int64 `json:"requests"`
	Sockets  int64 `json:"sockets"`
	Evals    int64 `json:"evals"`
	Dropped  int64 `json:"dropped"`
}

// Install binds the instrumentation to s. It must happen before the static
// scan so that calls fired while the document loads are not missed.
func Install(s *csp.State) *Instrumentation {
	return &Instrumentation{state: s}
}

// Stats returns the observation counters.
func (in *Instrumentation) Stats() Stats {
	return Stats{
		Requests: in.requests.Load(),
		Sockets:  in.sockets.Load(),
		Evals:    in.evals.Load(),
		Dropped:  in.dropped.Load(),
	}
}

// ObserveRequest records the origin of an outgoing request in connect-src.
func (in *Instrumentation) ObserveRequest(api, raw string) {
	in.requests.Add(1)
	tok, ok := csp.ResolveOrigin(raw, in.state.DocumentURL())
	if !ok {
		in.drop(api, raw)
		return
	}
	in.state.Record(csp.ConnectSrc, tok, "request to: "+raw)
}

// ObserveSocket records the socket-scheme origin of a socket connection in
// connect-src.
func (in *Instrumentation) ObserveSocket(raw string) {
	in.sockets.Add(1)
	tok, ok := csp.ResolveOrigin(raw, in.state.DocumentURL())
	if !ok {
		in.drop("websocket", raw)
		return
	}
	in.state.Record(csp.ConnectSrc, csp.SocketOrigin(tok), "socket to: "+raw)
}

// ObserveEval sets the eval flag.
func (in *Instrumentation) ObserveEval() {
	in.evals.Add(1)
	in.state.MarkEval()
}

func (in *Instrumentation) drop(api, raw string) {
	in.dropped.Add(1)
	in.state.AddUnresolved(raw)
	slog.Debug("dropping unresolvable runtime url", "api", api, "url", raw)
}

// Transport wraps base so that every round trip is recorded before it is
// forwarded. A nil base means http.DefaultTransport.
func (in *Instrumentation) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &observedTransport{in: in, base: base}
}

type observedTransport struct {
	in   *Instrumentation
	base http.RoundTripper
}

func (t *observedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.in.ObserveRequest(apiFromContext(req.Context()), req.URL.String())
	return t.base.RoundTrip(req)
}

type apiKey struct{}

// WithAPI tags a request context with the API that issued it.
func WithAPI(ctx context.Context, api string) context.Context {
	return context.WithValue(ctx, apiKey{}, api)
}

func apiFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(apiKey{}).(string); ok && v != "" {
		return v
	}
	return APIHTTP
}

// Dialer is the socket construction call site. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

var _ Dialer = (*websocket.Dialer)(nil)

// SocketDialer wraps base so that every dial is recorded before it is
// forwarded. A nil base means websocket.DefaultDialer.
func (in *Instrumentation) SocketDialer(base Dialer) Dialer {
	if base == nil {
		base = websocket.DefaultDialer
	}
	return &observedDialer{in: in, base: base}
}

type observedDialer struct {
	in   *Instrumentation
	base Dialer
}

func (d *observedDialer) DialContext(ctx context.Context, urlStr string, h http.Header) (*websocket.Conn, *http.Response, error) {
	d.in.ObserveSocket(urlStr)
	return d.base.DialContext(ctx, urlStr, h)
}

// Evaluator is the dynamic evaluation call site.
type Evaluator interface {
	Eval(ctx context.Context, code string) (any, error)
	NewFunction(ctx context.Context, params []string, body string) (any, error)
}

// Evaluator wraps base so that both entry points set the eval flag before
// delegating.
func (in *Instrumentation) Evaluator(base Evaluator) Evaluator {
	if base == nil {
		base = NopEvaluator{}
	}
	return &observedEvaluator{in: in, base: base}
}

type observedEvaluator struct {
	in   *Instrumentation
	base Evaluator
}

func (e *observedEvaluator) Eval(ctx context.Context, code string) (any, error) {
	e.in.ObserveEval()
	return e.base.Eval(ctx, code)
}

func (e *observedEvaluator) NewFunction(ctx context.Context, params []string, body string) (any, error) {
	e.in.ObserveEval()
	return e.base.NewFunction(ctx, params, body)
}

// NopEvaluator evaluates nothing. Replayed activity is routed through it.
type NopEvaluator struct{}

func (NopEvaluator) Eval(context.Context, string) (any, error) { return nil, nil }

func (NopEvaluator) NewFunction(context.Context, []string, string) (any, error) { return nil, nil }
