package intercept

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/ppiankov/cspwatch/internal/csp"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func newInstrumentation(t *testing.T) (*Instrumentation, *csp.State) {
	t.Helper()
	u, err := url.Parse("https://example.com/app")
	if err != nil {
		t.Fatal(err)
	}
	s := csp.NewState(u)
	return Install(s), s
}

func TestTransportRecordsAndForwards(t *testing.T) {
	in, s := newInstrumentation(t)
	called := 0
	base := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		called++
		return &http.Response{StatusCode: http.StatusTeapot, Body: http.NoBody, Request: r}, nil
	})
	rt := in.Transport(base)

	req, _ := http.NewRequest(http.MethodGet, "https://api.example.net/v1/items?q=1", http.NoBody)
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusTeapot || called != 1 {
		t.Errorf("expected forwarded response, got %d (called %d)", resp.StatusCode, called)
	}

	want := []csp.Token{csp.Self, "https://api.example.net"}
	if diff := cmp.Diff(want, s.Tokens(csp.ConnectSrc)); diff != "" {
		t.Errorf("connect-src mismatch (-want +got):\n%s", diff)
	}
	got := s.Justifications(csp.ConnectSrc, "https://api.example.net")
	if len(got) != 1 || got[0] != "request to: https://api.example.net/v1/items?q=1" {
		t.Errorf("unexpected justification %v", got)
	}
}

func TestTransportForwardsErrors(t *testing.T) {
	in, s := newInstrumentation(t)
	boom := errors.New("boom")
	rt := in.Transport(roundTripFunc(func(*http.Request) (*http.Response, error) { return nil, boom }))

	req, _ := http.NewRequest(http.MethodPost, "/same-origin", http.NoBody)
	if _, err := rt.RoundTrip(req); !errors.Is(err, boom) {
		t.Errorf("expected base error, got %v", err)
	}
	if got := s.Justifications(csp.ConnectSrc, csp.Self); len(got) != 1 {
		t.Errorf("expected request recorded even on failure, got %v", got)
	}
}

func TestObserveRequestUnresolvable(t *testing.T) {
	in, s := newInstrumentation(t)
	in.ObserveRequest(APIXHR, "http://[::1")
	if got := s.Tokens(csp.ConnectSrc); len(got) != 1 {
		t.Errorf("expected no new token, got %v", got)
	}
	if st := in.Stats(); st.Dropped != 1 || st.Requests != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
}

type stubDialer struct {
	dialed []string
}

func (d *stubDialer) DialContext(_ context.Context, u string, _ http.Header) (*websocket.Conn, *http.Response, error) {
	d.dialed = append(d.dialed, u)
	return nil, nil, websocket.ErrBadHandshake
}

func TestSocketDialerRewritesScheme(t *testing.T) {
	in, s := newInstrumentation(t)
	base := &stubDialer{}
	d := in.SocketDialer(base)

	if _, _, err := d.DialContext(context.Background(), "wss://stream.example.net/feed", nil); !errors.Is(err, websocket.ErrBadHandshake) {
		t.Errorf("expected forwarded error, got %v", err)
	}
	in.ObserveSocket("https://push.example.net/socket")

	want := []csp.Token{csp.Self, "wss://stream.example.net", "wss://push.example.net"}
	if diff := cmp.Diff(want, s.Tokens(csp.ConnectSrc)); diff != "" {
		t.Errorf("connect-src mismatch (-want +got):\n%s", diff)
	}
	if len(base.dialed) != 1 {
		t.Errorf("expected one forwarded dial, got %v", base.dialed)
	}
	got := s.Justifications(csp.ConnectSrc, "wss://stream.example.net")
	if len(got) != 1 || got[0] != "socket to: wss://stream.example.net/feed" {
		t.Errorf("unexpected justification %v", got)
	}
}

func TestSocketDialerRealConnection(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		c.WriteMessage(websocket.TextMessage, msg) //nolint:errcheck // test echo
	}))
	defer srv.Close()

	in, s := newInstrumentation(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := in.SocketDialer(nil).DialContext(context.Background(), wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Errorf("expected 101, got %d", resp.StatusCode)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatal(err)
	}
	if _, msg, err := conn.ReadMessage(); err != nil || string(msg) != "ping" {
		t.Errorf("expected echo, got %q %v", msg, err)
	}

	tok := csp.Token(strings.TrimSuffix(wsURL, "/"))
	if got := s.Justifications(csp.ConnectSrc, tok); len(got) != 1 {
		t.Errorf("expected socket origin %s recorded, got tokens %v", tok, s.Tokens(csp.ConnectSrc))
	}
}

type countingEvaluator struct {
	evals, funcs int
}

func (c *countingEvaluator) Eval(context.Context, string) (any, error) {
	c.evals++
	return "ok", nil
}

func (c *countingEvaluator) NewFunction(context.Context, []string, string) (any, error) {
	c.funcs++
	return nil, nil
}

func TestEvaluatorSetsFlag(t *testing.T) {
	in, s := newInstrumentation(t)
	base := &countingEvaluator{}
	ev := in.Evaluator(base)

	if s.EvalUsed() {
		t.Fatal("expected eval unset before any call")
	}
	v, err := ev.Eval(context.Background(), "1+1")
	if err != nil || v != "ok" {
		t.Errorf("expected delegated result, got %v %v", v, err)
	}
	if _, err := ev.NewFunction(context.Background(), []string{"a"}, "return a"); err != nil {
		t.Fatal(err)
	}
	if !s.EvalUsed() {
		t.Error("expected eval flag set")
	}
	if base.evals != 1 || base.funcs != 1 {
		t.Errorf("expected both calls delegated, got %+v", base)
	}
	if in.Stats().Evals != 2 {
		t.Errorf("expected 2 evals counted, got %d", in.Stats().Evals)
	}
}
