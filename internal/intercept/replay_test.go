package intercept

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ppiankov/cspwatch/internal/csp"
)

const sampleHAR = `{"log":{"version":"1.2","entries":[
 {"_resourceType":"document","request":{"method":"GET","url":"https://example.com/app"},"response":{"status":200}},
 {"_resourceType":"script","request":{"method":"GET","url":"https://cdn.example.net/lib.js"},"response":{"status":200}},
 {"_resourceType":"xhr","request":{"method":"POST","url":"https://api.example.net/v1/login"},"response":{"status":204}},
 {"_resourceType":"Fetch","request":{"method":"GET","url":"/api/me"},"response":{"status":200}},
 {"_resourceType":"websocket","request":{"method":"GET","url":"wss://live.example.net/ws"},"response":{"status":101}},
 {"_resourceType":"other","request":{"method":"GET","url":"ws://legacy.example.net/ws"},"response":{"status":101}}
]}}`

func TestLoadHAR(t *testing.T) {
	events, err := LoadHAR(strings.NewReader(sampleHAR))
	if err != nil {
		t.Fatal(err)
	}
	want := []Event{
		{Type: EventRequest, API: APIXHR, Method: "POST", URL: "https://api.example.net/v1/login"},
		{Type: EventRequest, API: APIFetch, Method: "GET", URL: "/api/me"},
		{Type: EventSocket, URL: "wss://live.example.net/ws"},
		{Type: EventSocket, URL: "ws://legacy.example.net/ws"},
	}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadHARInvalid(t *testing.T) {
	if _, err := LoadHAR(strings.NewReader("{not json")); err == nil {
		t.Error("expected decode error")
	}
}

func TestLoadActivity(t *testing.T) {
	in := `{"type":"request","api":"xhr","url":"https://api.example.net/a"}

{"type":"socket","url":"wss://live.example.net/ws"}
{"type":"eval","code":"1+1"}
{"type":"function","params":["a"],"code":"return a"}
`
	events, err := LoadActivity(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	if events[3].Type != EventFunction || events[3].Params[0] != "a" {
		t.Errorf("unexpected function event %+v", events[3])
	}
}

func TestLoadActivityErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bad json", "{\"type\":\"request\"}\n{oops", "line 2"},
		{"unknown type", `{"type":"timer"}`, "unknown event type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadActivity(strings.NewReader(tt.in))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestReplay(t *testing.T) {
	in, s := newInstrumentation(t)
	events, err := LoadHAR(strings.NewReader(sampleHAR))
	if err != nil {
		t.Fatal(err)
	}
	events = append(events,
		Event{Type: EventEval, Code: "x"},
		Event{Type: EventRequest, URL: "http://[::1"},
	)

	n := Replay(context.Background(), in, events)
	if n != 6 {
		t.Errorf("expected 6 replayed, got %d", n)
	}

	want := []csp.Token{
		csp.Self,
		"https://api.example.net",
		"wss://live.example.net",
		"ws://legacy.example.net",
	}
	if diff := cmp.Diff(want, s.Tokens(csp.ConnectSrc)); diff != "" {
		t.Errorf("connect-src mismatch (-want +got):\n%s", diff)
	}
	if got := s.Justifications(csp.ConnectSrc, csp.Self); len(got) != 1 || got[0] != "request to: /api/me" {
		t.Errorf("unexpected self justification %v", got)
	}
	if !s.EvalUsed() {
		t.Error("expected eval flag from replayed eval")
	}
	st := in.Stats()
	if st.Requests != 3 || st.Sockets != 2 || st.Evals != 1 || st.Dropped != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestReplayCanceled(t *testing.T) {
	in, s := newInstrumentation(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if n := Replay(ctx, in, []Event{{Type: EventEval}}); n != 0 {
		t.Errorf("expected nothing replayed, got %d", n)
	}
	if s.EvalUsed() {
		t.Error("expected eval flag untouched")
	}
}
