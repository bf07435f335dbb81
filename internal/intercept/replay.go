package intercept

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// EventType is the kind of a recorded runtime call.
type EventType string

const (
	EventRequest  EventType = "request"
	EventSocket   EventType = "socket"
	EventEval     EventType = "eval"
	EventFunction EventType = "function"
)

// Event is one runtime call captured outside the process, either from a HAR
// export or from an activity log.
type Event struct {
	Type   EventType `json:"type"`
	API    string    `json:"api,omitempty"`
	Method string    `json:"method,omitempty"`
	URL    string    `json:"url,omitempty"`
	Code   string    `json:"code,omitempty"`
	Params []string  `json:"params,omitempty"`
}

type harFile struct {
	Log struct {
		Entries []harEntry `json:"entries"`
	} `json:"log"`
}

type harEntry struct {
	ResourceType string `json:"_resourceType"`
	Request      struct {
		Method string `json:"method"`
		URL    string `json:"url"`
	} `json:"request"`
}

// LoadHAR extracts the runtime requests and sockets from a HAR export.
// Only entries typed xhr, fetch or websocket (or carrying a ws/wss URL) are
// kept; document, script and image loads are the static scan's concern.
func LoadHAR(r io.Reader) ([]Event, error) {
	var f harFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding har: %w", err)
	}
	var events []Event
	for _, e := range f.Log.Entries {
		u := e.Request.URL
		rt := strings.ToLower(e.ResourceType)
		switch {
		case rt == "websocket" || isSocketURL(u):
			events = append(events, Event{Type: EventSocket, URL: u})
		case rt == APIXHR || rt == APIFetch:
			events = append(events, Event{
				Type:   EventRequest,
				API:    rt,
				Method: e.Request.Method,
				URL:    u,
			})
		}
	}
	return events, nil
}

func isSocketURL(u string) bool {
	l := strings.ToLower(u)
	return strings.HasPrefix(l, "ws://") || strings.HasPrefix(l, "wss://")
}

// LoadActivity reads an activity log: one JSON event per line, blank lines
// ignored.
func LoadActivity(r io.Reader) ([]Event, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var events []Event
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(text), &ev); err != nil {
			return nil, fmt.Errorf("activity line %d: %w", line, err)
		}
		switch ev.Type {
		case EventRequest, EventSocket, EventEval, EventFunction:
		default:
			return nil, fmt.Errorf("activity line %d: unknown event type %q", line, ev.Type)
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading activity: %w", err)
	}
	return events, nil
}

// Replay routes events through the instrumentation's wrappers. It stops
// early when ctx is done and returns the number of events replayed.
func Replay(ctx context.Context, in *Instrumentation, events []Event) int {
	rt := in.Transport(replayTransport{})
	ev := in.Evaluator(NopEvaluator{})
	n := 0
	for i := range events {
		if ctx.Err() != nil {
			break
		}
		e := events[i]
		switch e.Type {
		case EventRequest:
			replayRequest(ctx, in, rt, e)
		case EventSocket:
			in.ObserveSocket(e.URL)
		case EventEval:
			ev.Eval(ctx, e.Code) //nolint:errcheck // replay evaluator never fails
		case EventFunction:
			ev.NewFunction(ctx, e.Params, e.Code) //nolint:errcheck // replay evaluator never fails
		default:
			continue
		}
		n++
	}
	slog.Debug("replayed runtime activity", "events", n, "total", len(events))
	return n
}

func replayRequest(ctx context.Context, in *Instrumentation, rt http.RoundTripper, e Event) {
	api := e.API
	if api == "" {
		api = APIFetch
	}
	method := e.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(WithAPI(ctx, api), method, e.URL, http.NoBody)
	if err != nil {
		// Not representable as a request; still observed so it is counted.
		in.ObserveRequest(api, e.URL)
		return
	}
	resp, err := rt.RoundTrip(req)
	if err == nil {
		resp.Body.Close()
	}
}

// replayTransport answers every request with an empty 200 without touching
// the network.
type replayTransport struct{}

func (replayTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return &http.Response{
		Status:     "200 OK",
		StatusCode: http.StatusOK,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header),
		Body:       http.NoBody,
		Request:    req,
	}, nil
}
