package fetch

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMain(m *testing.M) {
	retryDelay = time.Millisecond
	os.Exit(m.Run())
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestFetch(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><script src=/a.js></script></html>")) //nolint:errcheck // test handler
	}))
	defer srv.Close()

	l, err := New(Options{UserAgent: "cspwatch-test"})
	if err != nil {
		t.Fatal(err)
	}
	doc, err := l.Load(context.Background(), srv.URL+"/page")
	if err != nil {
		t.Fatal(err)
	}
	if gotUA != "cspwatch-test" {
		t.Errorf("expected user agent, got %q", gotUA)
	}
	if !strings.Contains(string(doc.Body), "/a.js") {
		t.Errorf("unexpected body %q", doc.Body)
	}
	if doc.URL.String() != srv.URL+"/page" {
		t.Errorf("unexpected url %s", doc.URL)
	}
	if doc.RetryCount != 0 {
		t.Errorf("expected RetryCount=0, got %d", doc.RetryCount)
	}
}

func TestFetchFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html></html>")) //nolint:errcheck // test handler
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	l, _ := New(Options{})
	doc, err := l.Fetch(context.Background(), srv.URL+"/old")
	if err != nil {
		t.Fatal(err)
	}
	if doc.URL.Path != "/new" {
		t.Errorf("expected final URL to be /new, got %s", doc.URL)
	}
}

func TestFetchStatusError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		http.NotFound(w, nil)
	}))
	defer srv.Close()

	l, _ := New(Options{})
	_, err := l.Fetch(context.Background(), srv.URL)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("expected 404 error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected no retry on status errors, got %d calls", calls)
	}
}

func TestFetchSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100))) //nolint:errcheck // test handler
	}))
	defer srv.Close()

	l, _ := New(Options{MaxBodyBytes: 50})
	if _, err := l.Fetch(context.Background(), srv.URL); err == nil || !strings.Contains(err.Error(), "exceeds 50 bytes") {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestFetchRetry_TransientDialFailure(t *testing.T) {
	calls := 0
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		if calls <= 2 {
			return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Status:     "200 OK",
			Header:     http.Header{},
			Body:       http.NoBody,
			Request:    r,
		}, nil
	})

	l, _ := New(Options{Transport: rt})
	doc, err := l.Fetch(context.Background(), "https://example.com/")
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if doc.RetryCount != 2 {
		t.Errorf("expected RetryCount=2, got %d", doc.RetryCount)
	}
}

func TestFetchRetry_AllRetriesExhausted(t *testing.T) {
	calls := 0
	rt := roundTripFunc(func(*http.Request) (*http.Response, error) {
		calls++
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	})

	l, _ := New(Options{Transport: rt})
	_, err := l.Fetch(context.Background(), "https://example.com/")
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("expected last dial error, got %v", err)
	}
	if calls != 3 { // 1 initial + 2 retries
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestFetchRetry_NoRetryOnOtherErrors(t *testing.T) {
	calls := 0
	rt := roundTripFunc(func(*http.Request) (*http.Response, error) {
		calls++
		return nil, errors.New("tls: handshake failure")
	})

	l, _ := New(Options{Transport: rt})
	if _, err := l.Fetch(context.Background(), "https://example.com/"); err == nil {
		t.Error("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 attempt, got %d", calls)
	}
}

func TestFetchThroughSOCKS5(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html>proxied</html>")) //nolint:errcheck // test handler
	}))
	defer srv.Close()
	socks := startSOCKS5(t)

	l, err := New(Options{Socks5: socks.Addr()})
	if err != nil {
		t.Fatal(err)
	}
	doc, err := l.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if string(doc.Body) != "<html>proxied</html>" {
		t.Errorf("unexpected body %q", doc.Body)
	}
	if socks.connects.Load() == 0 {
		t.Error("expected the request to go through the SOCKS5 upstream")
	}
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.html")
	if err := os.WriteFile(path, []byte("<html></html>"), 0o600); err != nil {
		t.Fatal(err)
	}

	l, _ := New(Options{})
	if _, err := l.Load(context.Background(), path); !errors.Is(err, ErrBaseURLRequired) {
		t.Errorf("expected ErrBaseURLRequired, got %v", err)
	}

	l, _ = New(Options{BaseURL: "relative/path"})
	if _, err := l.Load(context.Background(), path); err == nil {
		t.Error("expected error for relative base URL")
	}

	l, _ = New(Options{BaseURL: "https://example.com/app/"})
	doc, err := l.Load(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if doc.URL.String() != "https://example.com/app/" {
		t.Errorf("unexpected document URL %s", doc.URL)
	}

	if _, err := l.Load(context.Background(), filepath.Join(dir, "missing.html")); err == nil {
		t.Error("expected error for missing file")
	}

	doc, err = l.ReadFileAt(path, "https://static.example.org/")
	if err != nil {
		t.Fatal(err)
	}
	if doc.URL.String() != "https://static.example.org/" {
		t.Errorf("ReadFileAt should use the given base, got %s", doc.URL)
	}
}

func TestIsRemote(t *testing.T) {
	tests := map[string]bool{
		"https://example.com": true,
		"HTTP://example.com":  true,
		"./index.html":        false,
		"/tmp/page.html":      false,
		"ftp://example.com":   false,
	}
	for in, want := range tests {
		if got := IsRemote(in); got != want {
			t.Errorf("IsRemote(%q) = %v, want %v", in, got, want)
		}
	}
}
