// Package fetch loads the document under audit, either over HTTP(S) with
// retry on connection errors or from a local file with an explicit base URL.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// Retry defaults for transient connection errors.
var (
	retryMax   = 2
	retryDelay = time.Second
)

// ErrBaseURLRequired is returned when a local file is loaded without a base
// URL; relative references could not be resolved otherwise.
var ErrBaseURLRequired = errors.New("a base URL is required to audit a local file")

// Options configures a Loader.
type Options struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	// Socks5 is the host:port of an upstream SOCKS5 proxy. Empty means direct.
	Socks5 string
	// BaseURL is the URL a local file is treated as having been served from.
	BaseURL string
	// Transport overrides the HTTP transport.
	Transport http.RoundTripper
}

// Document is a loaded page.
type Document struct {
	URL         *url.URL
	Body        []byte
	ContentType string
	StatusCode  int
	RetryCount  int
}

// Loader fetches documents.
type Loader struct {
	client *http.Client
	opts   Options
}

// New builds a Loader. It fails only when the SOCKS5 upstream is malformed.
func New(opts Options) (*Loader, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}
	rt := opts.Transport
	if rt == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		if opts.Socks5 != "" {
			d, err := proxy.SOCKS5("tcp", opts.Socks5, nil, &net.Dialer{Timeout: opts.Timeout})
			if err != nil {
				return nil, fmt.Errorf("socks5 upstream %s: %w", opts.Socks5, err)
			}
			cd, ok := d.(proxy.ContextDialer)
			if !ok {
				return nil, fmt.Errorf("socks5 upstream %s: dialer does not support contexts", opts.Socks5)
			}
			tr.Proxy = nil
			tr.DialContext = cd.DialContext
		}
		rt = tr
	}
	return &Loader{
		client: &http.Client{Transport: rt, Timeout: opts.Timeout},
		opts:   opts,
	}, nil
}

// Load fetches target when it is an http(s) URL and reads it from disk
// otherwise.
func (l *Loader) Load(ctx context.Context, target string) (*Document, error) {
	if IsRemote(target) {
		return l.Fetch(ctx, target)
	}
	return l.ReadFile(target)
}

// IsRemote reports whether target is an http or https URL.
func IsRemote(target string) bool {
	t := strings.ToLower(strings.TrimSpace(target))
	return strings.HasPrefix(t, "http://") || strings.HasPrefix(t, "https://")
}

// Fetch downloads raw. Only connection (dial) errors are retried; HTTP
// status errors are definitive.
func (l *Loader) Fetch(ctx context.Context, raw string) (*Document, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %w", err)
	}

	var lastDialErr error
	for attempt := 0; attempt <= retryMax; attempt++ {
		if attempt > 0 {
			wait := retryDelay * time.Duration(1<<uint(attempt-1))
			slog.Debug("retrying fetch", "url", raw, "attempt", attempt, "wait", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		doc, err := l.fetchOnce(ctx, u)
		if err == nil {
			doc.RetryCount = attempt
			return doc, nil
		}
		if !isDialError(err) {
			return nil, err
		}
		lastDialErr = err
	}
	return nil, fmt.Errorf("fetching %s after %d retries: %w", raw, retryMax, lastDialErr)
}

func (l *Loader) fetchOnce(ctx context.Context, u *url.URL) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	if l.opts.UserAgent != "" {
		req.Header.Set("User-Agent", l.opts.UserAgent)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("fetching %s: unexpected status %s", u, resp.Status)
	}
	body, err := readLimited(resp.Body, l.opts.MaxBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", u, err)
	}
	return &Document{
		URL:         resp.Request.URL,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}, nil
}

// ReadFile reads a local document. The configured base URL becomes its
// document URL.
func (l *Loader) ReadFile(path string) (*Document, error) {
	return l.ReadFileAt(path, l.opts.BaseURL)
}

// ReadFileAt reads a local document as if it had been served from baseURL.
func (l *Loader) ReadFileAt(path, baseURL string) (*Document, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}
	base, err := url.Parse(baseURL)
	if err != nil || !base.IsAbs() || base.Host == "" {
		return nil, fmt.Errorf("base URL %q must be an absolute http(s) URL", baseURL)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening document: %w", err)
	}
	defer f.Close()

	body, err := readLimited(f, l.opts.MaxBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return &Document{URL: base, Body: body, ContentType: "text/html"}, nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("document exceeds %d bytes", limit)
	}
	return b, nil
}

func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
