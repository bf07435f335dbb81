// Package web provides HTTP handlers for the cspwatch web UI and API.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/ppiankov/cspwatch/internal/fetch"
	"github.com/ppiankov/cspwatch/internal/monitor"
	"github.com/ppiankov/cspwatch/internal/report"
	"github.com/ppiankov/cspwatch/internal/runner"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTmpl = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// AuditFunc runs one audit of a remote URL.
type AuditFunc func(ctx context.Context, target string) (*runner.Result, error)

// errRemoteOnly rejects local paths; the service never reads its own disk.
var errRemoteOnly = errors.New("url must be an absolute http or https URL")

// UIHandler serves the audit form. With a url query parameter it runs the
// audit and renders the HTML report instead.
func UIHandler(run AuditFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		target := r.URL.Query().Get("url")
		if target == "" {
			renderIndex(w, http.StatusOK, indexData{})
			return
		}
		res, status, err := audit(r.Context(), run, target)
		if err != nil {
			renderIndex(w, status, indexData{URL: target, Error: err.Error()})
			return
		}
		body, err := report.Generate(res.Policy, res.Violations)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(body) //nolint:errcheck // best-effort response
	}
}

// AuditHandler runs an audit and returns the JSON envelope.
func AuditHandler(run AuditFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		res, status, err := audit(r.Context(), run, r.URL.Query().Get("url"))
		if err != nil {
			http.Error(w, err.Error(), status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := monitor.WriteJSON(w, res.Policy, res.Violations, res.ExitCode); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// LastFunc returns the most recent audit result, or nil before the first.
type LastFunc func() *runner.Result

// LastHandler returns the most recent audit as the JSON envelope.
func LastHandler(getLast LastFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		res := getLast()
		if res == nil {
			http.Error(w, "no audit has run yet", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := monitor.WriteJSON(w, res.Policy, res.Violations, res.ExitCode); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// HealthzHandler returns 200 with body "ok". When maxAge is positive it
// returns 503 until the first watched audit finishes and whenever the last
// one is older than maxAge.
func HealthzHandler(getLast LastFunc, maxAge time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if maxAge > 0 {
			res := getLast()
			if res == nil {
				http.Error(w, "no audit completed yet", http.StatusServiceUnavailable)
				return
			}
			if age := time.Since(res.Policy.GeneratedAt); age > maxAge {
				http.Error(w, fmt.Sprintf("last audit is stale (%s old)", age.Round(time.Second)), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok")) //nolint:errcheck // best-effort response
	}
}

func audit(ctx context.Context, run AuditFunc, target string) (*runner.Result, int, error) {
	if target == "" {
		return nil, http.StatusBadRequest, runner.ErrEmptyTarget
	}
	if !fetch.IsRemote(target) {
		return nil, http.StatusBadRequest, errRemoteOnly
	}
	res, err := run(ctx, target)
	if err != nil {
		slog.Warn("audit failed", "url", target, "err", err)
		return nil, http.StatusBadGateway, err
	}
	return res, http.StatusOK, nil
}

type indexData struct {
	URL   string
	Error string
}

func renderIndex(w http.ResponseWriter, status int, data indexData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := indexTmpl.Execute(w, data); err != nil {
		slog.Error("rendering index", "err", err)
	}
}
