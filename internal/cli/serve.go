package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ppiankov/cspwatch/internal/config"
	"github.com/ppiankov/cspwatch/internal/metrics"
	"github.com/ppiankov/cspwatch/internal/notify"
	"github.com/ppiankov/cspwatch/internal/runner"
	"github.com/ppiankov/cspwatch/internal/web"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	idleTimeout       = 120 * time.Second
	defaultConfigPath = "/etc/cspwatch/config.yaml"
	// maxInFlight bounds concurrent on-demand audits; each holds a settle window.
	maxInFlight = 4
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run as a service with web UI, JSON API and /metrics",
	Long: `Start cspwatch as a long-running service.

Audits are run on demand, and the URLs listed under watch in the config
(or --watch) are re-audited every refreshEvery in the background.

Endpoints:
  /                    Audit form; /?url=<page> renders the HTML report
  /api/v1/audit?url=   Run an audit and return the JSON envelope
  /api/v1/last         Most recent audit as JSON
  /metrics             Prometheus scrape endpoint
  /healthz             Liveness probe (503 if watched audits are stale)`,
	Example: `  # Run with default config
  cspwatch serve

  # Watch two pages every 10 minutes
  cspwatch serve --watch https://example.com/ --watch https://shop.example.com/

  # Override listen address
  cspwatch serve --listen :9090

  # Run with JSON logging for log aggregation
  cspwatch serve --log-format json --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("config", defaultConfigPath, "Path to config file")
	serveCmd.Flags().String("listen", "", "Listen address (overrides config)")
	serveCmd.Flags().StringSlice("watch", nil, "URL to audit periodically (repeatable, adds to config)")
	serveCmd.Flags().String("rules", "", "Path to YAML rule file (overrides config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}
	sets, err := loadRuleSets(cfg.RulesPath)
	if err != nil {
		return err
	}

	tracer, tracerShutdown := initTracer(cmd)
	defer tracerShutdown(context.Background()) //nolint:errcheck // best-effort flush

	// Prometheus metrics
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	r, err := runner.New(cfg,
		runner.WithTracer(tracer),
		runner.WithCollector(collector),
		runner.WithRuleSets(sets...),
	)
	if err != nil {
		return err
	}

	// Notifications (nil if not configured)
	notifier := notify.New(cfg.Notifications)
	notifyAudit := func(target string, res *runner.Result) {
		if notifier != nil {
			notifier.Notify(target, res.Violations)
		}
	}

	// Shared state: most recent audit
	var mu sync.RWMutex
	var last *runner.Result
	getLast := func() *runner.Result {
		mu.RLock()
		defer mu.RUnlock()
		return last
	}
	setLast := func(res *runner.Result) {
		mu.Lock()
		last = res
		mu.Unlock()
	}

	sem := make(chan struct{}, maxInFlight)
	onDemand := func(ctx context.Context, target string) (*runner.Result, error) {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		res, err := r.Run(ctx, runner.Request{Target: target})
		if err != nil {
			return nil, err
		}
		setLast(res)
		notifyAudit(target, res)
		return res, nil
	}

	var healthMaxAge time.Duration
	if len(cfg.Watch) > 0 {
		healthMaxAge = 2 * cfg.RefreshEvery
	}

	// HTTP server
	mux := http.NewServeMux()
	mux.HandleFunc("/", web.UIHandler(onDemand))
	mux.HandleFunc("/healthz", web.HealthzHandler(getLast, healthMaxAge))
	mux.HandleFunc("/api/v1/audit", web.AuditHandler(onDemand))
	mux.HandleFunc("/api/v1/last", web.LastHandler(getLast))
	mux.Handle(cfg.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      cfg.FetchTimeout + cfg.Settle + readTimeout,
		IdleTimeout:       idleTimeout,
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(cfg.Watch) > 0 {
		go watchLoop(ctx, r, cfg, func(target string, res *runner.Result) {
			setLast(res)
			notifyAudit(target, res)
		})
	}

	// Start HTTP server
	srvErr := make(chan error, 1)
	go func() {
		slog.Info("cspwatch serve listening", "version", version, "addr", cfg.ListenAddr, "watch", len(cfg.Watch))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
	case err := <-srvErr:
		return err
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func loadServeConfig(cmd *cobra.Command) (*config.Config, error) {
	cfgPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	cfg := config.Defaults()
	if cfgPath != "" {
		if _, statErr := os.Stat(cfgPath); statErr == nil {
			cfg, err = config.Load(cfgPath)
			if err != nil {
				return nil, fmt.Errorf("loading config: %w", err)
			}
		} else if cfgPath != defaultConfigPath {
			// Non-default path that doesn't exist is an error
			return nil, fmt.Errorf("config file not found: %s", cfgPath)
		}
	}

	listenFlag, _ := cmd.Flags().GetString("listen") //nolint:errcheck // flag registered above
	if listenFlag != "" {
		cfg.ListenAddr = listenFlag
	}
	watch, _ := cmd.Flags().GetStringSlice("watch") //nolint:errcheck // flag registered above
	cfg.Watch = append(cfg.Watch, watch...)
	if p, _ := cmd.Flags().GetString("rules"); p != "" { //nolint:errcheck // flag registered above
		cfg.RulesPath = p
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// watchLoop audits every watched URL now and then every cfg.RefreshEvery
// until ctx is done.
func watchLoop(ctx context.Context, r *runner.Runner, cfg *config.Config, done func(string, *runner.Result)) {
	auditAll := func() {
		for _, target := range cfg.Watch {
			func() {
				defer func() {
					if rec := recover(); rec != nil {
						slog.Error("audit panic recovered", "target", target, "panic", rec)
					}
				}()
				res, err := r.Run(ctx, runner.Request{Target: target})
				if err != nil {
					slog.Error("watched audit failed", "target", target, "err", err)
					return
				}
				done(target, res)
				slog.Info("watched audit complete", "target", target,
					"emitted", len(res.Policy.Emitted()), "violations", len(res.Violations),
					"duration", res.Duration.Round(time.Millisecond))
			}()
			if ctx.Err() != nil {
				return
			}
		}
	}

	auditAll()
	ticker := time.NewTicker(cfg.RefreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			auditAll()
		}
	}
}
