package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/ppiankov/cspwatch/internal/config"
	"github.com/ppiankov/cspwatch/internal/intercept"
	"github.com/ppiankov/cspwatch/internal/rules"
	"github.com/ppiankov/cspwatch/internal/runner"
	"github.com/ppiankov/cspwatch/internal/telemetry"
)

// addAuditFlags registers the flags shared by audit, check and now.
func addAuditFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Path to config file")
	cmd.Flags().Duration("settle", 0, "Settle window for runtime activity (default from config, 6s)")
	cmd.Flags().String("base-url", "", "URL a local file is treated as served from")
	cmd.Flags().String("har", "", "HAR file whose XHR/fetch/WebSocket entries are replayed during the settle window")
	cmd.Flags().String("activity", "", "JSON-lines activity log (request, socket, eval, function) to replay")
	cmd.Flags().String("socks5", "", "Fetch the document through a SOCKS5 upstream (host:port)")
	cmd.Flags().String("hash", "", "Hash algorithm for inline content: sha256, sha384 or sha512")
	cmd.Flags().Bool("report-only", false, "Recommend the Content-Security-Policy-Report-Only header")
}

// loadConfig reads --config and applies the flag overrides on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfgPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg := config.Defaults()
	if cfgPath != "" {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	}

	if cmd.Flags().Changed("settle") {
		cfg.Settle, _ = cmd.Flags().GetDuration("settle") //nolint:errcheck // flag registered above
	}
	if s, _ := cmd.Flags().GetString("socks5"); s != "" { //nolint:errcheck // flag registered above
		cfg.Socks5 = s
	}
	if h, _ := cmd.Flags().GetString("hash"); h != "" { //nolint:errcheck // flag registered above
		cfg.HashAlgorithm = h
	}
	if ro, _ := cmd.Flags().GetBool("report-only"); ro { //nolint:errcheck // flag registered above
		cfg.ReportOnly = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadEvents reads the --har and --activity recordings.
func loadEvents(cmd *cobra.Command) ([]intercept.Event, error) {
	var events []intercept.Event

	harPath, _ := cmd.Flags().GetString("har") //nolint:errcheck // flag registered above
	if harPath != "" {
		ev, err := readEvents(harPath, intercept.LoadHAR)
		if err != nil {
			return nil, fmt.Errorf("loading HAR: %w", err)
		}
		events = append(events, ev...)
	}

	actPath, _ := cmd.Flags().GetString("activity") //nolint:errcheck // flag registered above
	if actPath != "" {
		ev, err := readEvents(actPath, intercept.LoadActivity)
		if err != nil {
			return nil, fmt.Errorf("loading activity log: %w", err)
		}
		events = append(events, ev...)
	}

	if len(events) > 0 {
		slog.Debug("runtime activity loaded", "events", len(events))
	}
	return events, nil
}

func readEvents(path string, load func(io.Reader) ([]intercept.Event, error)) ([]intercept.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return load(f)
}

// loadRuleSets returns the built-in rules plus the rule file, if any.
func loadRuleSets(path string) ([]rules.RuleSet, error) {
	sets := []rules.RuleSet{rules.Builtin()}
	if path == "" {
		return sets, nil
	}
	rs, err := rules.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading rules: %w", err)
	}
	slog.Info("loaded rule file", "path", path, "name", rs.Name, "rules", len(rs.Spec.Rules))
	return append(sets, rs), nil
}

// initTracer starts the exporter named by --otel-endpoint. Failures only
// disable tracing.
func initTracer(cmd *cobra.Command) (trace.Tracer, telemetry.Shutdown) {
	endpoint, _ := cmd.Flags().GetString("otel-endpoint") //nolint:errcheck // flag registered above
	tracer, shutdown, err := telemetry.InitTracer(context.Background(), telemetry.Config{
		Endpoint: endpoint,
		Version:  version,
	})
	if err != nil {
		slog.Warn("initializing tracer", "err", err)
		return nil, func(context.Context) error { return nil }
	}
	return tracer, shutdown
}

// runAudit performs the common audit flow of audit, check and now.
func runAudit(ctx context.Context, cmd *cobra.Command, target string, cfg *config.Config, opts ...runner.Option) (*runner.Result, error) {
	events, err := loadEvents(cmd)
	if err != nil {
		return nil, err
	}
	baseURL, _ := cmd.Flags().GetString("base-url") //nolint:errcheck // flag registered above

	tracer, shutdown := initTracer(cmd)
	defer shutdown(context.Background()) //nolint:errcheck // best-effort flush

	r, err := runner.New(cfg, append(opts, runner.WithTracer(tracer))...)
	if err != nil {
		return nil, err
	}
	slog.Info("auditing", "target", target, "settle", cfg.Settle, "events", len(events))
	return r.Run(ctx, runner.Request{Target: target, BaseURL: baseURL, Events: events})
}
