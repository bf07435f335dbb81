package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/cspwatch/internal/csp"
)

// MaxSettle caps the settle window so a typo cannot hang an audit.
const MaxSettle = 5 * time.Minute

// Config holds cspwatch runtime configuration.
type Config struct {
	Settle        time.Duration      `yaml:"settle"`        // default 6s
	HashAlgorithm string             `yaml:"hashAlgorithm"` // sha256, sha384 or sha512
	UserAgent     string             `yaml:"userAgent"`
	FetchTimeout  time.Duration      `yaml:"fetchTimeout"` // default 15s
	MaxBodyBytes  int64              `yaml:"maxBodyBytes"` // default 10 MiB
	Socks5        string             `yaml:"socks5"`       // host:port, empty = direct
	Reporting     csp.Reporting      `yaml:"reporting"`
	ReportOnly    bool               `yaml:"reportOnly"`
	ListenAddr    string             `yaml:"listenAddr"`   // default ":8080"
	MetricsPath   string             `yaml:"metricsPath"`  // default "/metrics"
	RulesPath     string             `yaml:"rules"`        // optional rule file for check
	Watch         []string           `yaml:"watch"`        // URLs serve audits in the background
	RefreshEvery  time.Duration      `yaml:"refreshEvery"` // default 10m
	Notifications NotificationConfig `yaml:"notifications"`
}

// NotificationConfig configures webhook alerts sent by serve.
type NotificationConfig struct {
	Webhooks   []WebhookConfig `yaml:"webhooks"`
	Severities []string        `yaml:"severities"` // default critical, warn
	Cooldown   time.Duration   `yaml:"cooldown"`   // default 1h
	Enabled    bool            `yaml:"enabled"`
}

// WebhookConfig is one notification target.
type WebhookConfig struct {
	URL          string `yaml:"url"`
	Type         string `yaml:"type"`         // generic, slack, pagerduty or grafana
	RoutingKey   string `yaml:"routingKey"`   // pagerduty only
	DashboardUID string `yaml:"dashboardUID"` // grafana only
	APIKey       string `yaml:"apiKey"`       // grafana only
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		Settle:        6 * time.Second,
		HashAlgorithm: "sha256",
		UserAgent:     "cspwatch",
		FetchTimeout:  15 * time.Second,
		MaxBodyBytes:  10 << 20,
		Reporting:     csp.DefaultReporting(),
		ListenAddr:    ":8080",
		MetricsPath:   "/metrics",
		RefreshEvery:  10 * time.Minute,
	}
}

// Load reads a YAML config file and merges with defaults.
func Load(path string) (*Config, error) {
	c := Defaults()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return c, nil
}

// Validate checks that the config values are sane.
func (c *Config) Validate() error {
	if c.Settle < 0 {
		return fmt.Errorf("settle must not be negative, got %s", c.Settle)
	}
	if c.Settle > MaxSettle {
		return fmt.Errorf("settle must be at most %s, got %s", MaxSettle, c.Settle)
	}
	if !slices.Contains(csp.SupportedAlgorithms, c.HashAlgorithm) {
		return fmt.Errorf("hashAlgorithm must be one of %v, got %q", csp.SupportedAlgorithms, c.HashAlgorithm)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetchTimeout must be positive, got %s", c.FetchTimeout)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("maxBodyBytes must be positive, got %d", c.MaxBodyBytes)
	}
	if c.Reporting.URI == "" {
		return fmt.Errorf("reporting.uri must not be empty")
	}
	if c.Reporting.Group == "" || c.Reporting.Endpoint == "" {
		return fmt.Errorf("reporting.group and reporting.endpoint must not be empty")
	}
	if c.Reporting.MaxAge <= 0 {
		return fmt.Errorf("reporting.maxAge must be positive, got %d", c.Reporting.MaxAge)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listenAddr must not be empty")
	}
	if c.RefreshEvery < time.Minute {
		return fmt.Errorf("refreshEvery must be at least 1m, got %s", c.RefreshEvery)
	}
	if c.RefreshEvery <= c.Settle {
		return fmt.Errorf("refreshEvery (%s) must be longer than settle (%s)", c.RefreshEvery, c.Settle)
	}
	for i, wh := range c.Notifications.Webhooks {
		switch wh.Type {
		case "", "generic", "slack", "grafana":
			if wh.URL == "" {
				return fmt.Errorf("notifications.webhooks[%d]: url must not be empty", i)
			}
		case "pagerduty":
			if wh.RoutingKey == "" {
				return fmt.Errorf("notifications.webhooks[%d]: routingKey is required for pagerduty", i)
			}
		default:
			return fmt.Errorf("notifications.webhooks[%d]: unknown type %q", i, wh.Type)
		}
	}
	for _, sev := range c.Notifications.Severities {
		switch sev {
		case "info", "warn", "critical":
		default:
			return fmt.Errorf("notifications.severities: unknown severity %q", sev)
		}
	}
	if c.Notifications.Cooldown < 0 {
		return fmt.Errorf("notifications.cooldown must not be negative, got %s", c.Notifications.Cooldown)
	}
	for _, u := range c.Watch {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("watch target %q must be an http(s) URL", u)
		}
	}
	return nil
}
