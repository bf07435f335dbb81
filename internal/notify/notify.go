// Package notify sends webhook notifications for rule violations found by
// serve audits.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/cspwatch/internal/config"
	"github.com/ppiankov/cspwatch/internal/rules"
)

const httpTimeout = 10 * time.Second

// Alert is one notifiable condition on a target.
type Alert struct {
	Key      string         `json:"key"`
	Target   string         `json:"target"`
	Title    string         `json:"title"`
	Severity rules.Severity `json:"severity"`
	Notes    string         `json:"notes,omitempty"`
}

// FromViolations converts rule violations into alerts. The key includes the
// severity, so an escalated violation is a new alert.
func FromViolations(target string, violations []rules.Violation) []Alert {
	out := make([]Alert, 0, len(violations))
	for i := range violations {
		v := &violations[i]
		out = append(out, Alert{
			Key:      fmt.Sprintf("%s/%s/%s/%s/%s#%s", target, v.RuleSet, v.Rule, v.Directive, v.Source, v.Severity),
			Target:   target,
			Title:    v.Rule,
			Severity: v.Severity,
			Notes:    v.Message,
		})
	}
	return out
}

// Notifier sends alerts that cross severity thresholds.
type Notifier struct {
	severities map[rules.Severity]bool
	sent       map[string]time.Time
	client     *http.Client
	webhooks   []config.WebhookConfig
	cooldown   time.Duration
	mu         sync.Mutex
}

// New creates a Notifier from notification config. Returns nil if not enabled or no webhooks.
func New(cfg config.NotificationConfig) *Notifier {
	if !cfg.Enabled || len(cfg.Webhooks) == 0 {
		return nil
	}

	sevs := make(map[rules.Severity]bool)
	for _, s := range cfg.Severities {
		sevs[rules.Severity(s)] = true
	}
	// Default to critical+warn if none specified
	if len(sevs) == 0 {
		sevs[rules.SeverityCritical] = true
		sevs[rules.SeverityWarn] = true
	}

	cooldown := cfg.Cooldown
	if cooldown == 0 {
		cooldown = time.Hour
	}

	return &Notifier{
		webhooks:   cfg.Webhooks,
		severities: sevs,
		cooldown:   cooldown,
		sent:       make(map[string]time.Time),
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Notify sends the violations of one audit of target whose severity is
// selected, skipping any alert already sent within the cooldown.
func (n *Notifier) Notify(target string, violations []rules.Violation) {
	now := time.Now()

	n.mu.Lock()
	var fresh []Alert
	for _, a := range FromViolations(target, violations) {
		if !n.severities[a.Severity] || n.coolingDown(a.Key, now) {
			continue
		}
		fresh = append(fresh, a)
		n.sent[a.Key] = now
	}
	n.mu.Unlock()

	if len(fresh) == 0 {
		return
	}
	n.dispatch(target, fresh)
}

// coolingDown reports whether key was sent within the cooldown. Callers hold n.mu.
func (n *Notifier) coolingDown(key string, now time.Time) bool {
	lastSent, ok := n.sent[key]
	return ok && now.Sub(lastSent) < n.cooldown
}

// dispatch sends alerts to all configured webhooks.
func (n *Notifier) dispatch(target string, alerts []Alert) {
	for i := range n.webhooks {
		wh := &n.webhooks[i]
		switch wh.Type {
		case "slack":
			n.sendSlack(wh.URL, target, alerts)
		case "pagerduty":
			n.sendPagerDuty(wh, alerts)
		case "grafana":
			n.sendGrafana(wh, target, alerts)
		default:
			n.sendGeneric(wh.URL, target, alerts)
		}
	}
}

// GenericPayload is the JSON body sent to generic webhooks.
type GenericPayload struct {
	Timestamp time.Time `json:"timestamp"`
	Target    string    `json:"target"`
	Summary   string    `json:"summary"`
	Alerts    []Alert   `json:"alerts"`
}

func (n *Notifier) sendGeneric(webhookURL, target string, alerts []Alert) {
	payload := GenericPayload{
		Timestamp: time.Now().UTC(),
		Target:    target,
		Summary:   buildSummary(alerts),
		Alerts:    alerts,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("notification: marshal error", "err", err)
		return
	}

	n.post(webhookURL, "application/json", body)
}

// SlackPayload is the JSON body sent to Slack incoming webhooks.
type SlackPayload struct {
	Blocks []SlackBlock `json:"blocks"`
}

// SlackBlock is a Slack Block Kit block.
type SlackBlock struct {
	Text *SlackText `json:"text,omitempty"`
	Type string     `json:"type"`
}

// SlackText is a Slack text element.
type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (n *Notifier) sendSlack(webhookURL, target string, alerts []Alert) {
	blocks := []SlackBlock{
		{
			Type: "header",
			Text: &SlackText{
				Type: "plain_text",
				Text: fmt.Sprintf("cspwatch: %d new alert(s) for %s", len(alerts), target),
			},
		},
	}

	for i := range alerts {
		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackText{
				Type: "mrkdwn",
				Text: fmt.Sprintf("[%s] *%s*: %s",
					strings.ToUpper(string(alerts[i].Severity)), alerts[i].Title, alerts[i].Notes),
			},
		})
	}

	blocks = append(blocks, SlackBlock{
		Type: "context",
		Text: &SlackText{
			Type: "mrkdwn",
			Text: fmt.Sprintf("Source: cspwatch | %s", time.Now().UTC().Format(time.RFC3339)),
		},
	})

	body, err := json.Marshal(SlackPayload{Blocks: blocks})
	if err != nil {
		slog.Warn("notification: slack marshal error", "err", err)
		return
	}

	n.post(webhookURL, "application/json", body)
}

func (n *Notifier) post(webhookURL, contentType string, body []byte) {
	resp, err := n.client.Post(webhookURL, contentType, bytes.NewReader(body)) //nolint:noctx // fire-and-forget notification
	if err != nil {
		slog.Warn("notification: webhook delivery failed", "url", webhookURL, "err", err)
		return
	}
	defer resp.Body.Close() //nolint:errcheck // read-only close
	if resp.StatusCode >= 300 {
		slog.Warn("notification: webhook returned non-2xx", "url", webhookURL, "status", resp.StatusCode)
	}
}

func buildSummary(alerts []Alert) string {
	var critCount, warnCount int
	for i := range alerts {
		switch alerts[i].Severity {
		case rules.SeverityCritical:
			critCount++
		case rules.SeverityWarn:
			warnCount++
		}
	}
	var parts []string
	if critCount > 0 {
		parts = append(parts, fmt.Sprintf("%d critical", critCount))
	}
	if warnCount > 0 {
		parts = append(parts, fmt.Sprintf("%d warn", warnCount))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%d alert(s)", len(alerts))
	}
	return strings.Join(parts, ", ") + " alert(s)"
}
