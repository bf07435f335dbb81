package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/cspwatch/internal/config"
	"github.com/ppiankov/cspwatch/internal/rules"
)

// grafanaAnnotation is the payload for Grafana's POST /api/annotations endpoint.
type grafanaAnnotation struct {
	Text         string   `json:"text"`
	DashboardUID string   `json:"dashboardUID,omitempty"`
	Tags         []string `json:"tags"`
	Time         int64    `json:"time"`
}

func (n *Notifier) sendGrafana(wh *config.WebhookConfig, target string, alerts []Alert) {
	ann := grafanaAnnotation{
		Time:         time.Now().UnixMilli(),
		Tags:         grafanaTags(alerts),
		Text:         grafanaText(target, alerts),
		DashboardUID: wh.DashboardUID,
	}

	body, err := json.Marshal(ann)
	if err != nil {
		slog.Warn("notification: grafana marshal error", "err", err)
		return
	}

	url := strings.TrimRight(wh.URL, "/") + "/api/annotations"
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body)) //nolint:noctx // fire-and-forget notification
	if err != nil {
		slog.Warn("notification: grafana request error", "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if wh.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+wh.APIKey)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		slog.Warn("notification: grafana delivery failed", "url", url, "err", err)
		return
	}
	defer resp.Body.Close() //nolint:errcheck // read-only close
	if resp.StatusCode >= 300 {
		slog.Warn("notification: grafana returned non-2xx", "url", url, "status", resp.StatusCode)
	}
}

func grafanaTags(alerts []Alert) []string {
	tags := []string{"cspwatch"}
	var hasCrit, hasWarn bool
	for i := range alerts {
		switch alerts[i].Severity {
		case rules.SeverityCritical:
			hasCrit = true
		case rules.SeverityWarn:
			hasWarn = true
		}
	}
	if hasCrit {
		tags = append(tags, string(rules.SeverityCritical))
	}
	if hasWarn {
		tags = append(tags, string(rules.SeverityWarn))
	}
	return tags
}

func grafanaText(target string, alerts []Alert) string {
	lines := []string{fmt.Sprintf("cspwatch %s: %s", target, buildSummary(alerts))}
	for i := range alerts {
		a := &alerts[i]
		lines = append(lines, fmt.Sprintf("- [%s] %s: %s",
			strings.ToUpper(string(a.Severity)), a.Title, a.Notes))
	}
	return strings.Join(lines, "\n")
}
