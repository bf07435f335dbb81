package notify

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/cspwatch/internal/config"
	"github.com/ppiankov/cspwatch/internal/rules"
)

// pagerDutyEventsURL is the PagerDuty Events API v2 endpoint (var for testing).
var pagerDutyEventsURL = "https://events.pagerduty.com/v2/enqueue" //nolint:gosec // not a credential

// pdEvent is a PagerDuty Events API v2 request body.
type pdEvent struct {
	Payload     *pdPayload `json:"payload,omitempty"`
	RoutingKey  string     `json:"routing_key"`
	EventAction string     `json:"event_action"`
	DedupKey    string     `json:"dedup_key"`
}

// pdPayload is the payload section of a PagerDuty trigger event.
type pdPayload struct {
	Timestamp time.Time `json:"timestamp"`
	Summary   string    `json:"summary"`
	Source    string    `json:"source"`
	Severity  string    `json:"severity"`
}

func (n *Notifier) sendPagerDuty(wh *config.WebhookConfig, alerts []Alert) {
	for i := range alerts {
		a := &alerts[i]
		event := pdEvent{
			RoutingKey:  wh.RoutingKey,
			EventAction: "trigger",
			DedupKey:    a.Key,
			Payload: &pdPayload{
				Summary:   pdSummary(a),
				Source:    "cspwatch",
				Severity:  pdSeverity(a.Severity),
				Timestamp: time.Now().UTC(),
			},
		}

		body, err := json.Marshal(event)
		if err != nil {
			continue
		}
		n.post(pagerDutyEventsURL, "application/json", body)
	}
}

func pdSummary(a *Alert) string {
	return fmt.Sprintf("[%s] %s on %s: %s",
		strings.ToUpper(string(a.Severity)), a.Title, a.Target, a.Notes)
}

func pdSeverity(s rules.Severity) string {
	switch s {
	case rules.SeverityCritical:
		return "critical"
	case rules.SeverityWarn:
		return "warning"
	default:
		return "info"
	}
}
