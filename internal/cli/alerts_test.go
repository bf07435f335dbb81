package cli

import (
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestAlertsCommand_ValidYAML(t *testing.T) {
	out, _, err := execute("alerts", "--stale-after=0s", "--name=cspwatch-alerts", "--namespace=", "--labels=")
	if err != nil {
		t.Fatalf("alerts failed: %v", err)
	}

	var doc struct {
		APIVersion string `yaml:"apiVersion"`
		Kind       string `yaml:"kind"`
		Metadata   struct {
			Name   string            `yaml:"name"`
			Labels map[string]string `yaml:"labels"`
		} `yaml:"metadata"`
		Spec struct {
			Groups []struct {
				Name  string `yaml:"name"`
				Rules []struct {
					Alert string `yaml:"alert"`
					Expr  string `yaml:"expr"`
				} `yaml:"rules"`
			} `yaml:"groups"`
		} `yaml:"spec"`
	}
	if err := yaml.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("output is not valid YAML: %v\n%s", err, out)
	}
	if doc.Kind != "PrometheusRule" || doc.APIVersion != "monitoring.coreos.com/v1" {
		t.Errorf("unexpected kind/apiVersion %q %q", doc.Kind, doc.APIVersion)
	}
	if doc.Metadata.Name != "cspwatch-alerts" {
		t.Errorf("expected name cspwatch-alerts, got %q", doc.Metadata.Name)
	}
	if len(doc.Spec.Groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(doc.Spec.Groups))
	}

	alerts := make(map[string]string)
	for _, r := range doc.Spec.Groups[0].Rules {
		alerts[r.Alert] = r.Expr
	}
	for _, name := range []string{
		"CspwatchEvalDetected",
		"CspwatchCriticalViolations",
		"CspwatchWarnViolations",
		"CspwatchPartialAudits",
		"CspwatchAuditsStale",
	} {
		if _, ok := alerts[name]; !ok {
			t.Errorf("missing alert %s", name)
		}
	}
	if !strings.Contains(alerts["CspwatchAuditsStale"], "[1h]") {
		t.Errorf("expected default 1h stale window, got %q", alerts["CspwatchAuditsStale"])
	}
}

func TestAlertsCommand_Options(t *testing.T) {
	out, _, err := execute("alerts", "--stale-after=2h", "--name=csp", "--namespace=monitoring", "--labels=prometheus=kube, role=alert-rules")
	if err != nil {
		t.Fatalf("alerts failed: %v", err)
	}

	for _, want := range []string{
		"name: csp\n",
		"namespace: monitoring",
		"prometheus: kube",
		"role: alert-rules",
		"increase(cspwatch_audits_total[2h]) == 0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output", want)
		}
	}
}

func TestPromDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{time.Hour, "1h"},
		{90 * time.Minute, "90m"},
		{3 * time.Hour, "3h"},
		{30 * time.Second, "1m"},
		{45 * time.Minute, "45m"},
	}
	for _, tt := range tests {
		if got := promDuration(tt.in); got != tt.want {
			t.Errorf("promDuration(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
