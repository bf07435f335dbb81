package cli

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/spf13/cobra"
)

const defaultStaleAfter = time.Hour

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Generate PrometheusRule YAML for cspwatch serve alerts",
	Long: `Output a static PrometheusRule YAML manifest with alert rules for the
metrics exposed by cspwatch serve: eval usage, rule violations, partial
audits and watched audits that stopped running.

No network access required. The output is valid
monitoring.coreos.com/v1 PrometheusRule YAML suitable for kubectl apply.`,
	Example: `  # Generate with defaults
  cspwatch alerts

  # Alert when no audit completed in the last 2 hours
  cspwatch alerts --stale-after 2h

  # Custom metadata
  cspwatch alerts --name cspwatch-alerts --namespace monitoring

  # Add extra labels for PrometheusRule selection
  cspwatch alerts --labels 'prometheus=kube,role=alert-rules'

  # Apply directly
  cspwatch alerts | kubectl apply -f -`,
	RunE: runAlerts,
}

func init() {
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.Flags().Duration("stale-after", 0, "Alert when no audit completed within this window (default: 1h)")
	alertsCmd.Flags().String("name", "cspwatch-alerts", "PrometheusRule metadata.name")
	alertsCmd.Flags().String("namespace", "", "PrometheusRule metadata.namespace")
	alertsCmd.Flags().String("labels", "", "Extra labels (comma-separated key=value pairs)")
}

type alertsData struct {
	Labels     map[string]string
	Name       string
	Namespace  string
	StaleAfter string
}

func runAlerts(cmd *cobra.Command, _ []string) error {
	name, _ := cmd.Flags().GetString("name")              //nolint:errcheck // flag registered above
	ns, _ := cmd.Flags().GetString("namespace")           //nolint:errcheck // flag registered above
	labelsStr, _ := cmd.Flags().GetString("labels")       //nolint:errcheck // flag registered above
	staleDur, _ := cmd.Flags().GetDuration("stale-after") //nolint:errcheck // flag registered above

	if staleDur <= 0 {
		staleDur = defaultStaleAfter
	}

	labels := make(map[string]string)
	if labelsStr != "" {
		for _, pair := range strings.Split(labelsStr, ",") {
			kv := strings.SplitN(pair, "=", 2)
			if len(kv) == 2 {
				labels[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
			}
		}
	}

	data := alertsData{
		Name:       name,
		Namespace:  ns,
		Labels:     labels,
		StaleAfter: promDuration(staleDur),
	}

	tmpl, err := template.New("prometheusrule").Parse(prometheusRuleTemplate)
	if err != nil {
		return fmt.Errorf("parsing template: %w", err)
	}

	return tmpl.Execute(cmd.OutOrStdout(), data)
}

// promDuration renders d in Prometheus range syntax using whole minutes.
func promDuration(d time.Duration) string {
	m := int64(d / time.Minute)
	if m < 1 {
		m = 1
	}
	if m%60 == 0 {
		return fmt.Sprintf("%dh", m/60)
	}
	return fmt.Sprintf("%dm", m)
}

const prometheusRuleTemplate = `apiVersion: monitoring.coreos.com/v1
kind: PrometheusRule
metadata:
  name: {{ .Name }}
{{- if .Namespace }}
  namespace: {{ .Namespace }}
{{- end }}
  labels:
    app.kubernetes.io/name: cspwatch
{{- range $k, $v := .Labels }}
    {{ $k }}: {{ $v }}
{{- end }}
spec:
  groups:
    - name: cspwatch.rules
      rules:
        - alert: CspwatchEvalDetected
          expr: cspwatch_eval_used == 1
          for: 0m
          labels:
            severity: critical
          annotations:
            summary: "Audited page uses eval() or Function()"
            description: "The last cspwatch audit observed dynamic evaluation; the page needs 'unsafe-eval' in script-src."
        - alert: CspwatchCriticalViolations
          expr: cspwatch_violations{severity="critical"} > 0
          for: 0m
          labels:
            severity: critical
          annotations:
            summary: "CSP rule violations: {{"{{"}} $value {{"}}"}} critical"
            description: "The last cspwatch audit failed {{"{{"}} $value {{"}}"}} critical rules."
        - alert: CspwatchWarnViolations
          expr: cspwatch_violations{severity="warn"} > 0
          for: 30m
          labels:
            severity: warning
          annotations:
            summary: "CSP rule violations: {{"{{"}} $value {{"}}"}} warnings"
            description: "cspwatch audits have reported warnings for 30 minutes."
        - alert: CspwatchPartialAudits
          expr: increase(cspwatch_audits_total{outcome="partial"}[15m]) > 0
          for: 15m
          labels:
            severity: warning
          annotations:
            summary: "cspwatch audits are finishing with partial data"
            description: "Settle windows are being cut short; recommended policies may miss runtime sources."
        - alert: CspwatchAuditsStale
          expr: increase(cspwatch_audits_total[{{ .StaleAfter }}]) == 0
          for: 5m
          labels:
            severity: warning
          annotations:
            summary: "No cspwatch audit completed in {{ .StaleAfter }}"
            description: "cspwatch serve has not finished an audit in {{ .StaleAfter }}; check the watch list and fetch errors."
`
