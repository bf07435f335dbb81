package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/cspwatch/internal/monitor"
	"github.com/ppiankov/cspwatch/internal/rules"
	"github.com/ppiankov/cspwatch/internal/runner"
)

var checkCmd = &cobra.Command{
	Use:   "check <url|file>",
	Short: "CI/CD gate: audit and exit non-zero on rule violations",
	Long: `Audit a page, evaluate the built-in rules and an optional rule file
against the recommended policy, then exit with a code based on the
violations. Designed for CI/CD pipelines: no TUI, just
audit → evaluate → exit code.

Built-in rules: no-eval (critical), no-unsafe-inline (warn),
no-data-uri (info). Rule files add noUnsafeInline, noEval, noDataURI,
maxOrigins, allowedOrigins and requireNonce rules.

Exit codes:
  0  No violations (or below --max-severity threshold)
  1  Warnings at or above --max-severity threshold
  2  Critical violations
  3  The page could not be loaded or the settle window was interrupted`,
	Example: `  # Fail on critical violations (eval)
  cspwatch check https://example.com/

  # Fail on warnings too
  cspwatch check https://example.com/ --max-severity warn

  # Use a rule file
  cspwatch check https://example.com/ --rules csp-rules.yaml

  # JSON output for pipeline parsing
  cspwatch check https://example.com/ -o json

  # GitHub Actions example
  # - name: CSP check
  #   run: cspwatch check dist/index.html --base-url https://example.com/ --rules csp-rules.yaml --max-severity warn`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	addAuditFlags(checkCmd)
	checkCmd.Flags().String("rules", "", "Path to YAML rule file (overrides config)")
	checkCmd.Flags().String("max-severity", "critical", "Fail threshold: info, warn, or critical")
	checkCmd.Flags().StringP("output", "o", "", "Output format: json, table (default: table)")
	checkCmd.Flags().BoolP("quiet", "q", false, "Suppress output, exit code only")
}

func runCheck(cmd *cobra.Command, args []string) error {
	maxSevStr, _ := cmd.Flags().GetString("max-severity") //nolint:errcheck // flag registered above
	maxSev, err := parseSeverity(maxSevStr)
	if err != nil {
		return err
	}
	outputFlag, _ := cmd.Flags().GetString("output") //nolint:errcheck // flag registered above
	quiet, _ := cmd.Flags().GetBool("quiet")         //nolint:errcheck // flag registered above
	if outputFlag != "" && outputFlag != "json" && outputFlag != "table" {
		return fmt.Errorf("invalid --output value %q: must be json or table", outputFlag)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if p, _ := cmd.Flags().GetString("rules"); p != "" { //nolint:errcheck // flag registered above
		cfg.RulesPath = p
	}
	sets, err := loadRuleSets(cfg.RulesPath)
	if err != nil {
		return err
	}

	res, err := runAudit(context.Background(), cmd, args[0], cfg, runner.WithRuleSets(sets...))
	if err != nil {
		slog.Error("audit failed", "target", args[0], "err", err)
		os.Exit(3) //nolint:gocritic // load errors map to exit code 3
	}

	// Calculate exit code with max-severity threshold
	exitCode := checkExitCode(res, maxSev)

	if !quiet {
		switch outputFlag {
		case "json":
			if err := monitor.WriteJSON(cmd.OutOrStdout(), res.Policy, res.Violations, exitCode); err != nil {
				return fmt.Errorf("writing JSON output: %w", err)
			}
		default:
			fmt.Fprint(cmd.OutOrStdout(), monitor.PlainText(res.Policy, res.Violations))
		}
	}

	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return nil
}

// checkExitCode returns an exit code based on violations and a severity
// threshold. Violations at or above maxSev cause a non-zero exit.
func checkExitCode(res *runner.Result, maxSev rules.Severity) int {
	if res.Policy == nil || res.Policy.Partial {
		return 3
	}

	code := 0
	for i := range res.Violations {
		sev := res.Violations[i].Severity
		if !meetsThreshold(sev, maxSev) {
			continue
		}
		if sev == rules.SeverityCritical {
			return 2
		}
		if code < 1 {
			code = 1
		}
	}
	return code
}

// meetsThreshold returns true if the violation severity is at or above the threshold.
func meetsThreshold(sev, threshold rules.Severity) bool {
	return sevRank(sev) >= sevRank(threshold)
}

func sevRank(s rules.Severity) int {
	switch s {
	case rules.SeverityCritical:
		return 3
	case rules.SeverityWarn:
		return 2
	case rules.SeverityInfo:
		return 1
	default:
		return 0
	}
}

func parseSeverity(s string) (rules.Severity, error) {
	switch s {
	case "info":
		return rules.SeverityInfo, nil
	case "warn":
		return rules.SeverityWarn, nil
	case "critical":
		return rules.SeverityCritical, nil
	default:
		return "", fmt.Errorf("invalid --max-severity %q: must be info, warn, or critical", s)
	}
}
