package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/cspwatch/internal/monitor"
	"github.com/ppiankov/cspwatch/internal/report"
	"github.com/ppiankov/cspwatch/internal/runner"
)

var auditCmd = &cobra.Command{
	Use:   "audit <url|file>",
	Short: "Audit a page and print the recommended policy",
	Long: `Load a page, scan its resources, collect runtime activity during the
settle window and print the recommended Content-Security-Policy.

Local files need --base-url so relative references resolve against the
origin the page will be served from. Runtime activity can be supplied as a
HAR export (--har) or a JSON-lines activity log (--activity); it is replayed
through the same instrumentation a live page would use.

Interrupting the settle window (Ctrl-C) still prints the policy collected so
far, marked as partial.`,
	Example: `  # Audit a live page
  cspwatch audit https://example.com/

  # Audit a local build with the XHR traffic recorded in the browser
  cspwatch audit dist/index.html --base-url https://example.com/ --har session.har

  # Header value only, ready for a server config
  cspwatch audit https://example.com/ -o header

  # Self-contained HTML report
  cspwatch audit https://example.com/ -o html --output-file csp-report.html`,
	Args: cobra.ExactArgs(1),
	RunE: runAuditCmd,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	addAuditFlags(auditCmd)
	auditCmd.Flags().StringP("output", "o", "text", "Output format: text, json, csv, header, html")
	auditCmd.Flags().String("output-file", "", "Write output to file (default: stdout)")
}

func runAuditCmd(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("output") //nolint:errcheck // flag registered above
	if !validFormat(format) {
		return fmt.Errorf("invalid --output value %q: must be text, json, csv, header or html", format)
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := runAudit(ctx, cmd, args[0], cfg)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := writeResult(&buf, format, res); err != nil {
		return err
	}

	outputFile, _ := cmd.Flags().GetString("output-file") //nolint:errcheck // flag registered above
	if outputFile != "" {
		if err := os.WriteFile(outputFile, buf.Bytes(), 0o644); err != nil { //nolint:gosec // report is not sensitive
			return fmt.Errorf("writing output: %w", err)
		}
		cmd.PrintErrf("Report written to %s\n", outputFile)
		return nil
	}
	_, err = cmd.OutOrStdout().Write(buf.Bytes())
	return err
}

func validFormat(f string) bool {
	switch f {
	case "text", "json", "csv", "header", "html":
		return true
	default:
		return false
	}
}

func writeResult(w io.Writer, format string, res *runner.Result) error {
	p := res.Policy
	switch format {
	case "json":
		return monitor.WriteJSON(w, p, res.Violations, res.ExitCode)
	case "csv":
		return report.WriteCSV(w, p)
	case "header":
		_, err := fmt.Fprintf(w, "%s: %s\nReport-To: %s\n", p.HeaderName(), p.Header(), p.Reporting.ReportTo())
		return err
	case "html":
		html, err := report.Generate(p, res.Violations)
		if err != nil {
			return fmt.Errorf("generating report: %w", err)
		}
		_, err = w.Write(html)
		return err
	default:
		return report.WriteText(w, p, res.Violations)
	}
}
