package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/ppiankov/cspwatch/internal/monitor"
)

var nowCmd = &cobra.Command{
	Use:   "now <url|file>",
	Short: "Audit a page and browse the policy in a TUI",
	Long: `Audit a page, then browse every directive, source and the elements or
calls that justified it in an interactive table.

When stdout is not a terminal the table is printed as plain text instead.

Exit codes:
  0  No violations
  1  Warnings exist
  2  Critical violations (eval)
  3  The settle window was interrupted`,
	Args: cobra.ExactArgs(1),
	RunE: runNow,
}

func init() {
	rootCmd.AddCommand(nowCmd)
	addAuditFlags(nowCmd)
}

func runNow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	res, err := runAudit(ctx, cmd, args[0], cfg)
	stop()
	if err != nil {
		return err
	}

	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		fmt.Fprint(cmd.OutOrStdout(), monitor.PlainText(res.Policy, res.Violations))
	} else {
		m := monitor.NewModel(res.Policy, res.Violations)
		if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
			return fmt.Errorf("running TUI: %w", err)
		}
	}

	if res.ExitCode != 0 {
		os.Exit(res.ExitCode)
	}
	return nil
}
