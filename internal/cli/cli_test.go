package cli

import (
	"bytes"
	"strings"
	"testing"
)

func execute(args ...string) (stdout, stderr string, err error) {
	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)
	cmd := rootCmd
	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return outBuf.String(), errBuf.String(), err
}

func TestRootCommand_Help(t *testing.T) {
	out, _, err := execute("--help")
	if err != nil {
		t.Fatalf("root --help failed: %v", err)
	}

	for _, want := range []string{"cspwatch", "audit", "check", "now", "serve", "validate", "alerts", "completion"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in help output", want)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	SetBuildInfo("test-v0.0.1", "abc123", "2026-01-01")
	defer SetBuildInfo("dev", "none", "unknown")

	out, _, err := execute("version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "cspwatch test-v0.0.1 (commit abc123") {
		t.Errorf("unexpected version output %q", out)
	}
}

func TestRootCommand_LogFlags(t *testing.T) {
	cmd := rootCmd

	logLevel := cmd.PersistentFlags().Lookup("log-level")
	if logLevel == nil {
		t.Fatal("expected --log-level persistent flag")
	}
	if logLevel.DefValue != "info" {
		t.Errorf("expected default log-level 'info', got %q", logLevel.DefValue)
	}

	logFormat := cmd.PersistentFlags().Lookup("log-format")
	if logFormat == nil {
		t.Fatal("expected --log-format persistent flag")
	}
	if logFormat.DefValue != "text" {
		t.Errorf("expected default log-format 'text', got %q", logFormat.DefValue)
	}

	if cmd.PersistentFlags().Lookup("otel-endpoint") == nil {
		t.Error("expected --otel-endpoint persistent flag")
	}
}

func TestAuditFlags(t *testing.T) {
	shared := []string{"config", "settle", "base-url", "har", "activity", "socks5", "hash", "report-only"}
	for _, name := range []string{"audit", "check", "now"} {
		c, _, err := rootCmd.Find([]string{name})
		if err != nil {
			t.Fatalf("failed to find %q command: %v", name, err)
		}
		for _, flag := range shared {
			if c.Flags().Lookup(flag) == nil {
				t.Errorf("expected --%s flag on %q command", flag, name)
			}
		}
	}
}

func TestCheckCommand_Flags(t *testing.T) {
	check, _, err := rootCmd.Find([]string{"check"})
	if err != nil {
		t.Fatalf("failed to find 'check' command: %v", err)
	}

	for _, name := range []string{"rules", "max-severity", "output", "quiet"} {
		if check.Flags().Lookup(name) == nil {
			t.Errorf("expected --%s flag on 'check' command", name)
		}
	}

	// Verify short flags
	if check.Flags().ShorthandLookup("o") == nil {
		t.Error("expected -o shorthand for --output")
	}
	if check.Flags().ShorthandLookup("q") == nil {
		t.Error("expected -q shorthand for --quiet")
	}

	if def := check.Flags().Lookup("max-severity").DefValue; def != "critical" {
		t.Errorf("expected default max-severity 'critical', got %q", def)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	serve, _, err := rootCmd.Find([]string{"serve"})
	if err != nil {
		t.Fatalf("failed to find 'serve' command: %v", err)
	}

	for _, name := range []string{"config", "listen", "watch", "rules"} {
		if serve.Flags().Lookup(name) == nil {
			t.Errorf("expected --%s flag on 'serve' command", name)
		}
	}
}
