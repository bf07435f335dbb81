package rules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromFile_Valid(t *testing.T) {
	path := writeFile(t, `
name: ci-rules
spec:
  rules:
    - name: no-eval
      type: noEval
      severity: critical
    - name: few-origins
      type: maxOrigins
      params:
        max: "5"
`)
	rs, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}
	if rs.Name != "ci-rules" {
		t.Errorf("expected name %q, got %q", "ci-rules", rs.Name)
	}
	if len(rs.Spec.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rs.Spec.Rules))
	}
	if rs.Spec.Rules[1].Params["max"] != "5" {
		t.Errorf("expected max param %q, got %q", "5", rs.Spec.Rules[1].Params["max"])
	}
}

func TestLoadFromFile_NoName(t *testing.T) {
	path := writeFile(t, `
spec:
  rules:
    - name: nonce
      type: requireNonce
`)
	rs, err := LoadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if rs.Name != path {
		t.Errorf("expected name to default to path, got %q", rs.Name)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown type", "spec:\n  rules:\n    - name: x\n      type: noSHA1\n", "unknown type"},
		{"unknown severity", "spec:\n  rules:\n    - name: x\n      type: noEval\n      severity: fatal\n", "unknown severity"},
		{"bad yaml", "spec: [", "parsing rule file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeFile(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	if _, err := LoadFromFile("/nonexistent/rules.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
