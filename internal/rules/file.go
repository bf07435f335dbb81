package rules

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// ruleFile is the YAML layout of a rule file.
type ruleFile struct {
	Name string      `json:"name"`
	Spec RuleSetSpec `json:"spec"`
}

// LoadFromFile reads a YAML rule file.
func LoadFromFile(path string) (RuleSet, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-provided rule file path
	if err != nil {
		return RuleSet{}, fmt.Errorf("reading rule file: %w", err)
	}

	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return RuleSet{}, fmt.Errorf("parsing rule file: %w", err)
	}

	name := rf.Name
	if name == "" {
		name = path
	}
	rs := RuleSet{Name: name, Spec: rf.Spec}
	if err := Validate(rs); err != nil {
		return RuleSet{}, fmt.Errorf("rule file %s: %w", path, err)
	}
	return rs, nil
}

var knownTypes = map[string]bool{
	TypeNoUnsafeInline: true,
	TypeNoEval:         true,
	TypeNoDataURI:      true,
	TypeMaxOrigins:     true,
	TypeAllowedOrigins: true,
	TypeRequireNonce:   true,
}

// Validate rejects unknown rule types and severities.
func Validate(rs RuleSet) error {
	for i := range rs.Spec.Rules {
		r := &rs.Spec.Rules[i]
		if !knownTypes[r.Type] {
			return fmt.Errorf("rule %q: unknown type %q", r.Name, r.Type)
		}
		switch Severity(r.Severity) {
		case "", SeverityInfo, SeverityWarn, SeverityCritical:
		default:
			return fmt.Errorf("rule %q: unknown severity %q", r.Name, r.Severity)
		}
	}
	return nil
}
