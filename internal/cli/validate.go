package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/cspwatch/internal/config"
	"github.com/ppiankov/cspwatch/internal/rules"
)

var validateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate a cspwatch config file and rule file",
	Long: `Load and validate a cspwatch YAML config file and/or a rule file without
auditing anything.

Checks for YAML syntax errors, out-of-range durations, unknown hash
algorithms, unknown rule types and invalid severities.
Exits 0 on success, 1 on validation failure.`,
	Example: `  cspwatch validate /etc/cspwatch/config.yaml
  cspwatch validate --rules csp-rules.yaml
  cspwatch validate config.yaml --rules csp-rules.yaml && echo "OK"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().String("rules", "", "Path to YAML rule file")
}

func runValidate(cmd *cobra.Command, args []string) error {
	rulesPath, _ := cmd.Flags().GetString("rules") //nolint:errcheck // flag registered above
	if len(args) == 0 && rulesPath == "" {
		return errors.New("nothing to validate: pass a config file and/or --rules")
	}

	fail := func(err error) error {
		cmd.PrintErrln(err)
		cmd.SilenceUsage = true
		cmd.SilenceErrors = true
		return fmt.Errorf("validation failed")
	}

	if len(args) == 1 {
		cfg, err := config.Load(args[0])
		if err != nil {
			return fail(err)
		}
		cmd.Println("config OK")
		if rulesPath == "" {
			rulesPath = cfg.RulesPath
		}
	}
	if rulesPath != "" {
		rs, err := rules.LoadFromFile(rulesPath)
		if err != nil {
			return fail(err)
		}
		cmd.Printf("rules OK (%s: %d rules)\n", rs.Name, len(rs.Spec.Rules))
	}
	return nil
}
