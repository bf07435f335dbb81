package cli

import (
	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for cspwatch.

To load completions:

Bash:
  $ source <(cspwatch completion bash)
  # Or persist across sessions:
  $ cspwatch completion bash > /etc/bash_completion.d/cspwatch

Zsh:
  $ source <(cspwatch completion zsh)
  # Or persist:
  $ cspwatch completion zsh > "${fpath[1]}/_cspwatch"

Fish:
  $ cspwatch completion fish | source
  # Or persist:
  $ cspwatch completion fish > ~/.config/fish/completions/cspwatch.fish

PowerShell:
  PS> cspwatch completion powershell | Out-String | Invoke-Expression`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletionV2(cmd.OutOrStdout(), true)
		case "zsh":
			return cmd.Root().GenZshCompletion(cmd.OutOrStdout())
		case "fish":
			return cmd.Root().GenFishCompletion(cmd.OutOrStdout(), true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(cmd.OutOrStdout())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
