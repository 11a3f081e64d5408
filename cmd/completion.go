package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate completion script",
	Long: `Generate shell completion script for chargerules.

To load completions:

Bash:
  $ source <(chargerules completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ chargerules completion bash > /etc/bash_completion.d/chargerules
  # macOS:
  $ chargerules completion bash > $(brew --prefix)/etc/bash_completion.d/chargerules

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it.  You can execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ chargerules completion zsh > "${fpath[1]}/_chargerules"

  # For oh-my-zsh users:
  $ mkdir -p ~/.oh-my-zsh/custom/plugins/chargerules
  $ chargerules completion zsh > ~/.oh-my-zsh/custom/plugins/chargerules/_chargerules
  # Then add 'chargerules' to your plugins array in ~/.zshrc:
  # plugins=(... chargerules)

  # You will need to start a new shell for this setup to take effect.

Fish:
  $ chargerules completion fish | source

  # To load completions for each session, execute once:
  $ chargerules completion fish > ~/.config/fish/completions/chargerules.fish

PowerShell:
  PS> chargerules completion powershell | Out-String | Invoke-Expression

  # To load completions for every new session, run:
  PS> chargerules completion powershell > chargerules.ps1
  # and source this file from your PowerShell profile.
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	Run: func(cmd *cobra.Command, args []string) {
		switch args[0] {
		case "bash":
			cmd.Root().GenBashCompletion(os.Stdout)
		case "zsh":
			cmd.Root().GenZshCompletion(os.Stdout)
		case "fish":
			cmd.Root().GenFishCompletion(os.Stdout, true)
		case "powershell":
			cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
		}
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
