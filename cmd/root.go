package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chargerules",
	Short: "chargerules - billing rule execution engine",
	Long: `chargerules runs charge-entry billing rules against patient appointments.

Given a set of patient/appointment records and a set of business rules, it
checks each rule's preconditions against the remote health-records system,
applies or rolls back billing modifiers, tracks per-rule progress for
long-running batches, and persists idempotent run results.

Example:
  chargerules serve
  chargerules run --patients patients.json --rules 21,22 --add-modifiers`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./chargerules.yaml, ~/.config/chargerules/chargerules.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.SetVersionTemplate("chargerules version {{.Version}}\n")
}
