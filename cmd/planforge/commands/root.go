// Package commands implements the planforge CLI commands using cobra.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   "planforge",
	Short: "Plan lifecycle orchestration engine",
	Long: `Planforge drives implementation plans through a fixed phase sequence:
init, refine, outline, plan, execute, verify, finalize.

Each phase delegates its work to configured executor commands; plan state
is persisted after every step so an interrupted run resumes exactly where
it stopped. Configure domains and capabilities in planforge.yaml.`,
	Version: Version,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file path (default: planforge.yaml, then global)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose output")
}
