package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "contest",
	Short: "Weekly crypto price prediction contest",
	Long: `contest runs the weekly price prediction game: a submission window that opens and
closes on a schedule, settlement against spot prices, and per-user accuracy stats.

Configuration is read from $PC_CONFIG (default config/config.yaml); set PC_ENV_ONLY=1
to configure from PC_* environment variables only.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, openCmd, closeCmd, settleCmd, statsCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
