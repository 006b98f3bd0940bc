package cmd

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which claimed locks would be released",
	Long: `Evaluate every claimed lock in the configured pools and report the
decision for each one, without moving anything or pushing to the remote.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	return runOnce(cmd, true)
}
