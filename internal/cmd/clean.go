package cmd

import (
	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Release stale locks and push the result",
	Long: `Evaluate every claimed lock in the configured pools, move the stale ones
back to unclaimed, and publish all moves as a single commit.

A lock is released when its owning build has terminated, or when the build
cannot be checked and the claim is older than the pool's timeout. If the push
is rejected because the remote moved on, nothing is retried; the next run
starts from a fresh clone.`,
	Args: cobra.NoArgs,
	RunE: runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	return runOnce(cmd, false)
}
