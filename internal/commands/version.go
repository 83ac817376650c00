package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "awsscreener %s (commit %s, built %s)\n", orDev(version), orDev(commit), orDev(date))
	},
}

func orDev(s string) string {
	if s == "" {
		return "dev"
	}
	return s
}
