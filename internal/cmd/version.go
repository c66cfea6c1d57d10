package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("geowarp %s (commit %s, built %s)\n",
			orDev(versionInfo.Version), orDev(versionInfo.Commit), orDev(versionInfo.BuildDate))
	},
}

func orDev(v string) string {
	if v == "" {
		return "dev"
	}
	return v
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
