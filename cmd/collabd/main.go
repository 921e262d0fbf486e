// Command collabd serves the collaborative editing core over HTTP.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "collabd",
	Short:         "collabd - collaborative document consistency service",
	Long:          `collabd runs live operational transformation, the branch and version graph, and merge requests for chronicle documents.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
