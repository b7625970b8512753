// cmd/version.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/resque/internal/remote"
)

// Version will be set at build time
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of resque",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "resque version %s (remote protocol %s)\n", Version, remote.ProtocolVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
