// cmd/perform.go
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/resque/internal/worker"
)

// performCmd is the child side of the fork strategies: it reads one job
// from stdin and runs it.
var performCmd = &cobra.Command{
	Use:    "perform",
	Short:  "Run a single job read from stdin",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openResque(ctx)
		if err != nil {
			return err
		}
		defer s.Close()
		return worker.RunChild(ctx, s.r, os.Stdin)
	},
}

func init() {
	rootCmd.AddCommand(performCmd)
}
