// cmd/failed.go
package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/resque/internal/status"
)

var (
	failedOffset    int
	failedLimit     int
	failedBacktrace bool
)

var failedCmd = &cobra.Command{
	Use:   "failed",
	Short: "List failed jobs",
	Long: `Pages through the failure records kept by the configured failure backend,
oldest first.`,
	Example: `  resque failed
  resque failed --offset 20 --limit 20 --backtrace
  resque failed --failure-backend sqlite --failure-dsn failures.db -o yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openResque(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		page, err := status.NewCollector(s.r).Failures(ctx, failedOffset, failedLimit)
		if err != nil {
			return err
		}
		if done, err := printStructured(cmd.OutOrStdout(), page); done {
			return err
		}
		printFailures(cmd.OutOrStdout(), page, failedBacktrace)
		return nil
	},
}

func printFailures(out io.Writer, page *status.FailedList, backtrace bool) {
	headerColor.Fprintf(out, "--- %d failed job(s) ---\n", page.Total)
	for i, rec := range page.Failures {
		fmt.Fprintf(out, "\n%s %s\n", labelColor.Sprintf("#%d", page.Offset+i+1), badColor.Sprintf("%s: %s", rec.Exception, rec.Error))
		fmt.Fprintf(out, "  %s %s on %s\n", labelColor.Sprint("Job:"), rec.Payload.Class, rec.Queue)
		if rec.Payload.ID != "" {
			fmt.Fprintf(out, "  %s %s\n", labelColor.Sprint("ID:"), rec.Payload.ID)
		}
		fmt.Fprintf(out, "  %s %s\n", labelColor.Sprint("Worker:"), rec.Worker)
		fmt.Fprintf(out, "  %s %s\n", labelColor.Sprint("At:"), rec.FailedAt)
		if backtrace && len(rec.Backtrace) > 0 {
			fmt.Fprintf(out, "  %s\n    %s\n", labelColor.Sprint("Backtrace:"), strings.Join(rec.Backtrace, "\n    "))
		}
	}
}

func init() {
	rootCmd.AddCommand(failedCmd)
	failedCmd.Flags().IntVar(&failedOffset, "offset", 0, "skip this many records")
	failedCmd.Flags().IntVar(&failedLimit, "limit", 20, "show at most this many records")
	failedCmd.Flags().BoolVar(&failedBacktrace, "backtrace", false, "include backtraces")
}
