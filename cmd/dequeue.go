// cmd/dequeue.go
package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/resque/internal/resque"
)

var (
	dequeueID     string
	dequeueArgs   string
	dequeueAll    bool
	dequeueRemove bool
)

var dequeueCmd = &cobra.Command{
	Use:   "dequeue QUEUE [CLASS]",
	Short: "Remove pending jobs from a queue",
	Long: `Removes pending jobs from a queue and prints how many were removed.

With a CLASS, only jobs of that class are removed, optionally narrowed to one
job id or to jobs with exactly the given arguments. Without a CLASS, --all is
required and every pending job is removed.`,
	Example: `  resque dequeue default Echo
  resque dequeue default Echo --id 3f1c...
  resque dequeue default Sleep --args '{"seconds": 5}'
  resque dequeue default --all
  resque dequeue old --all --remove-queue`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		queue := args[0]

		var matchers []resque.Matcher
		if len(args) == 2 {
			m := resque.MatchClass(args[1])
			m.ID = dequeueID
			if dequeueArgs != "" {
				parsed, err := parseArgsJSON(dequeueArgs)
				if err != nil {
					return err
				}
				m.Args = parsed
			}
			matchers = append(matchers, m)
		} else {
			if !dequeueAll {
				return errors.New("refusing to empty the queue without --all")
			}
			if dequeueID != "" || dequeueArgs != "" {
				return errors.New("--id and --args need a CLASS")
			}
		}

		s, err := openResque(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		var n int64
		if dequeueRemove && len(matchers) == 0 {
			n, err = s.r.RemoveQueue(ctx, queue)
		} else {
			n, err = s.r.Dequeue(ctx, queue, matchers...)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d job(s) from %s\n", n, queue)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dequeueCmd)
	dequeueCmd.Flags().StringVar(&dequeueID, "id", "", "only remove the job with this id")
	dequeueCmd.Flags().StringVar(&dequeueArgs, "args", "", "only remove jobs with exactly these arguments (JSON object)")
	dequeueCmd.Flags().BoolVar(&dequeueAll, "all", false, "remove every pending job when no CLASS is given")
	dequeueCmd.Flags().BoolVar(&dequeueRemove, "remove-queue", false, "with --all, also forget the queue")
}
