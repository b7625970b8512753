// cmd/workers.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/resque/internal/resque"
	"github.com/aceteam-ai/resque/internal/status"
	"github.com/aceteam-ai/resque/internal/worker"
)

var workersPrune bool

var workersCmd = &cobra.Command{
	Use:     "workers",
	Aliases: []string{"w"},
	Short:   "List registered workers and what they are doing",
	Example: `  resque workers
  resque workers --prune
  resque workers -o json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openResque(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if workersPrune {
			if err := pruneWorkers(ctx, s.r); err != nil {
				return err
			}
		}

		infos, err := status.NewCollector(s.r).Workers(ctx)
		if err != nil {
			return err
		}
		if done, err := printStructured(cmd.OutOrStdout(), infos); done {
			return err
		}
		printWorkers(cmd.OutOrStdout(), infos)
		return nil
	},
}

// pruneWorkers unregisters workers of this host whose process is gone.
func pruneWorkers(ctx context.Context, r *resque.Resque) error {
	w, err := worker.New(r, worker.Config{Queues: []string{"*"}, Logger: logger})
	if err != nil {
		return err
	}
	return w.PruneDeadWorkers(ctx)
}

func printWorkers(out io.Writer, infos []status.WorkerInfo) {
	if len(infos) == 0 {
		fmt.Fprintln(out, "No workers registered.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
		labelColor.Sprint("WORKER"), labelColor.Sprint("QUEUES"), labelColor.Sprint("PROCESSED"),
		labelColor.Sprint("FAILED"), labelColor.Sprint("STATUS"))
	for _, info := range infos {
		state := warnColor.Sprint("idle")
		if info.Job != nil {
			state = goodColor.Sprintf("working on %s from %s since %s", info.Job.Class, info.Job.Queue, info.Job.RunAt)
		}
		fmt.Fprintf(w, "%s:%d\t%s\t%d\t%d\t%s\n",
			info.Host, info.Pid, strings.Join(info.Queues, ","), info.Processed, info.Failed, state)
	}
}

func init() {
	rootCmd.AddCommand(workersCmd)
	workersCmd.Flags().BoolVar(&workersPrune, "prune", false, "first unregister workers on this host whose process is gone")
}
