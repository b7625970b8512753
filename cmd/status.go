// cmd/status.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/resque/internal/resque"
)

var statusStop bool

// JobStatus is the tracked state of one job.
type JobStatus struct {
	ID      string `json:"id" yaml:"id"`
	Tracked bool   `json:"tracked" yaml:"tracked"`
	State   string `json:"state,omitempty" yaml:"state,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:     "status JOB_ID",
	Aliases: []string{"st"},
	Short:   "Show the status of a tracked job",
	Long: `Shows the state of a job enqueued with --track: waiting, running, failed
or complete. Finished states are kept for a day.`,
	Example: `  resque status 3f1c0a9e6b7d4c2a8e5f1b3d7c9a2e4f

  # Stop tracking the job
  resque status 3f1c0a9e6b7d4c2a8e5f1b3d7c9a2e4f --stop`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openResque(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		st := s.r.Status(args[0])
		if statusStop {
			if err := st.Stop(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stopped tracking %s\n", args[0])
			return nil
		}

		state, ok, err := st.Get(ctx)
		if err != nil {
			return err
		}
		js := JobStatus{ID: args[0], Tracked: ok}
		if ok {
			js.State = state.String()
		}
		if done, err := printStructured(cmd.OutOrStdout(), js); done {
			return err
		}

		if !ok {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", js.ID, warnColor.Sprint("not tracked"))
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", js.ID, colorizeState(state))
		return nil
	},
}

func colorizeState(s resque.State) string {
	switch s {
	case resque.StateComplete:
		return goodColor.Sprint(s)
	case resque.StateFailed:
		return badColor.Sprint(s)
	default:
		return warnColor.Sprint(s)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusStop, "stop", false, "delete the status record")
}
