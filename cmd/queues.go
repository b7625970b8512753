// cmd/queues.go
package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/resque/internal/status"
)

var queuesCmd = &cobra.Command{
	Use:     "queues",
	Aliases: []string{"q"},
	Short:   "List known queues and their sizes",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openResque(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		infos, err := status.NewCollector(s.r).Queues(ctx)
		if err != nil {
			return err
		}
		if done, err := printStructured(cmd.OutOrStdout(), infos); done {
			return err
		}

		if len(infos) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No queues.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintf(w, "%s\t%s\n", labelColor.Sprint("QUEUE"), labelColor.Sprint("PENDING"))
		for _, q := range infos {
			fmt.Fprintf(w, "%s\t%d\n", q.Name, q.Pending)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queuesCmd)
}
