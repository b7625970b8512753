// cmd/stats.go
package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/resque/internal/status"
)

var statsHost bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show processed, failed and pending counts",
	Long: `Shows the global job counters, how many jobs are waiting and how many
workers are registered and busy. With --host, CPU, memory and disk usage of
this machine are included.`,
	Example: `  resque stats
  resque stats --host
  resque stats -o yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openResque(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		collector := status.NewCollector(s.r)
		st, err := collector.Stats(ctx)
		if err != nil {
			return err
		}
		if statsHost {
			st.Host = collector.Host(ctx)
		}

		if done, err := printStructured(cmd.OutOrStdout(), st); done {
			return err
		}
		printStats(cmd.OutOrStdout(), st)
		return nil
	},
}

func printStats(out io.Writer, st *status.Stats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	headerColor.Fprintln(w, "--- Resque Stats ---")
	fmt.Fprintf(w, "  %s:\t%d\n", labelColor.Sprint("Processed"), st.Processed)
	failed := fmt.Sprint(st.Failed)
	if st.Failed > 0 {
		failed = badColor.Sprint(failed)
	}
	fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Failed"), failed)
	fmt.Fprintf(w, "  %s:\t%d\n", labelColor.Sprint("Pending"), st.Pending)
	fmt.Fprintf(w, "  %s:\t%d\n", labelColor.Sprint("Queues"), st.Queues)
	fmt.Fprintf(w, "  %s:\t%d\n", labelColor.Sprint("Workers"), st.Workers)
	fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Working"), goodColor.Sprint(st.Working))

	if h := st.Host; h != nil {
		headerColor.Fprintf(w, "\nSYSTEM VITALS (%s)\n", h.Hostname)
		fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("CPU Usage"), colorizePercent(h.CPUPercent))
		fmt.Fprintf(w, "  %s:\t%s (%s / %s)\n", labelColor.Sprint("Memory"), colorizePercent(h.MemPercent), formatBytes(h.MemUsed), formatBytes(h.MemTotal))
		fmt.Fprintf(w, "  %s:\t%s (%s / %s)\n", labelColor.Sprint("Disk (/)"), colorizePercent(h.DiskPercent), formatBytes(h.DiskUsed), formatBytes(h.DiskTotal))
	}
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().BoolVar(&statsHost, "host", false, "include CPU, memory and disk usage of this machine")
}
