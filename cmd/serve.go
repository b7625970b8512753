// cmd/serve.go
package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/resque/internal/status"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve queue and worker statistics over HTTP",
	Long: `Starts a read-only JSON API for dashboards and health checks.

Endpoints:
  GET /health    store reachability
  GET /stats     counters, queue depth and worker activity (?host=1 adds vitals)
  GET /queues    known queues with pending counts
  GET /workers   registered workers and their current jobs
  GET /failed    failure records (?offset=&limit=)`,
	Example: `  resque serve --port 8080`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := openResque(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		srv := status.NewServer(status.ServerConfig{
			Port:    servePort,
			Version: Version,
			Logger:  logger,
		}, status.NewCollector(s.r))
		return srv.Start(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "HTTP port")
}
