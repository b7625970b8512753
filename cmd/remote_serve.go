// cmd/remote_serve.go
package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/resque/internal/remote"
	"github.com/aceteam-ai/resque/internal/worker"
)

var remoteServeCmd = &cobra.Command{
	Use:   "remote-serve",
	Short: "Execute jobs sent by workers using the remote strategy",
	Long: `Listens for websocket connections from workers started with
--strategy remote and runs each job they send with the registered handlers.
Job outcomes are reported back to the worker, which records them.`,
	Example: `  # Serve on the default address
  resque remote-serve

  # Serve on all interfaces
  resque remote-serve --listen :9300`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := openResque(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		srv := remote.NewServer(worker.Executor(s.r), remote.ServerConfig{
			Name:   "resque " + Version,
			Logger: logger,
		})
		return srv.ListenAndServe(ctx, cfg.Remote.Listen)
	},
}

func init() {
	rootCmd.AddCommand(remoteServeCmd)
	remoteServeCmd.Flags().String("listen", "", "address to listen on (default 127.0.0.1:9300)")
}
