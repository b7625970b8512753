//go:build windows

package worker

import (
	"context"
	"os"
	"os/signal"
)

// HandleSignals shuts the worker down on interrupt until ctx is done or the
// returned stop function is called.
func HandleSignals(ctx context.Context, w *Worker) (stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-ctx.Done():
		case sig := <-sigs:
			w.logger.Info().Str("signal", sig.String()).Msg("Received signal")
			w.ShutdownNow()
		}
	}()

	return func() {
		signal.Stop(sigs)
		cancel()
		<-done
	}
}
