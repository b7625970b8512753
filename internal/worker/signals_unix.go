//go:build !windows

package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// HandleSignals maps process signals onto worker controls until ctx is done
// or the returned stop function is called:
//
//	TERM, INT  ShutdownNow
//	QUIT       Shutdown
//	USR1       KillChild
//	USR2       Pause
//	CONT       Resume
//	PIPE       Reconnect
func HandleSignals(ctx context.Context, w *Worker) (stop func()) {
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs,
		syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT,
		syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGCONT, syscall.SIGPIPE,
	)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigs:
				w.logger.Info().Str("signal", sig.String()).Msg("Received signal")
				dispatchSignal(ctx, w, sig)
			}
		}
	}()

	w.logger.Debug().Msg("Registered signals")
	return func() {
		signal.Stop(sigs)
		cancel()
		<-done
	}
}

func dispatchSignal(ctx context.Context, w *Worker, sig os.Signal) {
	switch sig {
	case syscall.SIGTERM, syscall.SIGINT:
		w.ShutdownNow()
	case syscall.SIGQUIT:
		w.Shutdown()
	case syscall.SIGUSR1:
		w.KillChild()
	case syscall.SIGUSR2:
		w.Pause()
	case syscall.SIGCONT:
		w.Resume()
	case syscall.SIGPIPE:
		if err := w.Reconnect(ctx); err != nil {
			w.logger.Error().Err(err).Msg("Failed to reconnect")
		}
	}
}
