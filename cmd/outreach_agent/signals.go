package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

type stopper interface {
	Stop()
}

// watchSignals asks the run to stop on the first SIGINT or SIGTERM and cancels ctx on the
// second. The returned function unregisters the handler.
func watchSignals(run stopper, cancel context.CancelFunc, logger *zap.Logger) func() {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		received := 0
		for {
			select {
			case <-done:
				return
			case sig := <-sigs:
				received++
				if received == 1 {
					logger.Warn("cli: stop requested, finishing companies in flight (signal again to abort)",
						zap.String("signal", sig.String()))
					run.Stop()
					continue
				}
				logger.Warn("cli: aborting run", zap.String("signal", sig.String()))
				cancel()
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}
