package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
)

// handleSignals listens for OS signals to cancel the context
func handleSignals(ctx context.Context, cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logrus.WithField("signal", sig.String()).Info("Received signal, shutting down")
		cancel()
	case <-ctx.Done():
	}
}

// logErrors logs handler errors until done is closed, then logs whatever is
// left in errChan.
func logErrors(done <-chan struct{}, errChan <-chan error) {
	log := logrus.WithField("component", "start")
	for {
		select {
		case err := <-errChan:
			log.WithError(err).Warn("Handler error")
		case <-done:
			for {
				select {
				case err := <-errChan:
					log.WithError(err).Warn("Handler error")
				default:
					return
				}
			}
		}
	}
}
