package utils

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/deckhouse/deckhouse/pkg/log"
)

// WaitForProcessInterruption blocks until SIGINT or SIGTERM and calls cb if set.
func WaitForProcessInterruption(logger *log.Logger, cb ...func()) {
	interruptCh := make(chan os.Signal, 1)
	signal.Notify(interruptCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(interruptCh)

	sig := <-interruptCh
	logger.Info("Grace shutdown", slog.String("signal", sig.String()))
	for _, f := range cb {
		f()
	}
}
