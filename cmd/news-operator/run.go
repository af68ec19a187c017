package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/deckhouse/deckhouse/pkg/log"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/flant/news-operator/pkg/app"
	news_operator "github.com/flant/news-operator/pkg/news-operator"
	"github.com/flant/news-operator/pkg/run"
)

// defineRunCommand adds a command to execute the workflow once, in foreground.
// The exit code is 0 only for a succeeded run.
func defineRunCommand(kpApp *kingpin.Application, logger *log.Logger) {
	var requester string

	runCmd := kpApp.Command("run", "Run the workflow once and exit with its result.").
		Action(func(_ *kingpin.ParseContext) error {
			// SIGINT and SIGTERM kill a running step, the run is recorded as failed.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := news_operator.NewNewsOperatorConfig(news_operator.WithLogger(logger.Named("news-operator")))
			rn, err := news_operator.RunOnce(ctx, cfg, requester)
			if err != nil {
				return err
			}

			snap := rn.Snapshot()
			fmt.Printf("run %s: %s\n", snap.ID, snap.Status)
			for _, step := range snap.Steps {
				fmt.Printf("  %s: %s (exit code %d) %s\n", step.Name, step.Status, step.ExitCode, step.Error)
			}
			if snap.Reason != "" {
				fmt.Printf("  reason: %s\n", snap.Reason)
			}

			if snap.Status != run.StatusSucceeded {
				os.Exit(1)
			}
			return nil
		})

	app.DefineRunCommandFlags(runCmd)
	runCmd.Flag("requester", "A name recorded as the trigger info of the run.").
		Default(defaultRequester()).
		StringVar(&requester)
}

func defaultRequester() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "cli"
}
