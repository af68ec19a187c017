package main

import (
	"fmt"
	"io"
	"os"

	"github.com/deckhouse/deckhouse/pkg/log"
	"gopkg.in/alecthomas/kingpin.v2"
	"k8s.io/klog/v2"

	"github.com/flant/news-operator/pkg/app"
	"github.com/flant/news-operator/pkg/debug"
	"github.com/flant/news-operator/pkg/jq"
)

func main() {
	// Environment values become flag defaults, so globals are set before flags are defined.
	cfg, err := app.GetConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", app.AppName, err)
		os.Exit(1)
	}
	cfg.SetupGlobalVars()

	kpApp := kingpin.New(app.AppName, fmt.Sprintf("%s %s: %s", app.AppName, app.Version, app.AppDescription))

	// override usage template to reveal additional commands with information about start command
	kpApp.UsageTemplate(app.OperatorUsageTemplate(app.AppName))

	// client-go messages are noisy, show them only on demand
	kpApp.Action(func(_ *kingpin.ParseContext) error {
		if !app.DebugKubernetesAPI {
			klog.LogToStderr(false)
			klog.SetOutput(io.Discard)
		}
		return nil
	})

	logger := log.NewLogger()

	// print version
	kpApp.Command("version", "Show version.").Action(func(_ *kingpin.ParseContext) error {
		fmt.Printf("%s %s\n", app.AppName, app.Version)
		fmt.Println(jq.Info())
		return nil
	})

	// start main loop
	startCmd := kpApp.Command("start", "Start news-operator: run the workflow on schedule and on manual dispatch.").
		Default().
		Action(start(logger))
	app.DefineStartCommandFlags(kpApp, startCmd)

	defineRunCommand(kpApp, logger)
	defineWorkflowCommands(kpApp)

	debug.DefineDebugCommands(kpApp)

	kingpin.MustParse(kpApp.Parse(os.Args[1:]))
}
