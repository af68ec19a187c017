package app

import (
	"fmt"

	"gopkg.in/alecthomas/kingpin.v2"
)

var AppName = "news-operator"
var AppDescription = "Run a workflow on schedule or on demand: provision dependencies, then execute a program with injected secrets."

var Version = "dev"

var AppStartMessage = ""

var WorkflowPath = "/workflow/workflow.yaml"
var TempDir = "/tmp/news-operator"
var ListenAddress = "0.0.0.0"
var ListenPort = "9115"

var PrometheusMetricsPrefix = "news_operator_"

// WatchWorkflow enables reloading of the workflow file on change.
var WatchWorkflow = true

// RunHistorySize is a number of finished runs kept in memory.
var RunHistorySize = 100

// Manual dispatch rate limiter settings.
var (
	DispatchRateLimit float64 = 1
	DispatchBurst             = 3
)

// DispatchToken is a bearer token for dispatch over the HTTP API. Empty disables the check.
var DispatchToken = ""

// DefineAppFlags set news-operator flags for cmd
func DefineAppFlags(cmd *kingpin.CmdClause) {
	DefineWorkflowFlag(cmd)

	cmd.Flag("tmp-dir", "A path to store run working directories and lock files. Can be set with $NEWS_OPERATOR_TMP_DIR.").
		Envar("NEWS_OPERATOR_TMP_DIR").
		Default(TempDir).
		StringVar(&TempDir)

	cmd.Flag("listen-address", "Address to serve API and metrics. Can be set with $NEWS_OPERATOR_LISTEN_ADDRESS.").
		Envar("NEWS_OPERATOR_LISTEN_ADDRESS").
		Default(ListenAddress).
		StringVar(&ListenAddress)
	cmd.Flag("listen-port", "Port to serve API and metrics. Can be set with $NEWS_OPERATOR_LISTEN_PORT.").
		Envar("NEWS_OPERATOR_LISTEN_PORT").
		Default(ListenPort).
		StringVar(&ListenPort)

	cmd.Flag("prometheus-metrics-prefix", "Prefix for Prometheus metrics. Can be set with $NEWS_OPERATOR_PROMETHEUS_METRICS_PREFIX.").
		Envar("NEWS_OPERATOR_PROMETHEUS_METRICS_PREFIX").
		Default(PrometheusMetricsPrefix).
		StringVar(&PrometheusMetricsPrefix)

	cmd.Flag("watch-workflow", "Reload the workflow file when it changes. Can be set with $NEWS_OPERATOR_WATCH_WORKFLOW.").
		Envar("NEWS_OPERATOR_WATCH_WORKFLOW").
		Default(fmt.Sprintf("%t", WatchWorkflow)).
		BoolVar(&WatchWorkflow)

	cmd.Flag("run-history-size", "How many finished runs to keep in memory. Can be set with $NEWS_OPERATOR_RUN_HISTORY_SIZE.").
		Envar("NEWS_OPERATOR_RUN_HISTORY_SIZE").
		Default(fmt.Sprintf("%d", RunHistorySize)).
		IntVar(&RunHistorySize)

	cmd.Flag("dispatch-rate-limit", "Allowed manual dispatches per second. Can be set with $NEWS_OPERATOR_DISPATCH_RATE_LIMIT.").
		Envar("NEWS_OPERATOR_DISPATCH_RATE_LIMIT").
		Default(fmt.Sprintf("%g", DispatchRateLimit)).
		Float64Var(&DispatchRateLimit)
	cmd.Flag("dispatch-burst", "Burst for manual dispatches. Can be set with $NEWS_OPERATOR_DISPATCH_BURST.").
		Envar("NEWS_OPERATOR_DISPATCH_BURST").
		Default(fmt.Sprintf("%d", DispatchBurst)).
		IntVar(&DispatchBurst)
	cmd.Flag("dispatch-token", "Bearer token required by POST /api/v1/dispatch. Can be set with $NEWS_OPERATOR_DISPATCH_TOKEN.").
		Envar("NEWS_OPERATOR_DISPATCH_TOKEN").
		Default(DispatchToken).
		StringVar(&DispatchToken)
}

// DefineWorkflowFlag is shared by start, run and workflow commands.
func DefineWorkflowFlag(cmd *kingpin.CmdClause) {
	cmd.Flag("workflow", "A path to the workflow definition file. Can be set with $NEWS_OPERATOR_WORKFLOW.").
		Short('f').
		Envar("NEWS_OPERATOR_WORKFLOW").
		Default(WorkflowPath).
		StringVar(&WorkflowPath)
}

func OperatorUsageTemplate(appName string) string {
	return kingpin.DefaultUsageTemplate + fmt.Sprintf(`

Use "%s debug-options" for a list of debug options for start command.
`, appName)
}

// CommandWithDefaultUsageTemplate is used to workaround an absence of per-command usage templates
func CommandWithDefaultUsageTemplate(kpApp *kingpin.Application, name, help string) *kingpin.CmdClause {
	return kpApp.Command(name, help).PreAction(func(_ *kingpin.ParseContext) error {
		kpApp.UsageTemplate(kingpin.DefaultUsageTemplate)
		return nil
	})
}
