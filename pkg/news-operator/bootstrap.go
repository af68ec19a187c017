package news_operator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/deckhouse/deckhouse/pkg/log"
	"golang.org/x/time/rate"

	"github.com/flant/news-operator/internal/metrics"
	"github.com/flant/news-operator/pkg/app"
	"github.com/flant/news-operator/pkg/config"
	"github.com/flant/news-operator/pkg/debug"
	"github.com/flant/news-operator/pkg/run"
	"github.com/flant/news-operator/pkg/runner"
	schedulemanager "github.com/flant/news-operator/pkg/schedule_manager"
	"github.com/flant/news-operator/pkg/secret"
	"github.com/flant/news-operator/pkg/task/queue"
	utils "github.com/flant/news-operator/pkg/utils/file"
	"github.com/flant/news-operator/pkg/workflow"
)

// NewNewsOperatorWithConfig creates a fully configured NewsOperator instance with all dependencies:
//
// - check the workflow file and the temp directory
// - start the debug server
// - initialize dependencies:
//   - metric storage and the http server for API
//   - secret store with a lazy Kubernetes client
//   - runner, run history and the task queue
//   - schedule manager and the workflow watcher
func NewNewsOperatorWithConfig(ctx context.Context, cfg *NewsOperatorConfig) (*NewsOperator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := cfg.Logger

	// Initialize runtime configuration and logging
	runtimeConfig := config.NewConfig(logger)
	app.SetupLogging(runtimeConfig, logger)

	logger.Info(app.AppStartMessage)

	wf, err := workflow.Load(cfg.WorkflowPath)
	if err != nil {
		return nil, fmt.Errorf("load workflow: %w", err)
	}
	logger.Info("workflow loaded",
		slog.String("workflow", wf.Name),
		slog.String("path", wf.Path),
		slog.String("checksum", wf.Checksum))

	tempDir, err := utils.EnsureTempDirectory(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("temp directory setup failed: %w", err)
	}

	op := NewNewsOperator(ctx, logger, cfg.MetricStorage,
		WithRuntimeConfig(runtimeConfig),
		WithHistory(run.NewHistory(cfg.RunHistorySize)),
		WithDispatchLimiter(rate.NewLimiter(rate.Limit(cfg.DispatchRateLimit), cfg.DispatchBurst)),
		WithDispatchToken(cfg.DispatchToken),
	)
	if cfg.DispatchToken == "" {
		op.logger.Warn("dispatch over HTTP API is not authenticated, set --dispatch-token to require a token",
			slog.String("address", cfg.ListenAddress))
	}

	debugServer, err := RunDefaultDebugServer(cfg.DebugUnixSocket, cfg.DebugHttpServerAddr, op.logger.Named("debug-server"))
	if err != nil {
		return nil, fmt.Errorf("failed to start debug server: %w", err)
	}
	op.DebugServer = debugServer

	if err := op.AssembleCommonOperator(cfg.ListenAddress, cfg.ListenPort); err != nil {
		return nil, fmt.Errorf("failed to assemble common operator: %w", err)
	}

	secretStore := secret.NewStore(op.logger.Named("secret-store"),
		secret.WithKubeClientFactory(newSecretsKubeClientFactory(op.MetricStorage, op.logger)))

	op.Runner = runner.NewRunner(
		runner.WithTempDir(tempDir),
		runner.WithKeepTmpFiles(cfg.KeepTmpFiles),
		runner.WithLogProxyJSON(cfg.LogProxyRunJSON),
		runner.WithSecretStore(secretStore),
		runner.WithMetricStorage(op.MetricStorage),
		runner.WithLogger(op.logger.Named("runner")),
	)

	if err := op.assembleNewsOperator(wf, cfg.WatchWorkflow, debugServer, runtimeConfig); err != nil {
		return nil, fmt.Errorf("failed to assemble news operator: %w", err)
	}

	return op, nil
}

// AssembleCommonOperator instantiates the http server and registers built-in metrics.
func (op *NewsOperator) AssembleCommonOperator(listenAddress, listenPort string) error {
	op.APIServer = newBaseHTTPServer(listenAddress, listenPort, op.logger.Named("http-server"))

	if err := op.setupMetricStorage(); err != nil {
		return fmt.Errorf("setup metric storage: %w", err)
	}

	op.SetupEventManagers()

	return nil
}

// assembleNewsOperator sets the workflow, registers routes and the workflow watcher.
func (op *NewsOperator) assembleNewsOperator(wf *workflow.Workflow, watch bool, debugServer *debug.Server, runtimeConfig *config.Config) error {
	registerRootRoute(op)
	op.RegisterAPIRoutes()

	if debugServer != nil {
		op.RegisterDebugQueueRoutes(debugServer)
		op.RegisterDebugRunRoutes(debugServer)
		op.RegisterDebugConfigRoutes(debugServer, runtimeConfig)
	}

	op.registerScheduleSuspendParam()
	op.SetWorkflow(wf)

	if !watch {
		return nil
	}

	watcher, err := workflow.NewWatcher(wf.Path, wf.Checksum, op.logger.Named("workflow-watcher"))
	if err != nil {
		return fmt.Errorf("create workflow watcher: %w", err)
	}
	op.WorkflowWatcher = watcher.
		OnReload(func(newWf *workflow.Workflow) {
			op.MetricStorage.CounterAdd(metrics.WorkflowReloadsTotal, 1.0, map[string]string{"result": "success"})
			op.SetWorkflow(newWf)
		}).
		OnError(func(err error) {
			op.MetricStorage.CounterAdd(metrics.WorkflowReloadsTotal, 1.0, map[string]string{"result": "error"})
			op.logger.Error("workflow reload failed, keep current definition", log.Err(err))
		})

	return nil
}

// SetupEventManagers instantiates the run queue, the schedule manager
// and the handler that converts schedule events into runs.
func (op *NewsOperator) SetupEventManagers() {
	op.TaskQueue = queue.NewTasksQueue(op.MetricStorage,
		queue.WithContext(op.ctx),
		queue.WithName(MainQueueName),
		queue.WithHandler(op.taskHandler),
		queue.WithLogger(op.logger.Named("task-queue")),
	)

	op.ScheduleManager = schedulemanager.NewScheduleManager(op.ctx, op.logger.Named("schedule-manager"))

	cfg := &managerEventsHandlerConfig{
		smgr:       op.ScheduleManager,
		scheduleCb: op.handleScheduleEvent,
		logger:     op.logger.Named("manager-events-handler"),
	}
	op.ManagerEventsHandler = newManagerEventsHandler(op.ctx, cfg)
}

func (op *NewsOperator) registerScheduleSuspendParam() {
	op.RuntimeConfig.Register(config.ScheduleSuspendedParam,
		"Set to true to ignore schedule triggers. Manual dispatch still works.",
		"false",
		func(_ string, newValue string) error {
			op.logger.Info("Change schedule suspend", slog.String("value", newValue))
			return nil
		}, nil)
}
