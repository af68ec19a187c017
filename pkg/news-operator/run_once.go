package news_operator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flant/news-operator/internal/metrics"
	"github.com/flant/news-operator/pkg/app"
	"github.com/flant/news-operator/pkg/run"
	"github.com/flant/news-operator/pkg/runner"
	"github.com/flant/news-operator/pkg/secret"
	utils "github.com/flant/news-operator/pkg/utils/file"
	"github.com/flant/news-operator/pkg/workflow"
)

// RunOnce executes the workflow synchronously as a manual run.
// No triggers, queue or servers are started. A non-nil run is returned when the run was attempted.
func RunOnce(ctx context.Context, cfg *NewsOperatorConfig, requester string) (*run.Run, error) {
	if cfg.WorkflowPath == "" {
		return nil, fmt.Errorf("workflow path cannot be empty")
	}
	if requester == "" {
		requester = DefaultRequester
	}

	logger := cfg.Logger
	app.SetupLogging(nil, logger)

	wf, err := workflow.Load(cfg.WorkflowPath)
	if err != nil {
		return nil, fmt.Errorf("load workflow: %w", err)
	}

	tempDir, err := utils.EnsureTempDirectory(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("temp directory setup failed: %w", err)
	}

	if err := metrics.RegisterRunMetrics(cfg.MetricStorage); err != nil {
		return nil, fmt.Errorf("register run metrics: %w", err)
	}

	secretStore := secret.NewStore(logger.Named("secret-store"),
		secret.WithKubeClientFactory(newSecretsKubeClientFactory(cfg.MetricStorage, logger)))

	r := runner.NewRunner(
		runner.WithTempDir(tempDir),
		runner.WithKeepTmpFiles(cfg.KeepTmpFiles),
		runner.WithLogProxyJSON(cfg.LogProxyRunJSON),
		runner.WithSecretStore(secretStore),
		runner.WithMetricStorage(cfg.MetricStorage),
		runner.WithLogger(logger.Named("runner")),
	)

	rn := run.NewRun(wf.Name, run.TriggerManual, requester)
	status := r.Run(ctx, wf, rn)

	logger.Info("run finished",
		slog.String("workflow", wf.Name),
		slog.String("run.id", rn.ID),
		slog.String("status", string(status)),
		slog.Duration("duration", rn.Duration()))

	return rn, nil
}
