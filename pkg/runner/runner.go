package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/deckhouse/deckhouse/pkg/log"
	metricsstorage "github.com/deckhouse/deckhouse/pkg/metrics-storage"
	"github.com/gofrs/flock"
	"github.com/kennygrant/sanitize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flant/news-operator/pkg/executor"
	"github.com/flant/news-operator/pkg/run"
	"github.com/flant/news-operator/pkg/secret"
	"github.com/flant/news-operator/pkg/workflow"
)

const tracerName = "news-operator"

// SkipReasonLocked is a reason for runs skipped because another process holds the lock.
const SkipReasonLocked = "another process is running this workflow"

// Runner executes a workflow run: provisioning step, then execution step.
type Runner struct {
	tempDir      string
	keepTmpFiles bool
	logProxyJSON bool

	secrets       *secret.Store
	metricStorage metricsstorage.Storage
	environ       func() []string
	sink          executor.LineSink
	tracer        trace.Tracer

	logger *log.Logger
}

type Option func(r *Runner)

func WithTempDir(dir string) Option {
	return func(r *Runner) {
		r.tempDir = dir
	}
}

func WithKeepTmpFiles(keep bool) Option {
	return func(r *Runner) {
		r.keepTmpFiles = keep
	}
}

func WithLogProxyJSON(enabled bool) Option {
	return func(r *Runner) {
		r.logProxyJSON = enabled
	}
}

func WithSecretStore(store *secret.Store) Option {
	return func(r *Runner) {
		r.secrets = store
	}
}

func WithMetricStorage(metricStorage metricsstorage.Storage) Option {
	return func(r *Runner) {
		r.metricStorage = metricStorage
	}
}

// WithEnviron sets a source of the base environment. Default is os.Environ.
func WithEnviron(fn func() []string) Option {
	return func(r *Runner) {
		r.environ = fn
	}
}

// WithLineSink receives redacted output lines of both steps.
func WithLineSink(sink executor.LineSink) Option {
	return func(r *Runner) {
		r.sink = sink
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		tempDir: os.TempDir(),
		environ: os.Environ,
		tracer:  otel.Tracer(tracerName),
		logger:  log.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.secrets == nil {
		r.secrets = secret.NewStore(r.logger)
	}
	return r
}

// Run executes both steps and sets a terminal status of rn.
// The run is Skipped if another process holds the workflow lock.
func (r *Runner) Run(ctx context.Context, wf *workflow.Workflow, rn *run.Run) run.Status {
	logger := r.logger.With(
		slog.String("workflow", wf.Name),
		slog.String("run.id", rn.ID),
		slog.String("trigger", string(rn.Trigger)))

	lock := flock.New(filepath.Join(r.tempDir, sanitize.BaseName(wf.Name)+".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		logger.Error("lock workflow", log.Err(err))
		rn.Skip(fmt.Sprintf("lock workflow: %v", err))
		r.observeRun(wf, rn)
		return rn.GetStatus()
	}
	if !locked {
		logger.Warn("run skipped", slog.String("reason", SkipReasonLocked))
		rn.Skip(SkipReasonLocked)
		r.observeRun(wf, rn)
		return rn.GetStatus()
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("unlock workflow", log.Err(err))
		}
	}()

	ctx, span := r.tracer.Start(ctx, "run",
		trace.WithAttributes(
			attribute.String("workflow", wf.Name),
			attribute.String("run.id", rn.ID),
			attribute.String("trigger", string(rn.Trigger)),
		))
	defer span.End()

	rn.Start()
	logger.Info("run started")

	runDir, err := r.prepareRunDir(wf, rn)
	if err != nil {
		rn.AddStep(run.StepResult{
			Name:     run.StepProvision,
			Status:   run.StatusFailed,
			ExitCode: -1,
			Error:    err.Error(),
		})
		return r.finish(ctx, logger, wf, rn)
	}
	if !r.keepTmpFiles {
		defer func() {
			if err := os.RemoveAll(runDir); err != nil {
				logger.Warn("remove run dir", slog.String("dir", runDir), log.Err(err))
			}
		}()
	}

	// Secrets are never inherited by any step.
	baseEnv := append(secret.ScrubEnv(r.environ(), wf.Secrets), "TMPDIR="+runDir)

	if wf.HasProvisioning() {
		step := r.provision(ctx, logger, wf, baseEnv)
		rn.AddStep(step)
		if step.Status != run.StatusSucceeded {
			rn.AddStep(run.StepResult{Name: run.StepExecute, Status: run.StatusSkipped, Error: "provisioning failed"})
			return r.finish(ctx, logger, wf, rn)
		}
	}

	rn.AddStep(r.execute(ctx, logger, wf, rn, baseEnv))

	return r.finish(ctx, logger, wf, rn)
}

func (r *Runner) prepareRunDir(wf *workflow.Workflow, rn *run.Run) (string, error) {
	dir := filepath.Join(r.tempDir, "runs", sanitize.BaseName(wf.Name)+"-"+rn.ID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}
	return dir, nil
}

func (r *Runner) finish(ctx context.Context, logger *log.Logger, wf *workflow.Workflow, rn *run.Run) run.Status {
	status := rn.Finish()
	snap := rn.Snapshot()

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("status", string(status)))
	if status != run.StatusSucceeded {
		span.SetStatus(codes.Error, snap.Reason)
		logger.Error("run failed",
			slog.String("reason", snap.Reason),
			slog.Duration("duration", rn.Duration()))
	} else {
		logger.Info("run succeeded", slog.Duration("duration", rn.Duration()))
	}

	r.observeRun(wf, rn)
	return status
}

// stepContext returns a context limited by the workflow timeout if set.
func stepContext(ctx context.Context, wf *workflow.Workflow) (context.Context, context.CancelFunc) {
	if wf.StepTimeout > 0 {
		return context.WithTimeout(ctx, wf.StepTimeout)
	}
	return context.WithCancel(ctx)
}

// stepError describes a failed command with a timeout and a cancellation distinguished.
func stepError(ctx context.Context, err error, timeout time.Duration) string {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Sprintf("timeout %s exceeded: %v", timeout, err)
	case errors.Is(ctx.Err(), context.Canceled):
		return fmt.Sprintf("canceled: %v", err)
	}
	return err.Error()
}

func usage(u *executor.CmdUsage) *run.Usage {
	if u == nil {
		return nil
	}
	return &run.Usage{Sys: u.Sys, User: u.User, MaxRss: u.MaxRss}
}

func (r *Runner) startStepSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, name)
}

func endStepSpan(span trace.Span, step run.StepResult) {
	span.SetAttributes(
		attribute.String("status", string(step.Status)),
		attribute.Int("exit_code", step.ExitCode))
	if step.Status == run.StatusFailed {
		span.SetStatus(codes.Error, step.Error)
	}
	span.End()
}
