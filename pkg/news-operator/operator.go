package news_operator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/deckhouse/deckhouse/pkg/log"
	metricsstorage "github.com/deckhouse/deckhouse/pkg/metrics-storage"
	"golang.org/x/time/rate"

	"github.com/flant/news-operator/internal/metrics"
	"github.com/flant/news-operator/pkg/app"
	"github.com/flant/news-operator/pkg/config"
	"github.com/flant/news-operator/pkg/debug"
	"github.com/flant/news-operator/pkg/run"
	"github.com/flant/news-operator/pkg/runner"
	schedulemanager "github.com/flant/news-operator/pkg/schedule_manager"
	"github.com/flant/news-operator/pkg/task"
	"github.com/flant/news-operator/pkg/task/queue"
	"github.com/flant/news-operator/pkg/workflow"
)

const MainQueueName = "main"

var (
	LiveTicksInterval = 10 * time.Second
	ShutdownTimeout   = 30 * time.Second
)

type NewsOperator struct {
	ctx    context.Context
	cancel context.CancelFunc

	logger *log.Logger

	APIServer   *baseHTTPServer
	DebugServer *debug.Server

	MetricStorage metricsstorage.Storage
	RuntimeConfig *config.Config

	ScheduleManager      schedulemanager.ScheduleManager
	ManagerEventsHandler *ManagerEventsHandler
	WorkflowWatcher      *workflow.Watcher

	TaskQueue *queue.TaskQueue
	Runner    *runner.Runner
	History   *run.History

	dispatchLimiter *rate.Limiter
	dispatchToken   string

	wfMu     sync.RWMutex
	workflow *workflow.Workflow

	// enqueueMu serializes the pending check and AddLast for triggers.
	enqueueMu sync.Mutex

	started  atomic.Bool
	stopping atomic.Bool
}

type Option func(operator *NewsOperator)

func WithRuntimeConfig(cfg *config.Config) Option {
	return func(op *NewsOperator) {
		op.RuntimeConfig = cfg
	}
}

func WithHistory(h *run.History) Option {
	return func(op *NewsOperator) {
		op.History = h
	}
}

func WithRunner(r *runner.Runner) Option {
	return func(op *NewsOperator) {
		op.Runner = r
	}
}

func WithDispatchLimiter(l *rate.Limiter) Option {
	return func(op *NewsOperator) {
		op.dispatchLimiter = l
	}
}

// WithDispatchToken requires a bearer token for dispatch over the HTTP API.
func WithDispatchToken(token string) Option {
	return func(op *NewsOperator) {
		op.dispatchToken = token
	}
}

func NewNewsOperator(ctx context.Context, logger *log.Logger, metricStorage metricsstorage.Storage, opts ...Option) *NewsOperator {
	cctx, cancel := context.WithCancel(ctx)

	op := &NewsOperator{
		ctx:           cctx,
		cancel:        cancel,
		logger:        logger,
		MetricStorage: metricStorage,
	}

	for _, opt := range opts {
		opt(op)
	}

	if op.RuntimeConfig == nil {
		op.RuntimeConfig = config.NewConfig(logger)
	}
	if op.History == nil {
		op.History = run.NewHistory(app.RunHistorySize)
	}
	if op.dispatchLimiter == nil {
		op.dispatchLimiter = rate.NewLimiter(rate.Limit(app.DispatchRateLimit), app.DispatchBurst)
	}

	return op
}

// Workflow returns the active workflow definition.
func (op *NewsOperator) Workflow() *workflow.Workflow {
	op.wfMu.RLock()
	defer op.wfMu.RUnlock()
	return op.workflow
}

// SetWorkflow swaps the active definition and re-registers its schedules.
// A run in progress keeps the definition it was started with.
func (op *NewsOperator) SetWorkflow(wf *workflow.Workflow) {
	op.wfMu.Lock()
	old := op.workflow
	op.workflow = wf
	op.wfMu.Unlock()

	if old != nil {
		for _, entry := range old.Schedules {
			op.ScheduleManager.Remove(entry)
		}
	}
	for _, entry := range wf.Schedules {
		op.ScheduleManager.Add(entry)
	}

	op.logger.Info("workflow is active",
		slog.String("workflow", wf.Name),
		slog.String("checksum", wf.Checksum),
		slog.Int("schedules", len(wf.Schedules)),
		slog.Bool("manual", wf.ManualDispatch),
		slog.String("concurrency", string(wf.Concurrency)))

	op.updateScheduleNextMetric()
}

// Start runs the queue, the schedule manager, background metrics and the http server.
func (op *NewsOperator) Start() error {
	op.logger.Info("start news-operator")

	if err := op.APIServer.Start(op.ctx); err != nil {
		return err
	}

	op.TaskQueue.Start(op.ctx)
	op.ManagerEventsHandler.Start()
	op.ScheduleManager.Start()
	op.updateScheduleNextMetric()

	if op.WorkflowWatcher != nil {
		if err := op.WorkflowWatcher.Start(op.ctx); err != nil {
			op.logger.Error("workflow watcher is not started", log.Err(err))
		}
	}

	go op.runLiveTicks()

	op.started.Store(true)
	return nil
}

// IsReady is true after Start and before Shutdown.
func (op *NewsOperator) IsReady() bool {
	return op.started.Load() && !op.stopping.Load() && op.Workflow() != nil
}

// Shutdown stops triggers, kills a running step and waits for the queue to exit.
func (op *NewsOperator) Shutdown() {
	if !op.stopping.CompareAndSwap(false, true) {
		return
	}
	op.logger.Info("shutdown news-operator")

	op.ScheduleManager.Stop()
	op.ManagerEventsHandler.Stop()
	op.RuntimeConfig.Stop()
	if op.WorkflowWatcher != nil {
		_ = op.WorkflowWatcher.Close()
	}

	// Pending runs are never started.
	op.TaskQueue.Filter(func(t task.Task) bool {
		if rn, ok := t.GetMetadata().(*run.Run); ok {
			rn.Skip(ErrShuttingDown.Error())
		}
		return false
	})
	op.TaskQueue.Stop()
	// Cancel a running step: the process is killed and the run is recorded as failed.
	op.cancel()

	if op.started.Load() {
		select {
		case <-op.TaskQueue.Done():
		case <-time.After(ShutdownTimeout):
			op.logger.Warn("task queue is not stopped in time", slog.Duration("timeout", ShutdownTimeout))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if op.APIServer != nil {
		if err := op.APIServer.Shutdown(ctx); err != nil {
			op.logger.Warn("http server shutdown", log.Err(err))
		}
	}
	if op.DebugServer != nil {
		if err := op.DebugServer.Shutdown(ctx); err != nil {
			op.logger.Warn("debug server shutdown", log.Err(err))
		}
	}
}

func (op *NewsOperator) runLiveTicks() {
	ticker := time.NewTicker(LiveTicksInterval)
	defer ticker.Stop()

	for {
		select {
		case <-op.ctx.Done():
			return
		case <-ticker.C:
			op.MetricStorage.CounterAdd(metrics.LiveTicks, 1.0, map[string]string{})
		}
	}
}

func (op *NewsOperator) updateScheduleNextMetric() {
	wf := op.Workflow()
	if wf == nil || op.ScheduleManager == nil {
		return
	}
	for _, entry := range wf.Schedules {
		next := op.ScheduleManager.Next(entry.Crontab)
		if next.IsZero() {
			continue
		}
		op.MetricStorage.GaugeSet(metrics.ScheduleNextTimestamp, float64(next.Unix()),
			map[string]string{"workflow": wf.Name, "crontab": entry.Crontab})
	}
}
