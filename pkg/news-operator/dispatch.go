package news_operator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/flant/news-operator/internal/metrics"
	"github.com/flant/news-operator/pkg/config"
	"github.com/flant/news-operator/pkg/run"
	"github.com/flant/news-operator/pkg/task"
	"github.com/flant/news-operator/pkg/task/queue"
	utils "github.com/flant/news-operator/pkg/utils/labels"
	"github.com/flant/news-operator/pkg/workflow"
)

const RunWorkflowTask task.TaskType = "RunWorkflow"

const (
	DefaultRequester = "anonymous"
	SkipReasonBusy   = "another run is pending or running"
)

var (
	ErrManualDispatchDisabled = errors.New("manual dispatch is disabled for the workflow")
	ErrRateLimited            = errors.New("too many dispatch requests")
	ErrShuttingDown           = errors.New("operator is shutting down")
	ErrNoWorkflow             = errors.New("workflow is not loaded")
	ErrUnauthorized           = errors.New("dispatch token is missing or invalid")
)

// DispatchResult tells which run serves the trigger and how.
// Result is one of "queued", "coalesced", "skipped".
type DispatchResult struct {
	RunID  string `json:"runId"`
	Result string `json:"result"`
}

// Dispatch requests a manual run. No parameters are needed, requester is only recorded.
func (op *NewsOperator) Dispatch(requester string) (DispatchResult, error) {
	wf := op.Workflow()
	if wf == nil {
		return DispatchResult{}, ErrNoWorkflow
	}
	if requester == "" {
		requester = DefaultRequester
	}

	logger := op.logger.With(slog.String("workflow", wf.Name), slog.String("requester", requester))
	rejected := map[string]string{"workflow": wf.Name, "trigger": string(run.TriggerManual), "result": metrics.TriggerRejected}

	if op.stopping.Load() {
		return DispatchResult{}, ErrShuttingDown
	}
	if !wf.ManualDispatch {
		op.MetricStorage.CounterAdd(metrics.TriggersTotal, 1.0, rejected)
		logger.Warn("manual dispatch rejected", slog.String("reason", ErrManualDispatchDisabled.Error()))
		return DispatchResult{}, ErrManualDispatchDisabled
	}
	if !op.dispatchLimiter.Allow() {
		op.MetricStorage.CounterAdd(metrics.TriggersTotal, 1.0, rejected)
		logger.Warn("manual dispatch rejected", slog.String("reason", ErrRateLimited.Error()))
		return DispatchResult{}, ErrRateLimited
	}

	res := op.enqueue(wf, run.TriggerManual, requester)
	logger.Info("manual dispatch", slog.String("run.id", res.RunID), slog.String("result", res.Result))
	return res, nil
}

// handleScheduleEvent converts a schedule event into a run.
func (op *NewsOperator) handleScheduleEvent(crontab string) {
	wf := op.Workflow()
	if wf == nil {
		return
	}
	defer op.updateScheduleNextMetric()

	logger := op.logger.With(
		slog.String("workflow", wf.Name),
		slog.String("schedule", wf.ScheduleName(crontab)),
		slog.String("crontab", crontab))

	if !hasSchedule(wf, crontab) {
		logger.Debug("schedule event for a removed crontab is ignored")
		return
	}

	if op.RuntimeConfig.Bool(config.ScheduleSuspendedParam) {
		op.MetricStorage.CounterAdd(metrics.TriggersTotal, 1.0,
			map[string]string{"workflow": wf.Name, "trigger": string(run.TriggerSchedule), "result": metrics.TriggerSuspended})
		logger.Info("schedule is suspended, event is ignored")
		return
	}

	res := op.enqueue(wf, run.TriggerSchedule, crontab)
	logger.Info("schedule event", slog.String("run.id", res.RunID), slog.String("result", res.Result))
}

func hasSchedule(wf *workflow.Workflow, crontab string) bool {
	for _, entry := range wf.Schedules {
		if entry.Crontab == crontab {
			return true
		}
	}
	return false
}

// enqueue applies the concurrency policy:
//   - queue: a trigger is coalesced into a pending run, or a new run is queued.
//   - skip: a trigger is recorded as a skipped run while a run is pending or running.
func (op *NewsOperator) enqueue(wf *workflow.Workflow, trigger run.Trigger, triggerInfo string) DispatchResult {
	op.enqueueMu.Lock()
	defer op.enqueueMu.Unlock()

	labels := map[string]string{"workflow": wf.Name, "trigger": string(trigger)}
	count := func(result string) {
		op.MetricStorage.CounterAdd(metrics.TriggersTotal, 1.0, map[string]string{
			"workflow": labels["workflow"], "trigger": labels["trigger"], "result": result,
		})
	}

	pending := op.TaskQueue.Pending()
	busy := op.TaskQueue.Length() > 0

	if wf.Concurrency == workflow.ConcurrencySkip && busy {
		rn := run.NewRun(wf.Name, trigger, triggerInfo)
		rn.Skip(SkipReasonBusy)
		op.History.Add(rn)
		count(metrics.TriggerSkipped)
		return DispatchResult{RunID: rn.ID, Result: metrics.TriggerSkipped}
	}

	for _, t := range pending {
		rn, ok := t.GetMetadata().(*run.Run)
		if ok && rn.Coalesce() {
			count(metrics.TriggerCoalesced)
			return DispatchResult{RunID: rn.ID, Result: metrics.TriggerCoalesced}
		}
	}

	rn := run.NewRun(wf.Name, trigger, triggerInfo)
	op.History.Add(rn)

	t := task.NewTask(RunWorkflowTask).
		WithQueueName(MainQueueName).
		WithMetadata(rn).
		WithLogLabels(map[string]string{
			"workflow": wf.Name,
			"run.id":   rn.ID,
			"trigger":  string(trigger),
		})
	op.TaskQueue.AddLast(t)
	count(metrics.TriggerQueued)

	return DispatchResult{RunID: rn.ID, Result: metrics.TriggerQueued}
}

// taskHandler executes a run with the active workflow. Failed runs are not retried.
func (op *NewsOperator) taskHandler(ctx context.Context, t task.Task) queue.TaskResult {
	logger := op.logger.With(utils.LabelsToLogAttrs(t.GetLogLabels())...)

	rn, ok := t.GetMetadata().(*run.Run)
	if !ok {
		logger.Error("task has no run metadata", slog.String("task_type", string(t.GetType())))
		return queue.TaskResult{Status: queue.Fail}
	}

	wf := op.Workflow()
	if !t.GetQueuedAt().IsZero() {
		op.MetricStorage.CounterAdd(metrics.TaskWaitInQueueSecondsTotal, time.Since(t.GetQueuedAt()).Seconds(),
			map[string]string{"workflow": wf.Name, "trigger": string(rn.Trigger)})
	}

	status := op.Runner.Run(ctx, wf, rn)
	if status == run.StatusFailed {
		return queue.TaskResult{Status: queue.Fail}
	}
	return queue.TaskResult{Status: queue.Success}
}
