package runner

import (
	"errors"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/flant/news-operator/internal/metrics"
	"github.com/flant/news-operator/pkg/run"
	"github.com/flant/news-operator/pkg/secret"
	"github.com/flant/news-operator/pkg/workflow"
)

func (r *Runner) observeStep(wf *workflow.Workflow, step run.StepResult) {
	if r.metricStorage == nil {
		return
	}
	labels := map[string]string{"workflow": wf.Name, "step": step.Name}

	r.metricStorage.HistogramObserve(metrics.StepSeconds, step.Duration().Seconds(), labels, nil)
	if step.Usage != nil {
		r.metricStorage.HistogramObserve(metrics.StepUserCPUSeconds, step.Usage.User.Seconds(), labels, nil)
		r.metricStorage.HistogramObserve(metrics.StepSysCPUSeconds, step.Usage.Sys.Seconds(), labels, nil)
		r.metricStorage.GaugeSet(metrics.StepMaxRSSBytes, float64(step.Usage.MaxRss)*1024, labels)
	}

	if step.Status == run.StatusSucceeded {
		r.metricStorage.CounterAdd(metrics.StepSuccessTotal, 1.0, labels)
	} else {
		r.metricStorage.CounterAdd(metrics.StepErrorsTotal, 1.0, labels)
	}
}

func (r *Runner) observeRun(wf *workflow.Workflow, rn *run.Run) {
	if r.metricStorage == nil {
		return
	}
	snap := rn.Snapshot()
	labels := map[string]string{
		"workflow": wf.Name,
		"trigger":  string(snap.Trigger),
		"status":   string(snap.Status),
	}

	r.metricStorage.CounterAdd(metrics.RunsTotal, 1.0, labels)
	r.metricStorage.HistogramObserve(metrics.RunSeconds, rn.Duration().Seconds(), labels, nil)

	lastStatus := 0.0
	if snap.Status == run.StatusSucceeded {
		lastStatus = 1.0
	}
	r.metricStorage.GaugeSet(metrics.RunLastStatus, lastStatus, map[string]string{"workflow": wf.Name})
	r.metricStorage.GaugeSet(metrics.RunLastFinishTimestamp, float64(time.Now().Unix()), map[string]string{"workflow": wf.Name})
}

func (r *Runner) observeSecretErrors(wf *workflow.Workflow, err error) {
	if r.metricStorage == nil {
		return
	}

	errs := []error{err}
	var merr *multierror.Error
	if errors.As(err, &merr) {
		errs = merr.Errors
	}

	for _, e := range errs {
		source := "unknown"
		var resolveErr *secret.ResolveError
		if errors.As(e, &resolveErr) {
			source = resolveErr.Source.Kind()
		}
		r.metricStorage.CounterAdd(metrics.SecretResolveErrTotal, 1.0, map[string]string{"workflow": wf.Name, "source": source})
	}
}
