package metrics

import (
	"fmt"

	metricsstorage "github.com/deckhouse/deckhouse/pkg/metrics-storage"
	"github.com/deckhouse/deckhouse/pkg/metrics-storage/options"
)

const (
	// Task queue metrics
	TasksQueueActionDurationSeconds = "{PREFIX}tasks_queue_action_duration_seconds"
	TasksQueueLength                = "{PREFIX}tasks_queue_length"
	TaskWaitInQueueSecondsTotal     = "{PREFIX}task_wait_in_queue_seconds_total"

	// Run metrics
	RunsTotal              = "{PREFIX}runs_total"
	RunSeconds             = "{PREFIX}run_seconds"
	RunLastStatus          = "{PREFIX}run_last_status"
	RunLastFinishTimestamp = "{PREFIX}run_last_finish_timestamp_seconds"

	// Step metrics
	StepSeconds           = "{PREFIX}step_seconds"
	StepUserCPUSeconds    = "{PREFIX}step_user_cpu_seconds"
	StepSysCPUSeconds     = "{PREFIX}step_sys_cpu_seconds"
	StepMaxRSSBytes       = "{PREFIX}step_max_rss_bytes"
	StepErrorsTotal       = "{PREFIX}step_errors_total"
	StepSuccessTotal      = "{PREFIX}step_success_total"
	SecretResolveErrTotal = "{PREFIX}secret_resolve_errors_total"

	// Trigger metrics
	TriggersTotal         = "{PREFIX}triggers_total"
	WorkflowReloadsTotal  = "{PREFIX}workflow_reloads_total"
	ScheduleNextTimestamp = "{PREFIX}schedule_next_timestamp_seconds"

	// Common metrics
	LiveTicks = "{PREFIX}live_ticks"
)

// Trigger results for TriggersTotal.
const (
	TriggerQueued    = "queued"
	TriggerCoalesced = "coalesced"
	TriggerSkipped   = "skipped"
	TriggerRejected  = "rejected"
	TriggerSuspended = "suspended"
)

var durationBuckets = []float64{
	0.0,
	0.1, 0.2, 0.5, // 100,200,500 milliseconds
	1, 2, 5, // 1,2,5 seconds
	10, 20, 50, // 10,20,50 seconds
	100, 200, 500, // 100,200,500 seconds
	1000, 2000, // ~16,~33 minutes
}

// RegisterRunMetrics registers metrics for runs and their steps.
func RegisterRunMetrics(metricStorage metricsstorage.Storage) error {
	runLabels := []string{"workflow", "trigger", "status"}

	_, err := metricStorage.RegisterCounter(
		RunsTotal, runLabels,
		options.WithHelp("Counter of finished runs by trigger and status"),
	)
	if err != nil {
		return fmt.Errorf("can not register %s: %w", RunsTotal, err)
	}

	_, err = metricStorage.RegisterHistogram(
		RunSeconds, runLabels, durationBuckets,
		options.WithHelp("Histogram of run durations in seconds"),
	)
	if err != nil {
		return fmt.Errorf("can not register %s: %w", RunSeconds, err)
	}

	_, err = metricStorage.RegisterGauge(
		RunLastStatus, []string{"workflow"},
		options.WithHelp("Result of the last finished run (1.0 = succeeded, 0.0 = failed or skipped)"),
	)
	if err != nil {
		return fmt.Errorf("can not register %s: %w", RunLastStatus, err)
	}

	_, err = metricStorage.RegisterGauge(
		RunLastFinishTimestamp, []string{"workflow"},
		options.WithHelp("Unix time of the last finished run"),
	)
	if err != nil {
		return fmt.Errorf("can not register %s: %w", RunLastFinishTimestamp, err)
	}

	stepLabels := []string{"workflow", "step"}

	_, err = metricStorage.RegisterHistogram(
		StepSeconds, stepLabels, durationBuckets,
		options.WithHelp("Histogram of step execution times in seconds"),
	)
	if err != nil {
		return fmt.Errorf("can not register %s: %w", StepSeconds, err)
	}

	_, err = metricStorage.RegisterHistogram(
		StepUserCPUSeconds, stepLabels, durationBuckets,
		options.WithHelp("Histogram of step user CPU usage in seconds"),
	)
	if err != nil {
		return fmt.Errorf("can not register %s: %w", StepUserCPUSeconds, err)
	}

	_, err = metricStorage.RegisterHistogram(
		StepSysCPUSeconds, stepLabels, durationBuckets,
		options.WithHelp("Histogram of step system CPU usage in seconds"),
	)
	if err != nil {
		return fmt.Errorf("can not register %s: %w", StepSysCPUSeconds, err)
	}

	_, err = metricStorage.RegisterGauge(
		StepMaxRSSBytes, stepLabels,
		options.WithHelp("Gauge of maximum resident set size used by step in bytes"),
	)
	if err != nil {
		return fmt.Errorf("can not register %s: %w", StepMaxRSSBytes, err)
	}

	_, err = metricStorage.RegisterCounter(
		StepErrorsTotal, stepLabels,
		options.WithHelp("Counter of failed steps"),
	)
	if err != nil {
		return fmt.Errorf("can not register %s: %w", StepErrorsTotal, err)
	}

	_, err = metricStorage.RegisterCounter(
		StepSuccessTotal, stepLabels,
		options.WithHelp("Counter of successful steps"),
	)
	if err != nil {
		return fmt.Errorf("can not register %s: %w", StepSuccessTotal, err)
	}

	_, err = metricStorage.RegisterCounter(
		SecretResolveErrTotal, []string{"workflow", "source"},
		options.WithHelp("Counter of secret resolution failures by source type"),
	)
	if err != nil {
		return fmt.Errorf("can not register %s: %w", SecretResolveErrTotal, err)
	}

	return nil
}

// RegisterTriggerMetrics registers metrics for schedule and manual triggers.
func RegisterTriggerMetrics(metricStorage metricsstorage.Storage) error {
	_, err := metricStorage.RegisterCounter(
		TriggersTotal, []string{"workflow", "trigger", "result"},
		options.WithHelp("Counter of triggers by type and result (queued, coalesced, skipped, rejected, suspended)"),
	)
	if err != nil {
		return fmt.Errorf("can not register %s: %w", TriggersTotal, err)
	}

	_, err = metricStorage.RegisterCounter(
		WorkflowReloadsTotal, []string{"result"},
		options.WithHelp("Counter of workflow file reloads"),
	)
	if err != nil {
		return fmt.Errorf("can not register %s: %w", WorkflowReloadsTotal, err)
	}

	_, err = metricStorage.RegisterGauge(
		ScheduleNextTimestamp, []string{"workflow", "crontab"},
		options.WithHelp("Unix time of the next scheduled fire"),
	)
	if err != nil {
		return fmt.Errorf("can not register %s: %w", ScheduleNextTimestamp, err)
	}

	return nil
}

// RegisterCommonMetrics register base metric
func RegisterCommonMetrics(metricStorage metricsstorage.Storage) error {
	_, err := metricStorage.RegisterCounter(
		LiveTicks, []string{},
		options.WithHelp("Counter that increases every 10 seconds to indicate news-operator is alive"),
	)
	if err != nil {
		return fmt.Errorf("can not register %s: %w", LiveTicks, err)
	}

	return nil
}

// RegisterTaskQueueMetrics registers metrics for the run task queue.
func RegisterTaskQueueMetrics(metricStorage metricsstorage.Storage) error {
	_, err := metricStorage.RegisterHistogram(
		TasksQueueActionDurationSeconds,
		[]string{
			"queue_name",
			"queue_action",
		},
		[]float64{
			0.0,
			0.0001, 0.0002, 0.0005, // 100, 200, 500 microseconds
			0.001, 0.002, 0.005, // 1,2,5 milliseconds
			0.01, 0.02, 0.05, // 10,20,50 milliseconds
			0.1, 0.2, 0.5, // 100,200,500 milliseconds
		},
		options.WithHelp("Histogram of task queue operation durations in seconds"),
	)
	if err != nil {
		return fmt.Errorf("can not register %s: %w", TasksQueueActionDurationSeconds, err)
	}

	_, err = metricStorage.RegisterGauge(
		TasksQueueLength, []string{"queue"},
		options.WithHelp("Gauge showing the length of the task queue"),
	)
	if err != nil {
		return fmt.Errorf("can not register %s: %w", TasksQueueLength, err)
	}

	_, err = metricStorage.RegisterCounter(
		TaskWaitInQueueSecondsTotal, []string{"workflow", "trigger"},
		options.WithHelp("Counter of seconds that runs waited in queue before execution"),
	)
	if err != nil {
		return fmt.Errorf("can not register %s: %w", TaskWaitInQueueSecondsTotal, err)
	}

	return nil
}
