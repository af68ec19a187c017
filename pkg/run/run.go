package run

import (
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
)

type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

type Status string

const (
	StatusQueued    Status = "Queued"
	StatusRunning   Status = "Running"
	StatusSucceeded Status = "Succeeded"
	StatusFailed    Status = "Failed"
	StatusSkipped   Status = "Skipped"
)

// Finished is true for terminal statuses.
func (s Status) Finished() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

const (
	StepProvision = "provision"
	StepExecute   = "execute"
)

// Usage is a resource usage of the step process.
type Usage struct {
	Sys    time.Duration `json:"sys"`
	User   time.Duration `json:"user"`
	MaxRss int64         `json:"maxRss"`
}

type StepResult struct {
	Name       string    `json:"name"`
	Status     Status    `json:"status"`
	ExitCode   int       `json:"exitCode"`
	StartedAt  time.Time `json:"startedAt,omitempty"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
	Error      string    `json:"error,omitempty"`
	Usage      *Usage    `json:"usage,omitempty"`
}

func (s StepResult) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Run is one pass of provisioning and execution with a single result.
// Fields are guarded by a mutex: the API reads runs while the worker updates them.
type Run struct {
	mu sync.RWMutex

	ID          string
	Workflow    string
	Trigger     Trigger
	TriggerInfo string
	Status      Status
	Reason      string
	Steps       []StepResult
	Coalesced   int
	QueuedAt    time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
}

func NewRun(workflow string, trigger Trigger, triggerInfo string) *Run {
	return &Run{
		ID:          uuid.Must(uuid.NewV4()).String(),
		Workflow:    workflow,
		Trigger:     trigger,
		TriggerInfo: triggerInfo,
		Status:      StatusQueued,
		QueuedAt:    time.Now(),
	}
}

// Snapshot is an immutable copy of the Run used for output.
type Snapshot struct {
	ID          string       `json:"id"`
	Workflow    string       `json:"workflow"`
	Trigger     Trigger      `json:"trigger"`
	TriggerInfo string       `json:"triggerInfo,omitempty"`
	Status      Status       `json:"status"`
	Reason      string       `json:"reason,omitempty"`
	Steps       []StepResult `json:"steps"`
	Coalesced   int          `json:"coalesced,omitempty"`
	QueuedAt    time.Time    `json:"queuedAt"`
	StartedAt   time.Time    `json:"startedAt,omitempty"`
	FinishedAt  time.Time    `json:"finishedAt,omitempty"`
}

func (r *Run) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	steps := make([]StepResult, len(r.Steps))
	copy(steps, r.Steps)
	return Snapshot{
		ID:          r.ID,
		Workflow:    r.Workflow,
		Trigger:     r.Trigger,
		TriggerInfo: r.TriggerInfo,
		Status:      r.Status,
		Reason:      r.Reason,
		Steps:       steps,
		Coalesced:   r.Coalesced,
		QueuedAt:    r.QueuedAt,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
}

func (r *Run) GetStatus() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Status
}

func (r *Run) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Status = StatusRunning
	r.StartedAt = time.Now()
}

// Coalesce merges a trigger into the run. Only a queued run accepts triggers.
func (r *Run) Coalesce() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Status != StatusQueued {
		return false
	}
	r.Coalesced++
	return true
}

// AddStep appends a finished step result.
func (r *Run) AddStep(step StepResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Steps = append(r.Steps, step)
}

// Skip finishes a run that was not executed.
func (r *Run) Skip(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Status = StatusSkipped
	r.Reason = reason
	r.FinishedAt = time.Now()
}

// Finish sets a terminal status from step results: the run succeeds
// only if every step succeeded and the execution step is present.
func (r *Run) Finish() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := StatusSucceeded
	executed := false
	for _, step := range r.Steps {
		if step.Name == StepExecute && step.Status == StatusSucceeded {
			executed = true
		}
		if step.Status != StatusSucceeded {
			status = StatusFailed
			if r.Reason == "" {
				r.Reason = "step " + step.Name + " " + string(step.Status)
			}
			break
		}
	}
	if !executed {
		status = StatusFailed
		if r.Reason == "" {
			r.Reason = "execution step did not succeed"
		}
	}

	r.Status = status
	r.FinishedAt = time.Now()
	return status
}

func (r *Run) Duration() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// GetDescription is used in queue dumps.
func (r *Run) GetDescription() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc := r.Workflow + ":" + string(r.Trigger)
	if r.TriggerInfo != "" {
		desc += ":" + r.TriggerInfo
	}
	if r.Coalesced > 0 {
		desc += fmt.Sprintf(":coalesced=%d", r.Coalesced)
	}
	return desc
}
