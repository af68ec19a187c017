package queue

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/deckhouse/deckhouse/pkg/log"
	metricsstorage "github.com/deckhouse/deckhouse/pkg/metrics-storage"

	"github.com/flant/news-operator/internal/metrics"
	"github.com/flant/news-operator/pkg/task"
	"github.com/flant/news-operator/pkg/utils/measure"
)

/*
A working queue for sequential execution of tasks.

Tasks are added to the tail and executed from the head one by one.
Only one task is handled at a time, so the queue serializes runs of a workflow.
*/

var DefaultWaitLoopCheckInterval = 125 * time.Millisecond

type TaskQueue struct {
	logger *log.Logger

	m             sync.RWMutex
	metricStorage metricsstorage.Storage
	ctx           context.Context
	cancel        context.CancelFunc

	items   *list.List
	idIndex map[string]*list.Element

	started bool // a flag to ignore multiple starts
	stopped chan struct{}

	Name    string
	Handler func(ctx context.Context, t task.Task) TaskResult
	Status  string

	WaitLoopCheckInterval time.Duration
}

// TaskQueueOption defines a functional option for TaskQueue configuration
type TaskQueueOption func(*TaskQueue)

// WithContext sets the context for the TaskQueue
func WithContext(ctx context.Context) TaskQueueOption {
	return func(q *TaskQueue) {
		q.ctx, q.cancel = context.WithCancel(ctx)
	}
}

// WithName sets the name for the TaskQueue
func WithName(name string) TaskQueueOption {
	return func(q *TaskQueue) {
		q.Name = name
	}
}

// WithHandler sets the task handler for the TaskQueue
func WithHandler(fn func(ctx context.Context, t task.Task) TaskResult) TaskQueueOption {
	return func(q *TaskQueue) {
		q.Handler = fn
	}
}

func WithLogger(logger *log.Logger) TaskQueueOption {
	return func(q *TaskQueue) {
		q.logger = logger
	}
}

// NewTasksQueue creates a new TaskQueue with the provided options
func NewTasksQueue(metricStorage metricsstorage.Storage, opts ...TaskQueueOption) *TaskQueue {
	q := &TaskQueue{
		items:                 list.New(),
		idIndex:               make(map[string]*list.Element),
		stopped:               make(chan struct{}),
		WaitLoopCheckInterval: DefaultWaitLoopCheckInterval,
		logger:                log.NewNop(),
		metricStorage:         metricStorage,
	}

	for _, opt := range opts {
		opt(q)
	}

	if q.ctx == nil {
		q.ctx, q.cancel = context.WithCancel(context.Background())
	}

	return q
}

// MeasureActionTime is a helper to measure execution time of queue's actions
func (q *TaskQueue) MeasureActionTime(action string) func() {
	if q.metricStorage == nil {
		return func() {}
	}

	return measure.Duration(func(d time.Duration) {
		q.metricStorage.HistogramObserve(metrics.TasksQueueActionDurationSeconds, d.Seconds(), map[string]string{"queue_name": q.Name, "queue_action": action}, nil)
	})
}

func (q *TaskQueue) GetStatus() string {
	q.m.RLock()
	defer q.m.RUnlock()
	return q.Status
}

func (q *TaskQueue) SetStatus(status string) {
	q.m.Lock()
	q.Status = status
	q.m.Unlock()
}

func (q *TaskQueue) IsEmpty() bool {
	q.m.RLock()
	defer q.m.RUnlock()
	return q.items.Len() == 0
}

func (q *TaskQueue) Length() int {
	q.m.RLock()
	defer q.m.RUnlock()
	return q.items.Len()
}

// AddLast adds new tail elements.
func (q *TaskQueue) AddLast(tasks ...task.Task) {
	defer q.MeasureActionTime("AddLast")()
	q.withLock(func() {
		for _, t := range tasks {
			t.WithQueuedAt(time.Now())
			q.idIndex[t.GetId()] = q.items.PushBack(t)
		}
		q.updateLengthMetric()
	})
}

// GetFirst returns a head element.
func (q *TaskQueue) GetFirst() task.Task {
	q.m.RLock()
	defer q.m.RUnlock()
	if q.items.Len() == 0 {
		return nil
	}
	return q.items.Front().Value.(task.Task)
}

// TakeFirst marks the head element as processing and returns it.
// The mark is set under the queue lock, so Filter never drops a task the handler has taken.
func (q *TaskQueue) TakeFirst() task.Task {
	q.m.Lock()
	defer q.m.Unlock()
	if q.items.Len() == 0 {
		return nil
	}
	t := q.items.Front().Value.(task.Task)
	t.SetProcessing(true)
	return t
}

// Remove finds element by id and deletes it.
func (q *TaskQueue) Remove(id string) task.Task {
	defer q.MeasureActionTime("Remove")()
	var t task.Task
	q.withLock(func() {
		t = q.remove(id)
	})
	return t
}

func (q *TaskQueue) remove(id string) task.Task {
	e, ok := q.idIndex[id]
	if !ok {
		return nil
	}
	q.items.Remove(e)
	delete(q.idIndex, id)
	q.updateLengthMetric()
	return e.Value.(task.Task)
}

// IterateSnapshot copies tasks under the lock and runs doFn without holding it.
func (q *TaskQueue) IterateSnapshot(doFn func(task.Task)) {
	if doFn == nil {
		return
	}

	tasks := make([]task.Task, 0)
	q.Iterate(func(t task.Task) {
		tasks = append(tasks, t)
	})
	for _, t := range tasks {
		doFn(t)
	}
}

// Pending returns tasks that wait in the queue and are not handled right now.
func (q *TaskQueue) Pending() []task.Task {
	res := make([]task.Task, 0)
	q.Iterate(func(t task.Task) {
		if !t.IsProcessing() {
			res = append(res, t)
		}
	})
	return res
}

// Iterate run doFn for every task.
func (q *TaskQueue) Iterate(doFn func(task.Task)) {
	if doFn == nil {
		return
	}

	defer q.MeasureActionTime("Iterate")()

	q.withRLock(func() {
		for e := q.items.Front(); e != nil; e = e.Next() {
			doFn(e.Value.(task.Task))
		}
	})
}

// Filter run filterFn on every task and remove each with false result.
func (q *TaskQueue) Filter(filterFn func(task.Task) bool) {
	if filterFn == nil {
		return
	}

	defer q.MeasureActionTime("Filter")()

	q.withLock(func() {
		for e := q.items.Front(); e != nil; {
			current := e
			e = e.Next()
			t := current.Value.(task.Task)
			if !t.IsProcessing() && !filterFn(t) {
				q.items.Remove(current)
				delete(q.idIndex, t.GetId())
			}
		}
		q.updateLengthMetric()
	})
}

func (q *TaskQueue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
}

// Done is closed when the handling loop exits.
func (q *TaskQueue) Done() <-chan struct{} {
	return q.stopped
}

func (q *TaskQueue) Start(ctx context.Context) {
	if q.started {
		return
	}

	if q.Handler == nil {
		q.logger.Error("should set handler before start in queue", slog.String("name", q.Name))
		q.SetStatus("no handler set")
		return
	}

	go func() {
		defer close(q.stopped)
		q.SetStatus("")
		for {
			t := q.waitForTask()
			if t == nil {
				q.SetStatus("stop")
				q.logger.Info("queue stopped", slog.String("name", q.Name))
				return
			}

			q.logger.Debug("queue task to handle",
				slog.String("queue", q.Name),
				slog.String("task_type", string(t.GetType())),
				slog.String("tasks", q.String()))

			q.SetStatus("run first task")
			taskRes := q.Handler(ctx, t)

			q.Remove(t.GetId())
			t.SetProcessing(false)

			if taskRes.Status == Fail {
				q.logger.Debug("queue task failed", slog.String("queue", q.Name), slog.String("task_id", t.GetId()))
			}

			q.SetStatus("")

			select {
			case <-q.ctx.Done():
				q.logger.Info("queue stopped after task handling", slog.String("name", q.Name))
				q.SetStatus("stop")
				return
			default:
			}
		}
	}()
	q.started = true
}

// waitForTask takes the head task or returns nil if context is canceled.
// An empty queue is checked every WaitLoopCheckInterval.
func (q *TaskQueue) waitForTask() task.Task {
	select {
	case <-q.ctx.Done():
		return nil
	default:
	}

	if t := q.TakeFirst(); t != nil {
		return t
	}

	waitBegin := time.Now()
	checkTicker := time.NewTicker(q.WaitLoopCheckInterval)
	defer checkTicker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return nil
		case <-checkTicker.C:
		}

		if t := q.TakeFirst(); t != nil {
			return t
		}

		q.SetStatus(fmt.Sprintf("waiting for task %s", time.Since(waitBegin).Truncate(time.Second).String()))
	}
}

// Dump tasks in queue to one line
func (q *TaskQueue) String() string {
	parts := make([]string, 0)
	q.Iterate(func(t task.Task) {
		parts = append(parts, fmt.Sprintf("[%s,id=%10.10s]", t.GetDescription(), t.GetId()))
	})

	return strings.Join(parts, ", ")
}

// updateLengthMetric should be called under lock.
func (q *TaskQueue) updateLengthMetric() {
	if q.metricStorage == nil {
		return
	}
	q.metricStorage.GaugeSet(metrics.TasksQueueLength, float64(q.items.Len()), map[string]string{"queue": q.Name})
}

func (q *TaskQueue) withLock(fn func()) {
	q.m.Lock()
	fn()
	q.m.Unlock()
}

func (q *TaskQueue) withRLock(fn func()) {
	q.m.RLock()
	fn()
	q.m.RUnlock()
}
