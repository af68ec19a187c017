package task

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid/v5"

	utils "github.com/flant/news-operator/pkg/utils/labels"
)

type TaskType string

// Task is an item of the task queue.
type Task interface {
	GetId() string
	GetType() TaskType
	GetLogLabels() map[string]string
	GetQueueName() string
	GetQueuedAt() time.Time
	WithQueuedAt(time.Time) Task
	GetMetadata() any
	GetDescription() string
	SetProcessing(bool)
	IsProcessing() bool
}

// Describer is implemented by metadata that adds details to the task description.
type Describer interface {
	GetDescription() string
}

type BaseTask struct {
	Id        string
	Type      TaskType
	LogLabels map[string]string
	QueueName string
	QueuedAt  time.Time

	mu         sync.RWMutex
	metadata   any
	processing atomic.Bool
}

func NewTask(taskType TaskType) *BaseTask {
	id := uuid.Must(uuid.NewV4()).String()
	return &BaseTask{
		Id:        id,
		Type:      taskType,
		LogLabels: map[string]string{"task.id": id},
	}
}

func (t *BaseTask) WithLogLabels(labels map[string]string) *BaseTask {
	t.LogLabels = utils.MergeLabels(t.LogLabels, labels)
	return t
}

func (t *BaseTask) WithQueueName(name string) *BaseTask {
	t.QueueName = name
	return t
}

func (t *BaseTask) WithMetadata(metadata any) *BaseTask {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metadata = metadata
	return t
}

// WithQueuedAt is called by the queue when the task is added.
func (t *BaseTask) WithQueuedAt(queuedAt time.Time) Task {
	t.QueuedAt = queuedAt
	return t
}

func (t *BaseTask) GetId() string                   { return t.Id }
func (t *BaseTask) GetType() TaskType               { return t.Type }
func (t *BaseTask) GetLogLabels() map[string]string { return t.LogLabels }
func (t *BaseTask) GetQueueName() string            { return t.QueueName }
func (t *BaseTask) GetQueuedAt() time.Time          { return t.QueuedAt }

func (t *BaseTask) GetMetadata() any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.metadata
}

// SetProcessing marks the task as handled right now. Such a task is not pending anymore.
func (t *BaseTask) SetProcessing(val bool) {
	t.processing.Store(val)
}

func (t *BaseTask) IsProcessing() bool {
	return t.processing.Load()
}

// GetDescription returns "type:queue" with the metadata description appended.
func (t *BaseTask) GetDescription() string {
	desc := fmt.Sprintf("%s:%s", t.Type, t.QueueName)
	if d, ok := t.GetMetadata().(Describer); ok {
		desc += ":" + d.GetDescription()
	}
	return desc
}
