package dump

import (
	"fmt"
	"strings"

	"github.com/flant/news-operator/pkg/task"
	"github.com/flant/news-operator/pkg/task/queue"
)

type dumpTask struct {
	Index       int    `json:"index"`
	Description string `json:"description"`
	Processing  bool   `json:"processing,omitempty"`
	QueuedAt    string `json:"queuedAt,omitempty"`
}

type dumpQueue struct {
	Name       string     `json:"name"`
	Status     string     `json:"status,omitempty"`
	TasksCount int        `json:"tasksCount"`
	Tasks      []dumpTask `json:"tasks,omitempty"`
}

// TaskQueue dumps a queue as a text for "text" format or as a struct for other formats.
func TaskQueue(q *queue.TaskQueue, format string) interface{} {
	dq := dumpQueue{
		Name:   q.Name,
		Status: q.GetStatus(),
		Tasks:  make([]dumpTask, 0),
	}

	index := 1
	q.IterateSnapshot(func(t task.Task) {
		dt := dumpTask{
			Index:       index,
			Description: t.GetDescription(),
			Processing:  t.IsProcessing(),
		}
		if !t.GetQueuedAt().IsZero() {
			dt.QueuedAt = t.GetQueuedAt().UTC().Format("2006-01-02T15:04:05Z")
		}
		dq.Tasks = append(dq.Tasks, dt)
		index++
	})
	dq.TasksCount = len(dq.Tasks)

	if format == "text" {
		return taskQueueToText(dq)
	}

	return dq
}

func taskQueueToText(dq dumpQueue) string {
	var buf strings.Builder

	status := ""
	if dq.Status != "" {
		status = fmt.Sprintf(" (%s)", dq.Status)
	}

	if dq.TasksCount == 0 {
		buf.WriteString(fmt.Sprintf("Queue '%s'%s: empty\n", dq.Name, status))
		return buf.String()
	}

	buf.WriteString(fmt.Sprintf("Queue '%s'%s: %d tasks\n", dq.Name, status, dq.TasksCount))
	for _, t := range dq.Tasks {
		processing := ""
		if t.Processing {
			processing = " [running]"
		}
		buf.WriteString(fmt.Sprintf("%d. %s%s\n", t.Index, t.Description, processing))
	}

	return buf.String()
}
