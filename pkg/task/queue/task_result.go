package queue

type TaskStatus string

const (
	Success TaskStatus = "Success"
	Fail    TaskStatus = "Fail"
)

// TaskResult is returned by a queue handler. A task is removed from the queue in both cases:
// a failed run is final and is never retried by the queue.
type TaskResult struct {
	Status TaskStatus
}
