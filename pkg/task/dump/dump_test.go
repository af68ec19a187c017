package dump

import (
	"encoding/json"
	"fmt"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/flant/news-operator/pkg/task"
	"github.com/flant/news-operator/pkg/task/queue"
)

type testMeta string

func (m testMeta) GetDescription() string {
	return string(m)
}

func Test_Dump(t *testing.T) {
	g := NewWithT(t)

	q := queue.NewTasksQueue(nil, queue.WithName("main"))

	dump := TaskQueue(q, "text")
	g.Expect(dump).To(Equal("Queue 'main': empty\n"))

	data, err := json.Marshal(TaskQueue(q, "json"))
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(string(data)).To(MatchJSON(`{"name":"main","tasksCount":0}`))

	for i := 0; i < 3; i++ {
		tsk := &task.BaseTask{Id: fmt.Sprintf("task_%d", i), Type: "RunWorkflow", QueueName: "main"}
		tsk.WithMetadata(testMeta(fmt.Sprintf("get-news:manual:%d", i)))
		q.AddLast(tsk)
	}
	q.GetFirst().SetProcessing(true)

	dump = TaskQueue(q, "text")
	g.Expect(dump).To(ContainSubstring("Queue 'main': 3 tasks"))
	g.Expect(dump).To(ContainSubstring("1. RunWorkflow:main:get-news:manual:0 [running]"))
	g.Expect(dump).To(ContainSubstring("3. RunWorkflow:main:get-news:manual:2\n"))

	dq, ok := TaskQueue(q, "yaml").(dumpQueue)
	g.Expect(ok).To(BeTrue())
	g.Expect(dq.TasksCount).To(Equal(3))
	g.Expect(dq.Tasks[0].Processing).To(BeTrue())
	g.Expect(dq.Tasks[1].QueuedAt).ToNot(BeEmpty())
}
