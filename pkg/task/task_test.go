package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type runMeta struct{}

func (runMeta) GetDescription() string { return "get-news:schedule" }

func TestNewTask(t *testing.T) {
	tsk := NewTask("RunWorkflow").
		WithQueueName("main").
		WithLogLabels(map[string]string{"workflow": "get-news"}).
		WithMetadata(runMeta{})

	assert.NotEmpty(t, tsk.GetId())
	assert.Equal(t, tsk.GetId(), tsk.GetLogLabels()["task.id"])
	assert.Equal(t, "get-news", tsk.GetLogLabels()["workflow"])
	assert.Equal(t, "RunWorkflow:main:get-news:schedule", tsk.GetDescription())

	assert.False(t, tsk.IsProcessing())
	tsk.SetProcessing(true)
	assert.True(t, tsk.IsProcessing())

	other := NewTask("RunWorkflow")
	assert.NotEqual(t, tsk.GetId(), other.GetId())
}
