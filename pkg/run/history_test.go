package run

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory(t *testing.T) {
	h := NewHistory(3)

	runs := make([]*Run, 0, 4)
	for i := 0; i < 4; i++ {
		r := NewRun("get-news", TriggerSchedule, "0 * * * *")
		r.Skip("test")
		runs = append(runs, r)
		h.Add(r)
		h.Add(r) // adding twice is a no-op
	}

	assert.Equal(t, 3, h.Len())

	// The oldest run is evicted.
	_, err := h.Get(runs[0].ID)
	assert.ErrorIs(t, err, ErrRunNotFound)

	got, err := h.Get(runs[2].ID)
	require.NoError(t, err)
	assert.Same(t, runs[2], got)

	list := h.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{runs[3].ID, runs[2].ID, runs[1].ID}, []string{list[0].ID, list[1].ID, list[2].ID})
	assert.Same(t, runs[3], h.Last())
}

func TestHistory_Last(t *testing.T) {
	h := NewHistory(3)

	queued := NewRun("get-news", TriggerSchedule, "0 * * * *")
	h.Add(queued)
	assert.Nil(t, h.Last())

	skipped := NewRun("get-news", TriggerManual, "")
	skipped.Skip("test")
	h.Add(skipped)
	assert.Same(t, skipped, h.Last())

	// A run queued earlier and finished later is not the newest one.
	queued.Start()
	queued.AddStep(StepResult{Name: StepExecute, Status: StatusSucceeded})
	queued.Finish()
	assert.Same(t, skipped, h.Last())
}

func TestHistory_KeepsUnfinishedRuns(t *testing.T) {
	h := NewHistory(2)

	running := NewRun("get-news", TriggerSchedule, "0 * * * *")
	running.Start()
	h.Add(running)

	queued := NewRun("get-news", TriggerManual, "")
	h.Add(queued)

	for i := 0; i < 10; i++ {
		r := NewRun("get-news", TriggerManual, "")
		r.Skip("test")
		h.Add(r)
	}

	got, err := h.Get(running.ID)
	require.NoError(t, err)
	assert.Same(t, running, got)
	got, err = h.Get(queued.ID)
	require.NoError(t, err)
	assert.Same(t, queued, got)

	// Both unfinished runs and the newest skipped one.
	assert.Equal(t, 3, h.Len())

	// Once finished, the runs are evicted as usual.
	running.AddStep(StepResult{Name: StepExecute, Status: StatusFailed})
	running.Finish()
	queued.Skip("test")
	for i := 0; i < 2; i++ {
		r := NewRun("get-news", TriggerManual, "")
		r.Skip("test")
		h.Add(r)
	}
	assert.Equal(t, 2, h.Len())
	_, err = h.Get(running.ID)
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = h.Get(queued.ID)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestHistory_DefaultSize(t *testing.T) {
	h := NewHistory(0)
	for i := 0; i < DefaultHistorySize+5; i++ {
		r := NewRun("get-news", TriggerManual, "")
		r.Skip("test")
		h.Add(r)
	}
	assert.Equal(t, DefaultHistorySize, h.Len())
	assert.Len(t, h.List(), DefaultHistorySize)
}
