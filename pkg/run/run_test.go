package run

import (
	"testing"

	. "github.com/onsi/gomega"
)

func TestRun_Finish(t *testing.T) {
	tests := []struct {
		name   string
		steps  []StepResult
		status Status
	}{
		{
			name: "both steps succeeded",
			steps: []StepResult{
				{Name: StepProvision, Status: StatusSucceeded},
				{Name: StepExecute, Status: StatusSucceeded},
			},
			status: StatusSucceeded,
		},
		{
			name: "no provisioning",
			steps: []StepResult{
				{Name: StepExecute, Status: StatusSucceeded},
			},
			status: StatusSucceeded,
		},
		{
			name: "provisioning failed",
			steps: []StepResult{
				{Name: StepProvision, Status: StatusFailed, ExitCode: 1},
				{Name: StepExecute, Status: StatusSkipped},
			},
			status: StatusFailed,
		},
		{
			name: "execution failed",
			steps: []StepResult{
				{Name: StepProvision, Status: StatusSucceeded},
				{Name: StepExecute, Status: StatusFailed, ExitCode: 2},
			},
			status: StatusFailed,
		},
		{
			name:   "no steps",
			status: StatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)

			r := NewRun("get-news", TriggerManual, "")
			g.Expect(r.GetStatus()).Should(Equal(StatusQueued))
			r.Start()
			g.Expect(r.GetStatus()).Should(Equal(StatusRunning))
			for _, s := range tt.steps {
				r.AddStep(s)
			}

			g.Expect(r.Finish()).Should(Equal(tt.status))
			snap := r.Snapshot()
			g.Expect(snap.Status).Should(Equal(tt.status))
			g.Expect(snap.FinishedAt).ShouldNot(BeZero())
			g.Expect(snap.Steps).Should(HaveLen(len(tt.steps)))
			if tt.status == StatusFailed {
				g.Expect(snap.Reason).ShouldNot(BeEmpty())
			}
		})
	}
}

func TestRun_SkipAndCoalesce(t *testing.T) {
	g := NewWithT(t)

	r := NewRun("get-news", TriggerSchedule, "0 * * * *")
	g.Expect(r.ID).ShouldNot(BeEmpty())
	g.Expect(r.Coalesce()).Should(BeTrue())
	g.Expect(r.Coalesce()).Should(BeTrue())
	r.Skip("another run is in progress")
	g.Expect(r.Coalesce()).Should(BeFalse())

	snap := r.Snapshot()
	g.Expect(snap.Coalesced).Should(Equal(2))
	g.Expect(snap.Status).Should(Equal(StatusSkipped))
	g.Expect(snap.Status.Finished()).Should(BeTrue())
	g.Expect(snap.Reason).Should(Equal("another run is in progress"))
	g.Expect(StatusRunning.Finished()).Should(BeFalse())
}
