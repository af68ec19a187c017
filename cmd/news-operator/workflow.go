package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/flant/news-operator/pkg/app"
	"github.com/flant/news-operator/pkg/workflow"
)

func defineWorkflowCommands(kpApp *kingpin.Application) {
	workflowCmd := app.CommandWithDefaultUsageTemplate(kpApp, "workflow", "Inspect the workflow definition.")

	validateCmd := workflowCmd.Command("validate", "Load and validate the workflow file.").
		Action(func(_ *kingpin.ParseContext) error {
			wf, err := workflow.Load(app.WorkflowPath)
			if err != nil {
				return err
			}
			fmt.Printf("workflow '%s' is valid, checksum %s\n", wf.Name, wf.Checksum)
			fmt.Printf("  schedules: %d, manual dispatch: %t, concurrency: %s\n", len(wf.Schedules), wf.ManualDispatch, wf.Concurrency)
			return nil
		})
	app.DefineWorkflowFlag(validateCmd)

	var count int
	nextCmd := workflowCmd.Command("next", "Show next scheduled runs in UTC.").
		Action(func(_ *kingpin.ParseContext) error {
			wf, err := workflow.Load(app.WorkflowPath)
			if err != nil {
				return err
			}
			nextRuns, err := wf.NextRuns(time.Now(), count)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SCHEDULE\tCRONTAB\tTIME")
			for _, next := range nextRuns {
				fmt.Fprintf(w, "%s\t%s\t%s\n", next.Name, next.Crontab, next.Time.Format(time.RFC3339))
			}
			return w.Flush()
		})
	app.DefineWorkflowFlag(nextCmd)
	nextCmd.Flag("count", "How many fire times to show for each schedule.").
		Short('n').
		Default("5").
		IntVar(&count)
}
