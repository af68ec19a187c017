package debug

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/muesli/termenv"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/flant/news-operator/pkg/app"
	"github.com/flant/news-operator/pkg/jq"
	"github.com/flant/news-operator/pkg/run"
	"github.com/flant/news-operator/pkg/utils/exponential_backoff"
)

var (
	outputFormat  = "text"
	jqFilter      = ""
	watch         = false
	watchInterval = "1s"
)

// ErrRunFailed is returned by dispatch --wait when the run did not succeed.
var ErrRunFailed = errors.New("run did not succeed")

func DefineDebugCommands(kpApp *kingpin.Application) {
	// Queue dump commands.
	queueCmd := app.CommandWithDefaultUsageTemplate(kpApp, "queue", "Dump the run queue.")

	queueMainCmd := queueCmd.Command("main", "Dump tasks in the main queue.").
		Action(func(_ *kingpin.ParseContext) error {
			out := termenv.NewOutput(os.Stdout)
			var refreshInterval time.Duration
			if watch {
				out.ClearScreen()
				out.MoveCursor(1, 1)
				var err error
				refreshInterval, err = time.ParseDuration(watchInterval)
				if err != nil {
					fmt.Fprintf(out, "couldn't parse watch refresh interval: %s, default 1s applied\n", err)
					refreshInterval = time.Second
				}
			}
			for {
				resp, err := Queue(DefaultClient()).Main(outputFormat)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(resp))

				if !watch {
					break
				}
				time.Sleep(refreshInterval)
				out.ClearScreen()
				out.MoveCursor(1, 1)
			}
			return nil
		})
	queueMainCmd.Flag("watch", "Keep watching.").Short('w').
		Default("false").
		BoolVar(&watch)
	queueMainCmd.Flag("watch-interval", "Watch refresh interval.").Short('t').
		Default(watchInterval).
		StringVar(&watchInterval)
	AddOutputJsonYamlTextFlag(queueMainCmd)
	app.DefineDebugUnixSocketFlag(queueMainCmd)

	// Run history commands.
	runsCmd := app.CommandWithDefaultUsageTemplate(kpApp, "runs", "Inspect recent runs.")

	runsListCmd := runsCmd.Command("list", "List recent runs, newest first.").
		Action(func(_ *kingpin.ParseContext) error {
			return printRuns(os.Stdout, Runs(DefaultClient()).List)
		})
	AddOutputJsonYamlTextFlag(runsListCmd)
	AddJqFilterFlag(runsListCmd)
	app.DefineDebugUnixSocketFlag(runsListCmd)

	var runID string
	runsGetCmd := runsCmd.Command("get", "Show one run with its steps.").
		Action(func(_ *kingpin.ParseContext) error {
			return printRuns(os.Stdout, func(format string) ([]byte, error) {
				return Runs(DefaultClient()).Get(runID, format)
			})
		})
	runsGetCmd.Arg("id", "A run id.").Required().StringVar(&runID)
	AddOutputJsonYamlTextFlag(runsGetCmd)
	AddJqFilterFlag(runsGetCmd)
	app.DefineDebugUnixSocketFlag(runsGetCmd)

	// Manual dispatch.
	var requester string
	var wait bool
	var waitTimeout time.Duration
	dispatchCmd := app.CommandWithDefaultUsageTemplate(kpApp, "dispatch", "Request a manual run of the workflow.").
		Action(func(_ *kingpin.ParseContext) error {
			client := DefaultClient()
			res, err := Dispatch(client).Request(requester)
			if err != nil {
				return err
			}
			fmt.Printf("run %s: %s\n", res.RunID, res.Result)
			if !wait || res.Result == DispatchSkipped {
				return nil
			}

			snap, err := Runs(client).WaitFinished(res.RunID, waitTimeout)
			if err != nil {
				return err
			}
			_ = writeRunsText(os.Stdout, []run.Snapshot{snap})
			if snap.Status != run.StatusSucceeded {
				return fmt.Errorf("%w: %s", ErrRunFailed, snap.Status)
			}
			return nil
		})
	dispatchCmd.Flag("requester", "Who requested the run. Recorded in run history.").
		Default(defaultRequester()).
		StringVar(&requester)
	dispatchCmd.Flag("wait", "Wait for the run to finish and exit non-zero if it failed.").
		Default("false").
		BoolVar(&wait)
	dispatchCmd.Flag("wait-timeout", "Maximum time to wait for the run.").
		Default("2h").
		DurationVar(&waitTimeout)
	app.DefineDebugUnixSocketFlag(dispatchCmd)

	// Runtime config command.
	configCmd := app.CommandWithDefaultUsageTemplate(kpApp, "config", "Manage runtime parameters.")

	configListCmd := configCmd.Command("list", "List available runtime parameters.").
		Action(func(_ *kingpin.ParseContext) error {
			out, err := Config(DefaultClient()).List(outputFormat)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		})
	AddOutputJsonYamlTextFlag(configListCmd)
	app.DefineDebugUnixSocketFlag(configListCmd)

	var paramName string
	var paramValue string
	var paramDuration time.Duration
	configSetCmd := configCmd.Command("set", "Set runtime parameter.").
		Action(func(_ *kingpin.ParseContext) error {
			out, err := Config(DefaultClient()).Set(paramName, paramValue, paramDuration)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		})
	configSetCmd.Arg("name", "A name of runtime parameter").Required().StringVar(&paramName)
	configSetCmd.Arg("value", "A new value for the runtime parameter").Required().StringVar(&paramValue)
	configSetCmd.Arg("duration", "Set value for a period of time, then return a previous value. Use Go notation: 10s, 15m30s, etc.").DurationVar(&paramDuration)
	app.DefineDebugUnixSocketFlag(configSetCmd)

	// Raw request command
	var rawUrl string
	rawCommand := app.CommandWithDefaultUsageTemplate(kpApp, "raw", "Make a raw request to debug endpoint.").
		Action(func(_ *kingpin.ParseContext) error {
			url := fmt.Sprintf("http://unix%s", rawUrl)
			resp, err := DefaultClient().Get(url)
			if err != nil {
				return err
			}
			fmt.Println(string(resp))
			return nil
		})
	rawCommand.Arg("urlpath", "An url to send to debug endpoint. Example: /runs/list.json").StringVar(&rawUrl)
	app.DefineDebugUnixSocketFlag(rawCommand)
}

func AddOutputJsonYamlTextFlag(cmd *kingpin.CmdClause) {
	cmd.Flag("output", "Output format: json|yaml|text.").Short('o').
		Default("text").
		EnumVar(&outputFormat, "json", "yaml", "text")
}

func AddJqFilterFlag(cmd *kingpin.CmdClause) {
	cmd.Flag("jq", "Apply a jq filter to the json output.").
		StringVar(&jqFilter)
}

func defaultRequester() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

// printRuns fetches runs and prints them using the output format.
// Text output is rendered client side from json.
func printRuns(w io.Writer, fetch func(format string) ([]byte, error)) error {
	format := outputFormat
	if format == "text" || jqFilter != "" {
		format = "json"
	}

	resp, err := fetch(format)
	if err != nil {
		return err
	}

	if jqFilter != "" {
		filtered, err := jq.ApplyFilter(jqFilter, resp)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(filtered))
		return err
	}

	if outputFormat != "text" {
		_, err = fmt.Fprintln(w, string(resp))
		return err
	}

	snaps, err := decodeSnapshots(resp)
	if err != nil {
		return err
	}
	return writeRunsText(w, snaps)
}

// decodeSnapshots accepts a list of runs or a single run.
func decodeSnapshots(data []byte) ([]run.Snapshot, error) {
	var snaps []run.Snapshot
	if err := json.Unmarshal(data, &snaps); err == nil {
		return snaps, nil
	}
	var snap run.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode runs: %w", err)
	}
	return []run.Snapshot{snap}, nil
}

func writeRunsText(w io.Writer, snaps []run.Snapshot) error {
	out := termenv.NewOutput(w)

	b := new(strings.Builder)
	fmt.Fprintf(b, "%-36s %-9s %-10s %-20s %-10s %s\n", "ID", "TRIGGER", "STATUS", "QUEUED AT", "DURATION", "STEPS")
	for _, s := range snaps {
		steps := make([]string, 0, len(s.Steps))
		for _, st := range s.Steps {
			steps = append(steps, fmt.Sprintf("%s=%s(%d)", st.Name, st.Status, st.ExitCode))
		}
		if s.Reason != "" {
			steps = append(steps, "reason: "+s.Reason)
		}

		var duration string
		if !s.StartedAt.IsZero() && !s.FinishedAt.IsZero() {
			duration = s.FinishedAt.Sub(s.StartedAt).Truncate(time.Millisecond).String()
		}

		status := out.String(fmt.Sprintf("%-10s", s.Status)).Foreground(statusColor(out, s.Status))
		fmt.Fprintf(b, "%-36s %-9s %s %-20s %-10s %s\n",
			s.ID, s.Trigger, status, s.QueuedAt.UTC().Format(time.DateTime), duration, strings.Join(steps, ", "))
	}

	_, err := io.WriteString(out, b.String())
	return err
}

func statusColor(out *termenv.Output, status run.Status) termenv.Color {
	switch status {
	case run.StatusSucceeded:
		return out.Color("2")
	case run.StatusFailed:
		return out.Color("1")
	case run.StatusSkipped:
		return out.Color("3")
	case run.StatusRunning:
		return out.Color("6")
	}
	return out.Color("7")
}

type QueueRequest struct {
	client *Client
}

func Queue(client *Client) *QueueRequest {
	return &QueueRequest{
		client: client,
	}
}

func (qr *QueueRequest) Main(format string) ([]byte, error) {
	url := fmt.Sprintf("http://unix/queue/main.%s", format)
	return qr.client.Get(url)
}

type RunsRequest struct {
	client *Client
}

func Runs(client *Client) *RunsRequest {
	return &RunsRequest{client: client}
}

func (r *RunsRequest) List(format string) ([]byte, error) {
	return r.client.Get(fmt.Sprintf("http://unix/runs/list.%s", format))
}

func (r *RunsRequest) Get(id string, format string) ([]byte, error) {
	return r.client.Get(fmt.Sprintf("http://unix/runs/%s.%s", url.PathEscape(id), format))
}

// WaitFinished polls a run until it reaches a terminal status.
func (r *RunsRequest) WaitFinished(id string, timeout time.Duration) (run.Snapshot, error) {
	deadline := time.Now().Add(timeout)
	for i := 0; ; i++ {
		resp, err := r.Get(id, "json")
		if err != nil {
			return run.Snapshot{}, err
		}
		var snap run.Snapshot
		if err := json.Unmarshal(resp, &snap); err != nil {
			return run.Snapshot{}, fmt.Errorf("decode run: %w", err)
		}
		if snap.Status.Finished() {
			return snap, nil
		}

		delay := exponential_backoff.Delay(500*time.Millisecond, 10*time.Second, i)
		if time.Now().Add(delay).After(deadline) {
			return snap, fmt.Errorf("run %s is still %s after %s", id, snap.Status, timeout)
		}
		time.Sleep(delay)
	}
}

// Dispatch results as returned by the debug endpoint.
const (
	DispatchQueued    = "queued"
	DispatchCoalesced = "coalesced"
	DispatchSkipped   = "skipped"
)

type DispatchResponse struct {
	RunID  string `json:"runId"`
	Result string `json:"result"`
}

type DispatchRequest struct {
	client *Client
}

func Dispatch(client *Client) *DispatchRequest {
	return &DispatchRequest{client: client}
}

func (dr *DispatchRequest) Request(requester string) (DispatchResponse, error) {
	data := url.Values{"requester": {requester}}
	resp, err := dr.client.Post("http://unix/dispatch", data)
	if err != nil {
		return DispatchResponse{}, err
	}

	var res DispatchResponse
	if err := json.Unmarshal(resp, &res); err != nil {
		return DispatchResponse{}, fmt.Errorf("decode dispatch response: %w", err)
	}
	return res, nil
}

type ConfigRequest struct {
	client *Client
}

func Config(client *Client) *ConfigRequest {
	return &ConfigRequest{
		client: client,
	}
}

func (cr *ConfigRequest) List(format string) ([]byte, error) {
	url := fmt.Sprintf("http://unix/config/list.%s", format)
	return cr.client.Get(url)
}

func (cr *ConfigRequest) Set(name string, value string, duration time.Duration) ([]byte, error) {
	data := url.Values{
		"name":  {name},
		"value": {value},
	}
	if duration != 0 {
		data["duration"] = []string{duration.String()}
	}
	return cr.client.Post("http://unix/config/set", data)
}
