package workflow

import (
	"time"

	"github.com/Masterminds/semver/v3"

	smtypes "github.com/flant/news-operator/pkg/schedule_manager/types"
	"github.com/flant/news-operator/pkg/secret"
)

const (
	DefaultCrontab      = "0 * * * *"
	DefaultScheduleName = "hourly"
)

type ConcurrencyPolicy string

const (
	// ConcurrencyQueue keeps at most one pending run. Triggers are coalesced into it.
	ConcurrencyQueue ConcurrencyPolicy = "queue"
	// ConcurrencySkip drops a trigger while another run is pending or running.
	ConcurrencySkip ConcurrencyPolicy = "skip"
)

// Workflow is a definition of the automation: triggers, provisioning and the executed program.
type Workflow struct {
	ConfigVersion string            `json:"configVersion"`
	Name          string            `json:"name"`
	Triggers      *Triggers         `json:"triggers,omitempty"`
	Runtime       *Runtime          `json:"runtime,omitempty"`
	Install       *Install          `json:"install,omitempty"`
	Run           RunConfig         `json:"run"`
	Secrets       []secret.Ref      `json:"secrets,omitempty"`
	Concurrency   ConcurrencyPolicy `json:"concurrency,omitempty"`
	Timeout       string            `json:"timeout,omitempty"`
	WorkingDir    string            `json:"workingDir,omitempty"`

	// Fields below are computed by Load.

	Path              string                  `json:"-"`
	Dir               string                  `json:"-"`
	Checksum          string                  `json:"-"`
	Schedules         []smtypes.ScheduleEntry `json:"-"`
	ScheduleNames     map[string]string       `json:"-"`
	ManualDispatch    bool                    `json:"-"`
	RunArgv           []string                `json:"-"`
	InstallArgv       []string                `json:"-"`
	StepTimeout       time.Duration           `json:"-"`
	VersionConstraint *semver.Constraints     `json:"-"`
}

type Triggers struct {
	Schedule []Schedule `json:"schedule,omitempty"`
	Manual   *bool      `json:"manual,omitempty"`
}

type Schedule struct {
	Name string `json:"name,omitempty"`
	Cron string `json:"cron"`
}

type Runtime struct {
	Name        string   `json:"name"`
	Version     string   `json:"version,omitempty"`
	VersionArgs []string `json:"versionArgs,omitempty"`
}

type Install struct {
	Manifest string `json:"manifest,omitempty"`
	Command  string `json:"command,omitempty"`
}

type RunConfig struct {
	Command string            `json:"command"`
	Env     map[string]string `json:"env,omitempty"`
}

// HasProvisioning is true if the runtime check or the install command should run.
func (w *Workflow) HasProvisioning() bool {
	return w.Runtime != nil || len(w.InstallArgv) > 0
}

// ManifestPath returns an absolute path to the dependency manifest or empty string.
func (w *Workflow) ManifestPath() string {
	if w.Install == nil || w.Install.Manifest == "" {
		return ""
	}
	return w.resolvePath(w.Install.Manifest)
}

// VersionArgs returns arguments to print the runtime version.
func (w *Workflow) VersionArgs() []string {
	if w.Runtime == nil || len(w.Runtime.VersionArgs) == 0 {
		return []string{"--version"}
	}
	return w.Runtime.VersionArgs
}

// ScheduleName returns a name for the crontab or the crontab itself.
func (w *Workflow) ScheduleName(crontab string) string {
	if name, has := w.ScheduleNames[crontab]; has {
		return name
	}
	return crontab
}
