package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/shlex"
	"github.com/hashicorp/go-multierror"
	"sigs.k8s.io/yaml"

	schedulemanager "github.com/flant/news-operator/pkg/schedule_manager"
	smtypes "github.com/flant/news-operator/pkg/schedule_manager/types"
	"github.com/flant/news-operator/pkg/utils/checksum"
)

const VersionKey = "configVersion"

var envNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Load reads, validates and completes a workflow definition from the file.
func Load(path string) (*Workflow, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("workflow path '%s': %w", path, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}

	return LoadBytes(data, absPath)
}

// LoadBytes validates data and completes a workflow as if it is loaded from path.
// Relative paths in the workflow are resolved from the directory of path.
func LoadBytes(data []byte, path string) (*Workflow, error) {
	// - unmarshal into map
	// - detect version
	// - validate with openapi schema
	// - load again as typed struct
	// - set defaults and make complex checks

	obj := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %v", err)
	}

	version, err := configVersion(obj)
	if err != nil {
		return nil, err
	}

	if err := ValidateConfig(obj, GetSchema(version), "workflow"); err != nil {
		return nil, err
	}

	w := &Workflow{}
	if err := yaml.Unmarshal(data, w); err != nil {
		return nil, fmt.Errorf("unmarshal workflow %s: %v", version, err)
	}

	w.Path = path
	w.Checksum = checksum.Bytes(data)

	if err := w.ConvertAndCheck(); err != nil {
		return nil, err
	}
	return w, nil
}

func configVersion(obj map[string]interface{}) (string, error) {
	val, found := obj[VersionKey]
	if !found || val == nil {
		return "", fmt.Errorf("missing '%s' value", VersionKey)
	}
	version, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("string value is expected for key '%s'", VersionKey)
	}
	if _, hasSchema := Schemas[version]; !hasSchema {
		return "", fmt.Errorf("'%s' value '%s' is unsupported", VersionKey, version)
	}
	return version, nil
}

// ConvertAndCheck fills computed fields and checks what the schema cannot express.
func (w *Workflow) ConvertAndCheck() error {
	var allErrs *multierror.Error

	if w.Concurrency == "" {
		w.Concurrency = ConcurrencyQueue
	}

	if err := w.checkWorkingDir(); err != nil {
		allErrs = multierror.Append(allErrs, err)
	}

	allErrs = multierror.Append(allErrs, w.checkTriggers()...)

	if w.Runtime != nil && w.Runtime.Version != "" {
		c, err := semver.NewConstraint(w.Runtime.Version)
		if err != nil {
			allErrs = multierror.Append(allErrs, fmt.Errorf("runtime.version '%s' is not a valid semver constraint: %v", w.Runtime.Version, err))
		}
		w.VersionConstraint = c
	}

	allErrs = multierror.Append(allErrs, w.checkInstall()...)
	allErrs = multierror.Append(allErrs, w.checkRun()...)
	allErrs = multierror.Append(allErrs, w.checkSecrets()...)

	if w.Timeout != "" {
		d, err := time.ParseDuration(w.Timeout)
		switch {
		case err != nil:
			allErrs = multierror.Append(allErrs, fmt.Errorf("timeout '%s': %v", w.Timeout, err))
		case d < 0:
			allErrs = multierror.Append(allErrs, fmt.Errorf("timeout '%s' should not be negative", w.Timeout))
		default:
			w.StepTimeout = d
		}
	}

	return allErrs.ErrorOrNil()
}

func (w *Workflow) checkWorkingDir() error {
	base := filepath.Dir(w.Path)
	dir := w.WorkingDir
	switch {
	case dir == "":
		dir = base
	case !filepath.IsAbs(dir):
		dir = filepath.Join(base, dir)
	}
	w.Dir = filepath.Clean(dir)

	info, err := os.Stat(w.Dir)
	if err != nil {
		return fmt.Errorf("workingDir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("workingDir '%s' is not a directory", w.Dir)
	}
	return nil
}

func (w *Workflow) checkTriggers() []error {
	var errs []error

	schedules := []Schedule{{Name: DefaultScheduleName, Cron: DefaultCrontab}}
	w.ManualDispatch = true
	if w.Triggers != nil {
		schedules = w.Triggers.Schedule
		if w.Triggers.Manual != nil {
			w.ManualDispatch = *w.Triggers.Manual
		}
	}

	w.Schedules = make([]smtypes.ScheduleEntry, 0, len(schedules))
	w.ScheduleNames = make(map[string]string, len(schedules))
	for i, s := range schedules {
		if _, err := schedulemanager.Parse(s.Cron); err != nil {
			errs = append(errs, fmt.Errorf("triggers.schedule[%d].cron '%s': %v", i, s.Cron, err))
			continue
		}
		name := s.Name
		if name == "" {
			name = s.Cron
		}
		w.Schedules = append(w.Schedules, smtypes.ScheduleEntry{
			Crontab: s.Cron,
			Id:      fmt.Sprintf("%s/%s", w.Name, name),
		})
		w.ScheduleNames[s.Cron] = name
	}

	if len(w.Schedules) == 0 && !w.ManualDispatch && len(errs) == 0 {
		errs = append(errs, fmt.Errorf("triggers: no schedule and manual dispatch is disabled, workflow can never run"))
	}
	return errs
}

func (w *Workflow) checkInstall() []error {
	if w.Install == nil {
		return nil
	}
	var errs []error

	if w.Install.Manifest != "" {
		if _, err := os.Stat(w.ManifestPath()); err != nil {
			errs = append(errs, fmt.Errorf("install.manifest: %w", err))
		}
	}

	if w.Install.Command != "" {
		argv, err := shlex.Split(w.Install.Command)
		if err != nil || len(argv) == 0 {
			errs = append(errs, fmt.Errorf("install.command '%s' cannot be parsed: %v", w.Install.Command, err))
		}
		w.InstallArgv = argv
		return errs
	}

	// Default command for known runtimes.
	if w.Install.Manifest != "" {
		if w.Runtime != nil && isPython(w.Runtime.Name) {
			w.InstallArgv = []string{w.Runtime.Name, "-m", "pip", "install", "-r", w.ManifestPath()}
		} else {
			errs = append(errs, fmt.Errorf("install.command is required for manifest '%s' with this runtime", w.Install.Manifest))
		}
	}
	return errs
}

func (w *Workflow) checkRun() []error {
	var errs []error

	argv, err := shlex.Split(w.Run.Command)
	if err != nil || len(argv) == 0 {
		errs = append(errs, fmt.Errorf("run.command '%s' cannot be parsed: %v", w.Run.Command, err))
	}
	w.RunArgv = argv

	secretNames := map[string]struct{}{}
	for _, ref := range w.Secrets {
		secretNames[ref.Name] = struct{}{}
	}

	for name, value := range w.Run.Env {
		if !envNameRe.MatchString(name) {
			errs = append(errs, fmt.Errorf("run.env: '%s' is not a valid variable name", name))
		}
		if _, has := secretNames[name]; has {
			errs = append(errs, fmt.Errorf("run.env: '%s' is defined as a secret", name))
		}
		if _, err := newEnvTemplate(name, value); err != nil {
			errs = append(errs, fmt.Errorf("run.env: '%s': %v", name, err))
		}
	}
	return errs
}

func (w *Workflow) checkSecrets() []error {
	var errs []error

	seen := make(map[string]struct{}, len(w.Secrets))
	for i, ref := range w.Secrets {
		if _, dup := seen[ref.Name]; dup {
			errs = append(errs, fmt.Errorf("secrets[%d]: duplicate name '%s'", i, ref.Name))
		}
		seen[ref.Name] = struct{}{}

		if err := ref.From.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("secrets[%d] '%s': %v", i, ref.Name, err))
		}
	}
	return errs
}

func (w *Workflow) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(w.Dir, p)
}

func isPython(runtime string) bool {
	return strings.HasPrefix(filepath.Base(runtime), "python")
}

// NextRun is a planned fire time of a schedule.
type NextRun struct {
	Name    string    `json:"name"`
	Crontab string    `json:"crontab"`
	Time    time.Time `json:"time"`
}

// NextRuns returns n next fire times for every schedule after from.
func (w *Workflow) NextRuns(from time.Time, n int) ([]NextRun, error) {
	if n < 1 {
		return nil, fmt.Errorf("count of next runs should be positive, got %d", n)
	}
	res := make([]NextRun, 0, len(w.Schedules)*n)
	for _, entry := range w.Schedules {
		times, err := schedulemanager.NextFireTimes(entry.Crontab, from, n)
		if err != nil {
			return nil, err
		}
		for _, t := range times {
			res = append(res, NextRun{Name: w.ScheduleName(entry.Crontab), Crontab: entry.Crontab, Time: t})
		}
	}
	return res, nil
}
