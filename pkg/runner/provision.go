package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/deckhouse/deckhouse/pkg/log"

	"github.com/flant/news-operator/pkg/executor"
	"github.com/flant/news-operator/pkg/run"
	"github.com/flant/news-operator/pkg/utils/checksum"
	utils "github.com/flant/news-operator/pkg/utils/file"
	"github.com/flant/news-operator/pkg/workflow"
)

var versionRe = regexp.MustCompile(`\d+\.\d+(\.\d+)?`)

// ParseRuntimeVersion returns the first version-looking token of a "--version" output.
func ParseRuntimeVersion(output string) (*semver.Version, error) {
	token := versionRe.FindString(output)
	if token == "" {
		return nil, fmt.Errorf("no version in output '%s'", strings.TrimSpace(output))
	}
	return semver.NewVersion(token)
}

// provision checks the runtime and installs dependencies. Secrets are not in env.
func (r *Runner) provision(ctx context.Context, logger *log.Logger, wf *workflow.Workflow, env []string) run.StepResult {
	ctx, span := r.startStepSpan(ctx, run.StepProvision)
	logger = logger.With(slog.String("step", run.StepProvision))

	step := run.StepResult{Name: run.StepProvision, StartedAt: time.Now()}
	defer func() {
		endStepSpan(span, step)
	}()

	stepCtx, cancel := stepContext(ctx, wf)
	defer cancel()

	if wf.Runtime != nil {
		version, err := r.checkRuntime(stepCtx, logger, wf, env)
		if err != nil {
			step.Status = run.StatusFailed
			step.ExitCode = executor.ExitCode(err)
			step.Error = err.Error()
			step.FinishedAt = time.Now()
			r.observeStep(wf, step)
			logger.Error("runtime check failed", log.Err(err))
			return step
		}
		logger.Info("runtime checked",
			slog.String("runtime", wf.Runtime.Name),
			slog.String("version", version.String()))
	}

	if len(wf.InstallArgv) > 0 {
		if manifest := wf.ManifestPath(); manifest != "" {
			if sum, err := checksum.File(manifest); err == nil {
				logger.Info("install dependencies", slog.String("manifest", manifest), slog.String("checksum", sum))
			}
		}

		program, err := utils.ResolveProgram(wf.Dir, wf.InstallArgv[0])
		if err != nil {
			step.Status = run.StatusFailed
			step.ExitCode = -1
			step.Error = fmt.Sprintf("install.command: %v", err)
			step.FinishedAt = time.Now()
			r.observeStep(wf, step)
			logger.Error("install failed", log.Err(err))
			return step
		}

		e := executor.NewExecutor(wf.Dir, program, wf.InstallArgv[1:], env).
			WithLogProxyJSON(r.logProxyJSON).
			WithLineSink(r.sink).
			WithLogger(logger)

		u, err := e.RunAndLogLines(stepCtx, map[string]string{"step": run.StepProvision})
		step.Usage = usage(u)
		if err != nil {
			step.Status = run.StatusFailed
			step.ExitCode = executor.ExitCode(err)
			step.Error = stepError(stepCtx, fmt.Errorf("install command: %w", err), wf.StepTimeout)
			step.FinishedAt = time.Now()
			r.observeStep(wf, step)
			logger.Error("install failed", slog.Int("exit_code", step.ExitCode), log.Err(err))
			return step
		}
	}

	step.Status = run.StatusSucceeded
	step.FinishedAt = time.Now()
	r.observeStep(wf, step)
	return step
}

func (r *Runner) checkRuntime(ctx context.Context, logger *log.Logger, wf *workflow.Workflow, env []string) (*semver.Version, error) {
	path, err := exec.LookPath(wf.Runtime.Name)
	if err != nil {
		return nil, fmt.Errorf("runtime '%s': %w", wf.Runtime.Name, err)
	}

	out, err := executor.NewExecutor(wf.Dir, path, wf.VersionArgs(), env).
		WithLogger(logger).
		Output(ctx)
	if err != nil {
		return nil, fmt.Errorf("runtime '%s' version: %w", wf.Runtime.Name, err)
	}

	version, err := ParseRuntimeVersion(string(out))
	if err != nil {
		return nil, fmt.Errorf("runtime '%s': %w", wf.Runtime.Name, err)
	}

	if wf.VersionConstraint != nil {
		if ok, errs := wf.VersionConstraint.Validate(version); !ok {
			msgs := make([]string, 0, len(errs))
			for _, e := range errs {
				msgs = append(msgs, e.Error())
			}
			return version, fmt.Errorf("runtime '%s' version %s does not satisfy '%s': %s",
				wf.Runtime.Name, version, wf.Runtime.Version, strings.Join(msgs, "; "))
		}
	}

	return version, nil
}
