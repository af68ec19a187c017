package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/deckhouse/deckhouse/pkg/log"

	"github.com/flant/news-operator/pkg/executor"
	"github.com/flant/news-operator/pkg/run"
	"github.com/flant/news-operator/pkg/secret"
	utils "github.com/flant/news-operator/pkg/utils/file"
	"github.com/flant/news-operator/pkg/workflow"
)

// execute resolves secrets and runs the program. Secret values exist only in this step env.
func (r *Runner) execute(ctx context.Context, logger *log.Logger, wf *workflow.Workflow, rn *run.Run, baseEnv []string) run.StepResult {
	ctx, span := r.startStepSpan(ctx, run.StepExecute)
	logger = logger.With(slog.String("step", run.StepExecute))

	step := run.StepResult{Name: run.StepExecute, StartedAt: time.Now()}
	defer func() {
		endStepSpan(span, step)
	}()

	fail := func(err error) run.StepResult {
		step.Status = run.StatusFailed
		if step.ExitCode == 0 {
			step.ExitCode = -1
		}
		step.Error = err.Error()
		step.FinishedAt = time.Now()
		r.observeStep(wf, step)
		logger.Error("execution failed", slog.Int("exit_code", step.ExitCode), log.Err(err))
		return step
	}

	snap := rn.Snapshot()
	rendered, err := wf.RenderEnv(workflow.TemplateData{
		Workflow:    wf.Name,
		RunID:       snap.ID,
		Trigger:     string(snap.Trigger),
		TriggerInfo: snap.TriggerInfo,
	})
	if err != nil {
		return fail(err)
	}

	values, err := r.secrets.InDir(wf.Dir).Resolve(ctx, wf.Secrets)
	if err != nil {
		r.observeSecretErrors(wf, err)
		return fail(fmt.Errorf("resolve secrets: %w", err))
	}
	redactor := secret.NewRedactor(values)

	env, err := mergeEnv(baseEnv, rendered, values)
	if err != nil {
		return fail(err)
	}

	program, err := utils.ResolveProgram(wf.Dir, wf.RunArgv[0])
	if err != nil {
		return fail(fmt.Errorf("run.command: %w", err))
	}

	stepCtx, cancel := stepContext(ctx, wf)
	defer cancel()

	logger.Info("execute program",
		slog.String("command", strings.Join(wf.RunArgv, " ")),
		slog.Any("secrets", secret.Names(wf.Secrets)))

	u, err := executor.NewExecutor(wf.Dir, program, wf.RunArgv[1:], env).
		WithLogProxyJSON(r.logProxyJSON).
		WithRedact(redactor.Redact).
		WithLineSink(r.sink).
		WithLogger(logger).
		RunAndLogLines(stepCtx, map[string]string{"step": run.StepExecute})
	step.Usage = usage(u)
	if err != nil {
		step.ExitCode = executor.ExitCode(err)
		return fail(redactor.RedactError(errors.New(stepError(stepCtx, err, wf.StepTimeout))))
	}

	step.Status = run.StatusSucceeded
	step.FinishedAt = time.Now()
	r.observeStep(wf, step)
	return step
}

// mergeEnv merges the base env with rendered variables and secrets. Later maps win.
func mergeEnv(base []string, overrides ...map[string]string) ([]string, error) {
	envMap := make(map[string]string, len(base))
	for _, kv := range base {
		name, value, found := strings.Cut(kv, "=")
		if !found || name == "" {
			continue
		}
		envMap[name] = value
	}

	for _, m := range overrides {
		if len(m) == 0 {
			continue
		}
		if err := mergo.Merge(&envMap, m, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge env: %w", err)
		}
	}

	names := make([]string, 0, len(envMap))
	for name := range envMap {
		names = append(names, name)
	}
	sort.Strings(names)

	res := make([]string, 0, len(names))
	for _, name := range names {
		res = append(res, name+"="+envMap[name])
	}
	return res, nil
}
