package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/deckhouse/deckhouse/pkg/log"
	metricsstorage "github.com/deckhouse/deckhouse/pkg/metrics-storage"
	"github.com/gofrs/flock"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flant/news-operator/internal/metrics"
	"github.com/flant/news-operator/pkg/run"
	"github.com/flant/news-operator/pkg/secret"
	"github.com/flant/news-operator/pkg/workflow"
)

const (
	secretSourceVar = "TEST_NEWS_SECRET_SOURCE"
	secretValue     = "topsecret-service-account-value"
)

type lines struct {
	mu  sync.Mutex
	all []string
}

func (l *lines) sink(_ string, line string) {
	l.mu.Lock()
	l.all = append(l.all, line)
	l.mu.Unlock()
}

func (l *lines) text() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.all, "\n")
}

type fixture struct {
	dir     string
	tempDir string
	out     *lines
	runner  *Runner
}

func writeScript(t *testing.T, path string, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
}

// newFixture creates a workflow dir with scripts and a fake runtime that reports version.
func newFixture(t *testing.T, runtimeVersion string) *fixture {
	t.Helper()

	bin := t.TempDir()
	writeScript(t, filepath.Join(bin, "newsrt"), `echo "Python `+runtimeVersion+`"`)
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte("requests\n"), 0o644))
	writeScript(t, filepath.Join(dir, "install.sh"), `echo "install secret=${GCP_SERVICE_ACCOUNT_KEY:-absent} source=${`+secretSourceVar+`:-absent}"`)
	writeScript(t, filepath.Join(dir, "main.sh"), `echo "key=$GCP_SERVICE_ACCOUNT_KEY"
echo "keyword=$NEWS_KEYWORD run=$NEWS_RUN_ID"
echo "tmp=$TMPDIR"`)
	writeScript(t, filepath.Join(dir, "fail.sh"), `echo "failing"; exit $1`)

	environ := []string{
		"PATH=" + os.Getenv("PATH"),
		secretSourceVar + "=" + secretValue,
		"NEWS_KEYWORD=from-base",
	}

	out := &lines{}
	tempDir := t.TempDir()

	store := secret.NewStore(log.NewNop(), secret.WithLookupEnv(func(name string) (string, bool) {
		if name == secretSourceVar {
			return secretValue, true
		}
		return "", false
	}))

	metricStorage := metricsstorage.NewMetricStorage(
		metricsstorage.WithPrefix("test_"),
		metricsstorage.WithNewRegistry(),
	)
	require.NoError(t, metrics.RegisterRunMetrics(metricStorage))

	r := NewRunner(
		WithTempDir(tempDir),
		WithSecretStore(store),
		WithEnviron(func() []string { return environ }),
		WithLineSink(out.sink),
		WithMetricStorage(metricStorage),
		WithLogger(log.NewNop()),
	)

	return &fixture{dir: dir, tempDir: tempDir, out: out, runner: r}
}

func (f *fixture) load(t *testing.T, definition string) *workflow.Workflow {
	t.Helper()
	path := filepath.Join(f.dir, "workflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(definition), 0o644))
	wf, err := workflow.Load(path)
	require.NoError(t, err)
	return wf
}

const baseWorkflow = `
configVersion: v1
name: get-news
runtime:
  name: newsrt
  version: ">= 3.9"
install:
  manifest: requirements.txt
  command: ./install.sh
secrets:
- name: GCP_SERVICE_ACCOUNT_KEY
  from:
    env: TEST_NEWS_SECRET_SOURCE
`

func TestRun_Succeeded(t *testing.T) {
	g := NewWithT(t)
	f := newFixture(t, "3.11.4")
	wf := f.load(t, baseWorkflow+`
run:
  command: ./main.sh
  env:
    NEWS_KEYWORD: Honda Civic
    NEWS_RUN_ID: '{{ .RunID }}'
`)

	rn := run.NewRun(wf.Name, run.TriggerManual, "test")
	status := f.runner.Run(context.Background(), wf, rn)

	g.Expect(status).To(Equal(run.StatusSucceeded))
	snap := rn.Snapshot()
	g.Expect(snap.Steps).To(HaveLen(2))
	g.Expect(snap.Steps[0].Name).To(Equal(run.StepProvision))
	g.Expect(snap.Steps[1].Name).To(Equal(run.StepExecute))
	g.Expect(snap.Steps[1].ExitCode).To(Equal(0))

	output := f.out.text()
	// Provisioning does not see the secret, not even by its source variable.
	g.Expect(output).To(ContainSubstring("install secret=absent source=absent"))
	// The program gets the secret, but the output is redacted.
	g.Expect(output).To(ContainSubstring("key=***"))
	g.Expect(output).ToNot(ContainSubstring(secretValue))
	g.Expect(output).To(ContainSubstring("keyword=Honda Civic run=" + rn.ID))

	// Run dir is removed after the run.
	entries, err := os.ReadDir(filepath.Join(f.tempDir, "runs"))
	require.NoError(t, err)
	g.Expect(entries).To(BeEmpty())
}

func TestRun_RuntimeVersionMismatch(t *testing.T) {
	g := NewWithT(t)
	f := newFixture(t, "3.8.10")
	wf := f.load(t, baseWorkflow+`
run:
  command: ./main.sh
`)

	rn := run.NewRun(wf.Name, run.TriggerSchedule, "0 * * * *")
	status := f.runner.Run(context.Background(), wf, rn)

	g.Expect(status).To(Equal(run.StatusFailed))
	snap := rn.Snapshot()
	g.Expect(snap.Steps).To(HaveLen(2))
	g.Expect(snap.Steps[0].Status).To(Equal(run.StatusFailed))
	g.Expect(snap.Steps[0].Error).To(ContainSubstring("does not satisfy"))
	g.Expect(snap.Steps[1].Status).To(Equal(run.StatusSkipped))
	g.Expect(f.out.text()).ToNot(ContainSubstring("key="))
}

func TestRun_InstallFails(t *testing.T) {
	g := NewWithT(t)
	f := newFixture(t, "3.11.4")
	wf := f.load(t, `
configVersion: v1
name: get-news
install:
  manifest: requirements.txt
  command: ./fail.sh 2
run:
  command: ./main.sh
`)

	rn := run.NewRun(wf.Name, run.TriggerManual, "")
	g.Expect(f.runner.Run(context.Background(), wf, rn)).To(Equal(run.StatusFailed))

	snap := rn.Snapshot()
	g.Expect(snap.Steps[0].ExitCode).To(Equal(2))
	g.Expect(snap.Steps[1].Status).To(Equal(run.StatusSkipped))
	g.Expect(snap.Reason).To(ContainSubstring("provision"))
}

func TestRun_ExecuteFails(t *testing.T) {
	g := NewWithT(t)
	f := newFixture(t, "3.11.4")
	wf := f.load(t, `
configVersion: v1
name: get-news
run:
  command: ./fail.sh 3
`)

	rn := run.NewRun(wf.Name, run.TriggerManual, "")
	g.Expect(f.runner.Run(context.Background(), wf, rn)).To(Equal(run.StatusFailed))

	snap := rn.Snapshot()
	// No provisioning configured: only the execution step is recorded.
	g.Expect(snap.Steps).To(HaveLen(1))
	g.Expect(snap.Steps[0].Name).To(Equal(run.StepExecute))
	g.Expect(snap.Steps[0].ExitCode).To(Equal(3))
	g.Expect(f.out.text()).To(ContainSubstring("failing"))
}

func TestRun_Timeout(t *testing.T) {
	g := NewWithT(t)
	f := newFixture(t, "3.11.4")
	writeScript(t, filepath.Join(f.dir, "slow.sh"), "sleep 10")
	wf := f.load(t, `
configVersion: v1
name: get-news
run:
  command: ./slow.sh
timeout: 500ms
`)

	rn := run.NewRun(wf.Name, run.TriggerManual, "")
	g.Expect(f.runner.Run(context.Background(), wf, rn)).To(Equal(run.StatusFailed))
	g.Expect(rn.Snapshot().Steps[0].Error).To(ContainSubstring("timeout"))
	g.Expect(rn.Duration().Seconds()).To(BeNumerically("<", 8))
}

func TestRun_MissingSecret(t *testing.T) {
	g := NewWithT(t)
	f := newFixture(t, "3.11.4")
	wf := f.load(t, `
configVersion: v1
name: get-news
run:
  command: ./main.sh
secrets:
- name: GCP_SERVICE_ACCOUNT_KEY
  from:
    env: ABSENT_SECRET_SOURCE
`)

	rn := run.NewRun(wf.Name, run.TriggerManual, "")
	g.Expect(f.runner.Run(context.Background(), wf, rn)).To(Equal(run.StatusFailed))
	g.Expect(rn.Snapshot().Steps[0].Error).To(ContainSubstring("resolve secrets"))
	g.Expect(f.out.text()).ToNot(ContainSubstring("key="))
}

func TestRun_SkippedWhenLocked(t *testing.T) {
	g := NewWithT(t)
	f := newFixture(t, "3.11.4")
	wf := f.load(t, `
configVersion: v1
name: get-news
run:
  command: ./main.sh
`)

	other := flock.New(filepath.Join(f.tempDir, "get-news.lock"))
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer other.Unlock()

	rn := run.NewRun(wf.Name, run.TriggerSchedule, "0 * * * *")
	g.Expect(f.runner.Run(context.Background(), wf, rn)).To(Equal(run.StatusSkipped))
	g.Expect(rn.Snapshot().Reason).To(Equal(SkipReasonLocked))
	g.Expect(rn.Snapshot().Steps).To(BeEmpty())
}

func TestParseRuntimeVersion(t *testing.T) {
	tests := []struct {
		output   string
		expected string
		err      bool
	}{
		{"Python 3.11.4", "3.11.4", false},
		{"node v20.1", "20.1.0", false},
		{"go version go1.22.3 linux/amd64", "1.22.3", false},
		{"unknown", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.output, func(t *testing.T) {
			v, err := ParseRuntimeVersion(tt.output)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v.String())
		})
	}
}

func TestMergeEnv(t *testing.T) {
	env, err := mergeEnv(
		[]string{"PATH=/bin", "A=base", "broken"},
		map[string]string{"A": "rendered", "B": ""},
		map[string]string{"SECRET": "x"},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"A=rendered", "B=", "PATH=/bin", "SECRET=x"}, env)
}
