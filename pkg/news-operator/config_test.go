package news_operator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/deckhouse/deckhouse/pkg/log"
	metricsstorage "github.com/deckhouse/deckhouse/pkg/metrics-storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flant/news-operator/pkg/app"
	"github.com/flant/news-operator/pkg/run"
)

func newTestStorage() metricsstorage.Storage {
	return metricsstorage.NewMetricStorage(
		metricsstorage.WithPrefix("news_operator_"),
		metricsstorage.WithNewRegistry(),
	)
}

func TestNewNewsOperatorConfig_Defaults(t *testing.T) {
	cfg := NewNewsOperatorConfig(WithMetricStorage(newTestStorage()))

	assert.Equal(t, app.WorkflowPath, cfg.WorkflowPath)
	assert.Equal(t, app.ListenPort, cfg.ListenPort)
	assert.Equal(t, app.RunHistorySize, cfg.RunHistorySize)
	assert.NotNil(t, cfg.Logger)
	assert.NotNil(t, cfg.MetricStorage)
	assert.NoError(t, cfg.Validate())
}

func TestNewsOperatorConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		opt  ConfigOption
	}{
		{"no listen port", WithListenConfig("0.0.0.0", "")},
		{"no workflow", WithWorkflowPath("")},
		{"no temp dir", WithTempDir("")},
		{"zero burst", WithDispatchLimit(1, 0)},
		{"zero rate", WithDispatchLimit(0, 3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewNewsOperatorConfig(WithLogger(log.NewNop()), WithMetricStorage(newTestStorage()), tt.opt)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRunOnce(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.sh"), []byte("#!/bin/sh\necho \"key=${GCP_SERVICE_ACCOUNT_KEY}\"\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "workflow.yaml"), []byte(`
configVersion: v1
name: get-news
run:
  command: ./main.sh
secrets:
- name: GCP_SERVICE_ACCOUNT_KEY
  from:
    env: TEST_RUN_ONCE_KEY
`), 0o644))

	newConfig := func() *NewsOperatorConfig {
		return NewNewsOperatorConfig(
			WithLogger(log.NewNop()),
			WithWorkflowPath(filepath.Join(dir, "workflow.yaml")),
			WithTempDir(t.TempDir()),
			WithMetricStorage(newTestStorage()),
		)
	}

	t.Run("secret is present", func(t *testing.T) {
		t.Setenv("TEST_RUN_ONCE_KEY", "value")

		rn, err := RunOnce(context.Background(), newConfig(), "")
		require.NoError(t, err)

		snap := rn.Snapshot()
		assert.Equal(t, run.StatusSucceeded, snap.Status)
		assert.Equal(t, run.TriggerManual, snap.Trigger)
		assert.Equal(t, DefaultRequester, snap.TriggerInfo)
	})

	t.Run("secret is missing", func(t *testing.T) {
		t.Setenv("TEST_RUN_ONCE_KEY", "")
		require.NoError(t, os.Unsetenv("TEST_RUN_ONCE_KEY"))

		rn, err := RunOnce(context.Background(), newConfig(), "ci")
		require.NoError(t, err)
		assert.Equal(t, run.StatusFailed, rn.GetStatus())
	})

	t.Run("bad workflow path", func(t *testing.T) {
		cfg := newConfig()
		cfg.WorkflowPath = filepath.Join(dir, "missing.yaml")

		rn, err := RunOnce(context.Background(), cfg, "")
		assert.Error(t, err)
		assert.Nil(t, rn)
	})
}
