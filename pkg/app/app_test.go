package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/alecthomas/kingpin.v2"
)

func TestConfig_SetupGlobalVars(t *testing.T) {
	t.Setenv("NEWS_OPERATOR_WORKFLOW", "/etc/news/workflow.yaml")
	t.Setenv("NEWS_OPERATOR_RUN_HISTORY_SIZE", "7")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("TRACING_OTLP_ENDPOINT", "otel:4317")

	oldWorkflow, oldSize, oldLevel := WorkflowPath, RunHistorySize, LogLevel
	t.Cleanup(func() {
		WorkflowPath, RunHistorySize, LogLevel = oldWorkflow, oldSize, oldLevel
	})

	cfg := NewConfig()
	require.NoError(t, cfg.Parse())
	cfg.SetupGlobalVars()

	assert.Equal(t, "/etc/news/workflow.yaml", WorkflowPath)
	assert.Equal(t, 7, RunHistorySize)
	assert.Equal(t, "debug", LogLevel)
	assert.Equal(t, "otel:4317", cfg.TracingConfig.OTLPEndpoint)
	assert.True(t, cfg.IsReady())
}

func TestConfig_EmptyEnvKeepsDefaults(t *testing.T) {
	oldPort := ListenPort
	t.Cleanup(func() { ListenPort = oldPort })

	cfg := NewConfig()
	require.NoError(t, cfg.Parse())
	cfg.SetupGlobalVars()

	assert.Equal(t, oldPort, ListenPort)
}

func TestKeepTmpFiles(t *testing.T) {
	tests := []struct {
		value    string
		expected bool
	}{
		{"yes", true},
		{"true", true},
		{"no", false},
		{"", false},
	}

	old := DebugKeepTmpFiles
	t.Cleanup(func() { DebugKeepTmpFiles = old })

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			DebugKeepTmpFiles = tt.value
			assert.Equal(t, tt.expected, KeepTmpFiles())
		})
	}
}

func TestDebugFlagsUsage(t *testing.T) {
	kpApp := kingpin.New("news-operator", "")
	startCmd := kpApp.Command("start", "")
	DefineDebugFlags(kpApp, startCmd)
	startCmd.Flag("listen-port", "").String()

	usage := DebugFlagsUsage(startCmd)
	assert.Contains(t, usage, "--debug-unix-socket=")
	assert.Contains(t, usage, "($DEBUG_KEEP_TMP_FILES)")
	assert.NotContains(t, usage, "listen-port")
}
