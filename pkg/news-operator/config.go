// Copyright 2025 Flant JSC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package news_operator

import (
	"fmt"

	"github.com/deckhouse/deckhouse/pkg/log"
	metricsstorage "github.com/deckhouse/deckhouse/pkg/metrics-storage"

	"github.com/flant/news-operator/pkg/app"
)

// NewsOperatorConfig holds configuration for NewsOperator initialization
type NewsOperatorConfig struct {
	Logger              *log.Logger
	ListenAddress       string
	ListenPort          string
	WorkflowPath        string
	WatchWorkflow       bool
	TempDir             string
	KeepTmpFiles        bool
	LogProxyRunJSON     bool
	RunHistorySize      int
	DispatchRateLimit   float64
	DispatchBurst       int
	DispatchToken       string
	DebugUnixSocket     string
	DebugHttpServerAddr string
	MetricStorage       metricsstorage.Storage
}

// ConfigOption defines a functional option for NewsOperatorConfig
type ConfigOption func(*NewsOperatorConfig)

// NewNewsOperatorConfig creates a new configuration with values from the app package
// and applies the provided options.
func NewNewsOperatorConfig(options ...ConfigOption) *NewsOperatorConfig {
	config := &NewsOperatorConfig{
		ListenAddress:       app.ListenAddress,
		ListenPort:          app.ListenPort,
		WorkflowPath:        app.WorkflowPath,
		WatchWorkflow:       app.WatchWorkflow,
		TempDir:             app.TempDir,
		KeepTmpFiles:        app.KeepTmpFiles(),
		LogProxyRunJSON:     app.LogProxyRunJSON,
		RunHistorySize:      app.RunHistorySize,
		DispatchRateLimit:   app.DispatchRateLimit,
		DispatchBurst:       app.DispatchBurst,
		DispatchToken:       app.DispatchToken,
		DebugUnixSocket:     app.DebugUnixSocket,
		DebugHttpServerAddr: app.DebugHttpServerAddr,
	}

	for _, option := range options {
		option(config)
	}

	if config.Logger == nil {
		config.Logger = log.NewLogger().Named("news-operator")
	}

	if config.MetricStorage == nil {
		config.MetricStorage = metricsstorage.NewMetricStorage(
			metricsstorage.WithPrefix(app.PrometheusMetricsPrefix),
			metricsstorage.WithLogger(config.Logger.Named("metric-storage")),
		)
	}

	return config
}

// Validate validates the configuration and returns an error if invalid
func (cfg *NewsOperatorConfig) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.ListenAddress == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if cfg.ListenPort == "" {
		return fmt.Errorf("listen port cannot be empty")
	}
	if cfg.WorkflowPath == "" {
		return fmt.Errorf("workflow path cannot be empty")
	}
	if cfg.TempDir == "" {
		return fmt.Errorf("temp directory cannot be empty")
	}
	if cfg.DispatchRateLimit <= 0 || cfg.DispatchBurst <= 0 {
		return fmt.Errorf("dispatch rate limit and burst should be positive")
	}
	return nil
}

func WithLogger(logger *log.Logger) ConfigOption {
	return func(config *NewsOperatorConfig) {
		config.Logger = logger
	}
}

func WithListenConfig(address, port string) ConfigOption {
	return func(config *NewsOperatorConfig) {
		config.ListenAddress = address
		config.ListenPort = port
	}
}

func WithWorkflowPath(path string) ConfigOption {
	return func(config *NewsOperatorConfig) {
		config.WorkflowPath = path
	}
}

func WithWatchWorkflow(watch bool) ConfigOption {
	return func(config *NewsOperatorConfig) {
		config.WatchWorkflow = watch
	}
}

func WithTempDir(dir string) ConfigOption {
	return func(config *NewsOperatorConfig) {
		config.TempDir = dir
	}
}

// WithDebugConfig sets the unix socket and an optional tcp address for the debug server.
func WithDebugConfig(unixSocket, httpAddr string) ConfigOption {
	return func(config *NewsOperatorConfig) {
		config.DebugUnixSocket = unixSocket
		config.DebugHttpServerAddr = httpAddr
	}
}

func WithDispatchLimit(limit float64, burst int) ConfigOption {
	return func(config *NewsOperatorConfig) {
		config.DispatchRateLimit = limit
		config.DispatchBurst = burst
	}
}

func WithMetricStorage(storage metricsstorage.Storage) ConfigOption {
	return func(config *NewsOperatorConfig) {
		config.MetricStorage = storage
	}
}
