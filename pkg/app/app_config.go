package app

import (
	"fmt"

	env "github.com/caarlos0/env/v11"

	"github.com/deckhouse/deckhouse/pkg/log"
)

type appConfig struct {
	Workflow                string  `env:"WORKFLOW"`
	TmpDir                  string  `env:"TMP_DIR"`
	ListenAddress           string  `env:"LISTEN_ADDRESS"`
	ListenPort              string  `env:"LISTEN_PORT"`
	PrometheusMetricsPrefix string  `env:"PROMETHEUS_METRICS_PREFIX"`
	RunHistorySize          int     `env:"RUN_HISTORY_SIZE"`
	DispatchRateLimit       float64 `env:"DISPATCH_RATE_LIMIT"`
	DispatchBurst           int     `env:"DISPATCH_BURST"`
	DispatchToken           string  `env:"DISPATCH_TOKEN"`
}

func newAppConfig() *appConfig {
	return &appConfig{}
}

type debugConfig struct {
	HTTPServerAddress  string `env:"HTTP_SERVER_ADDR"`
	KeepTemporaryFiles string `env:"KEEP_TMP_FILES"`
	KubernetesAPI      bool   `env:"KUBERNETES_API"`
	UnixSocket         string `env:"UNIX_SOCKET"`
}

func newDebugConfig() *debugConfig {
	return &debugConfig{}
}

type kubeConfig struct {
	ContextName string `env:"CONTEXT"`
	ConfigPath  string `env:"CONFIG"`
}

func newKubeConfig() *kubeConfig {
	return &kubeConfig{}
}

type logConfig struct {
	Level        string `env:"LEVEL"`
	ProxyRunJson bool   `env:"PROXY_RUN_JSON"`
}

func newLogConfig() *logConfig {
	return &logConfig{}
}

type tracingConfig struct {
	OTLPEndpoint  string `env:"OTLP_ENDPOINT"`
	OTLPAuthToken string `env:"OTLP_AUTH_TOKEN"`
}

func newTracingConfig() *tracingConfig {
	return &tracingConfig{}
}

type Config struct {
	AppConfig     *appConfig     `envPrefix:"NEWS_OPERATOR_"`
	KubeConfig    *kubeConfig    `envPrefix:"KUBE_"`
	DebugConfig   *debugConfig   `envPrefix:"DEBUG_"`
	LogConfig     *logConfig     `envPrefix:"LOG_"`
	TracingConfig *tracingConfig `envPrefix:"TRACING_"`

	LogLevel log.Level `env:"-"`

	ready bool
}

func NewConfig() *Config {
	return &Config{
		AppConfig:     newAppConfig(),
		KubeConfig:    newKubeConfig(),
		DebugConfig:   newDebugConfig(),
		LogConfig:     newLogConfig(),
		TracingConfig: newTracingConfig(),
	}
}

func (cfg *Config) Parse() error {
	if cfg.IsReady() {
		return nil
	}

	err := env.ParseWithOptions(cfg, env.Options{Prefix: ""})
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.LogLevel = log.LogLevelFromStr(cfg.LogConfig.Level)

	return nil
}

// SetupGlobalVars copies non-empty values into package globals, so they become flag defaults.
func (cfg *Config) SetupGlobalVars() {
	if cfg.IsReady() {
		return
	}

	setIfNotEmpty(&WorkflowPath, cfg.AppConfig.Workflow)
	setIfNotEmpty(&TempDir, cfg.AppConfig.TmpDir)
	setIfNotEmpty(&ListenAddress, cfg.AppConfig.ListenAddress)
	setIfNotEmpty(&ListenPort, cfg.AppConfig.ListenPort)
	setIfNotEmpty(&PrometheusMetricsPrefix, cfg.AppConfig.PrometheusMetricsPrefix)
	setIfNotEmpty(&RunHistorySize, cfg.AppConfig.RunHistorySize)
	setIfNotEmpty(&DispatchRateLimit, cfg.AppConfig.DispatchRateLimit)
	setIfNotEmpty(&DispatchBurst, cfg.AppConfig.DispatchBurst)
	setIfNotEmpty(&DispatchToken, cfg.AppConfig.DispatchToken)

	setIfNotEmpty(&DebugHttpServerAddr, cfg.DebugConfig.HTTPServerAddress)
	setIfNotEmpty(&DebugKeepTmpFiles, cfg.DebugConfig.KeepTemporaryFiles)
	setIfNotEmpty(&DebugKubernetesAPI, cfg.DebugConfig.KubernetesAPI)
	setIfNotEmpty(&DebugUnixSocket, cfg.DebugConfig.UnixSocket)

	setIfNotEmpty(&KubeContext, cfg.KubeConfig.ContextName)
	setIfNotEmpty(&KubeConfig, cfg.KubeConfig.ConfigPath)

	setIfNotEmpty(&LogLevel, cfg.LogConfig.Level)
	setIfNotEmpty(&LogProxyRunJSON, cfg.LogConfig.ProxyRunJson)

	cfg.SetReady()
}

func (cfg *Config) IsReady() bool {
	return cfg.ready
}

func (cfg *Config) SetReady() {
	cfg.ready = true
}

var configInstance *Config

func MustGetConfig() *Config {
	cfg, err := GetConfig()
	if err != nil {
		panic(err)
	}

	return cfg
}

func GetConfig() (*Config, error) {
	if configInstance != nil {
		return configInstance, nil
	}

	cfg := NewConfig()
	err := cfg.Parse()
	if err != nil {
		return nil, err
	}

	configInstance = cfg

	return configInstance, nil
}

func setIfNotEmpty[T comparable](v *T, env T) {
	if !isZero(env) {
		*v = env
	}
}

func isZero[T comparable](v T) bool {
	return v == *new(T)
}
