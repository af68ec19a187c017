package app

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/deckhouse/deckhouse/pkg/log"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/flant/news-operator/pkg/config"
)

// Use info level by default
var (
	LogLevel        = "info"
	LogProxyRunJSON = false
)

var ForcedDurationForDebugLevel = 30 * time.Minute

// ProxyJsonLogKey marks log records proxied as is from the program output.
const ProxyJsonLogKey = "proxyJsonLog"

// DefineLoggingFlags init global flags for logging
func DefineLoggingFlags(cmd *kingpin.CmdClause) {
	cmd.Flag("log-level", "Logging level: debug, info, warn, error. Default is info. Can be set with $LOG_LEVEL.").
		Envar("LOG_LEVEL").
		Default(LogLevel).
		StringVar(&LogLevel)
	cmd.Flag("log-proxy-run-json", "Delegate program output logging to the program itself: JSON lines are forwarded as is. Can be set with $LOG_PROXY_RUN_JSON.").
		Envar("LOG_PROXY_RUN_JSON").
		BoolVar(&LogProxyRunJSON)
}

// SetupLogging sets the initial level and registers the 'log.level' runtime parameter.
func SetupLogging(runtimeConfig *config.Config, logger *log.Logger) {
	logger.SetLevel(log.LogLevelFromStr(LogLevel))

	if runtimeConfig == nil {
		return
	}

	runtimeConfig.Register(config.LogLevelParam,
		fmt.Sprintf("Global log level. Default duration for debug level is %s", ForcedDurationForDebugLevel),
		strings.ToLower(LogLevel),
		func(_ string, newValue string) error {
			logger.Info("Change log level", slog.String("value", newValue))
			logger.SetLevel(log.LogLevelFromStr(newValue))
			return nil
		}, func(_ string, newValue string) time.Duration {
			if strings.ToLower(newValue) == "debug" {
				return ForcedDurationForDebugLevel
			}
			return 0
		})
}
