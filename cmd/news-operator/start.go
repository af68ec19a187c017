package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/deckhouse/deckhouse/pkg/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/flant/news-operator/pkg/app"
	"github.com/flant/news-operator/pkg/executor"
	news_operator "github.com/flant/news-operator/pkg/news-operator"
	utils_signal "github.com/flant/news-operator/pkg/utils/signal"
)

func start(logger *log.Logger) func(_ *kingpin.ParseContext) error {
	return func(_ *kingpin.ParseContext) error {
		app.AppStartMessage = fmt.Sprintf("%s %s", app.AppName, app.Version)
		ctx := context.Background()
		telemetryShutdown := registerTelemetry(ctx, logger)

		cfg := news_operator.NewNewsOperatorConfig(news_operator.WithLogger(logger.Named("news-operator")))
		operator, err := news_operator.NewNewsOperatorWithConfig(ctx, cfg)
		if err != nil {
			logger.Error("news-operator init failed", log.Err(err))
			os.Exit(1)
		}

		// Install and run steps may leave orphans when news-operator is pid 1 in a container.
		executor.Reap(ctx, logger)

		if err := operator.Start(); err != nil {
			logger.Error("news-operator start failed", log.Err(err))
			os.Exit(1)
		}

		// Block action by waiting signals from OS.
		utils_signal.WaitForProcessInterruption(logger, func() {
			operator.Shutdown()
			_ = telemetryShutdown(ctx)
			os.Exit(0)
		})

		return nil
	}
}

func registerTelemetry(ctx context.Context, logger *log.Logger) func(ctx context.Context) error {
	tracing := app.MustGetConfig().TracingConfig

	if tracing.OTLPEndpoint == "" {
		return func(_ context.Context) error {
			return nil
		}
	}

	opts := make([]otlptracegrpc.Option, 0, 3)

	opts = append(opts, otlptracegrpc.WithEndpoint(tracing.OTLPEndpoint))
	opts = append(opts, otlptracegrpc.WithInsecure())

	if tracing.OTLPAuthToken != "" {
		opts = append(opts, otlptracegrpc.WithHeaders(map[string]string{
			"Authorization": "Bearer " + strings.TrimSpace(tracing.OTLPAuthToken),
		}))
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		logger.Warn("tracing is disabled", log.Err(err))
		return func(_ context.Context) error {
			return nil
		}
	}

	resource := sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(app.AppName),
		semconv.ServiceVersionKey.String(app.Version),
		semconv.TelemetrySDKLanguageKey.String("go"),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(provider)

	return provider.Shutdown
}
