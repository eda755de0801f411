package cmd

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/webitel/action-gateway/config"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

func ProvideLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Log.Level))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var logger *slog.Logger
	switch cfg.Log.Format {
	case "text":
		logger = slog.New(slog.NewTextHandler(os.Stdout, opts))
	case "otel":
		// [BRIDGE] records go to the global otel LoggerProvider
		logger = otelslog.NewLogger(ServiceName)
	default:
		logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}

	logger = logger.With(
		"service", ServiceName,
		"namespace", ServiceNamespace,
		"server_id", cfg.ServerID,
		"version", version,
	)
	slog.SetDefault(logger)
	return logger
}

func ProvideWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger.With("component", "watermill"))
}

// ProvideTracerProvider installs an SDK tracer provider as the global one.
// Spans carry ids for log correlation; exporting is left to the deployment.
func ProvideTracerProvider(lc fx.Lifecycle, cfg *config.Config) trace.TracerProvider {
	res := resource.NewSchemaless(
		attribute.String("service.name", ServiceName),
		attribute.String("service.namespace", ServiceNamespace),
		attribute.String("service.version", version),
		attribute.String("service.instance.id", cfg.ServerID),
		attribute.String("vcs.commit", commit),
		attribute.String("vcs.branch", branch),
		attribute.String("build.date", commitDate),
		attribute.String("build.timestamp", buildTimestamp),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	otel.SetTracerProvider(tp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error { return tp.Shutdown(ctx) },
	})
	return tp
}
