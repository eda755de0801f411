package service

import (
	"context"
	"log/slog"

	"github.com/webitel/action-gateway/config"
	"github.com/webitel/action-gateway/internal/metrics"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		NewLocalizer,
		NewLogReporter,
		NewProcessor,
		fx.Annotate(
			func(p *Processor) *Processor { return p },
			fx.As(new(Executor)),
		),
	),

	fx.Invoke(func(lc fx.Lifecycle, p *Processor, cfg *config.Config, logger *slog.Logger) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				p.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				p.Stop()
				drainCtx, cancel := context.WithTimeout(ctx, cfg.General.DrainTimeout)
				defer cancel()
				if err := p.Drain(drainCtx); err != nil {
					logger.Warn("PROCESSOR_DRAIN_TIMEOUT", "err", err)
				}
				return nil
			},
		})
	}),
)

// Instrument is the app-wide decorator adding spans and metrics around every invocation.
// It is applied at the app root.
func Instrument(orig Executor, tp trace.TracerProvider, m *metrics.Metrics) Executor {
	return NewInstrumentedExecutor(orig, tp, m)
}
