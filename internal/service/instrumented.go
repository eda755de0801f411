package service

import (
	"context"

	"github.com/webitel/action-gateway/internal/domain/model"
	"github.com/webitel/action-gateway/internal/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// instrumentedExecutor decorates an Executor with a span and metrics per invocation.
type instrumentedExecutor struct {
	next    Executor
	tracer  trace.Tracer
	metrics *metrics.Metrics
}

func NewInstrumentedExecutor(next Executor, tp trace.TracerProvider, m *metrics.Metrics) Executor {
	return &instrumentedExecutor{
		next:    next,
		tracer:  tp.Tracer("github.com/webitel/action-gateway/internal/service"),
		metrics: m,
	}
}

func (e *instrumentedExecutor) Process(ctx context.Context, conn *model.Connection, done CompleteFunc) {
	requested, _ := conn.Param("action")
	ctx, span := e.tracer.Start(ctx, "action.process",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("connection.id", conn.ID),
			attribute.String("connection.type", conn.Type),
			attribute.String("action.requested", toString(requested)),
		),
	)
	e.metrics.PendingActions.Inc()

	e.next.Process(ctx, conn, func(res *Result) {
		e.metrics.PendingActions.Dec()

		// [CARDINALITY] unresolved names stay out of the label set
		label := res.Action
		if label == "" {
			label = "unresolved"
		}
		outcome := "ok"
		if res.Err != nil {
			outcome = string(model.KindOf(res.Err))
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, outcome)
		}
		e.metrics.ActionsTotal.WithLabelValues(label, outcome).Inc()
		e.metrics.ActionDuration.WithLabelValues(label).Observe(res.Duration.Seconds())

		span.SetAttributes(attribute.String("action.resolved", res.Action))
		span.End()

		if done != nil {
			done(res)
		}
	})
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
