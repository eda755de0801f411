package cluster

import (
	"context"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/webitel/action-gateway/internal/adapter/pubsub"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// [TRACING_MIDDLEWARE]
// Continues the publisher's trace from the message metadata and opens a consumer span.
// The bus trace id follows the span, so responses published under it carry the same id.
func TracingMiddleware(tp trace.TracerProvider, channel string) message.HandlerMiddleware {
	tracer := tp.Tracer("github.com/webitel/action-gateway/internal/handler/cluster")
	prop := propagation.TraceContext{}

	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			ctx := prop.Extract(msg.Context(), propagation.MapCarrier(msg.Metadata))
			ctx, span := tracer.Start(ctx, "cluster.consume",
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("messaging.destination.name", channel),
					attribute.String("messaging.message.id", msg.UUID),
				),
			)
			defer span.End()

			msg.SetContext(context.WithValue(ctx, pubsub.TraceIDKey, busTraceID(msg, span)))

			msgs, err := h(msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "handler failed")
			}
			return msgs, err
		}
	}
}

// busTraceID prefers the otel trace, then the id the publisher stamped, then a fresh one.
func busTraceID(msg *message.Message, span trace.Span) string {
	if sc := span.SpanContext(); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	if id := msg.Metadata.Get("trace_id"); id != "" {
		return id
	}
	id := uuid.NewString()
	msg.Metadata.Set("trace_id", id)
	return id
}

// [LOGGING_MIDDLEWARE]
func LoggingMiddleware(logger *slog.Logger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			start := time.Now()
			msgs, err := h(msg)

			traceID, _ := msg.Context().Value(pubsub.TraceIDKey).(string)
			attrs := []any{
				"msg_id", msg.UUID,
				"trace_id", traceID,
				"published_at", msg.Metadata.Get("published_at"),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if err != nil {
				logger.Warn("BUS_MESSAGE_FAILED", append(attrs, "err", err)...)
				return msgs, err
			}
			logger.Debug("BUS_MESSAGE_HANDLED", attrs...)
			return msgs, nil
		}
	}
}
