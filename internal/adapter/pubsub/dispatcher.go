package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/sony/gobreaker"
	"github.com/webitel/action-gateway/config"
	"go.opentelemetry.io/otel/propagation"
)

// ErrBusUnavailable is returned while the breaker refuses publishes.
var ErrBusUnavailable = errors.New("dispatcher: cluster bus unavailable")

// Dispatcher defines the high-level contract for outgoing cluster messages.
// Callers stay agnostic of the broker behind it.
type Dispatcher interface {
	Publish(ctx context.Context, topic string, payload any) error
	Publisher() message.Publisher
}

// dispatcher is the concrete implementation (private).
type dispatcher struct {
	publisher message.Publisher
	breaker   *gobreaker.CircuitBreaker
	logger    *slog.Logger
}

// NewDispatcher wraps pub with JSON encoding and a circuit breaker.
func NewDispatcher(pub message.Publisher, cfg config.Breaker, logger *slog.Logger) Dispatcher {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	// [FAIL_FAST] a dead broker must not stall every action that broadcasts
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "cluster-bus",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("BUS_BREAKER_STATE", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &dispatcher{
		publisher: pub,
		breaker:   breaker,
		logger:    logger,
	}
}

func (d *dispatcher) Publish(ctx context.Context, topic string, payload any) error {
	if payload == nil {
		return fmt.Errorf("dispatcher: cannot publish nil payload")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("dispatcher: marshal failure: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.SetContext(ctx)
	msg.Metadata.Set("published_at", time.Now().UTC().Format(time.RFC3339Nano))
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok && traceID != "" {
		msg.Metadata.Set("trace_id", traceID)
	}
	// [PROPAGATION] consumers continue the span found in ctx
	propagation.TraceContext{}.Inject(ctx, propagation.MapCarrier(msg.Metadata))

	_, err = d.breaker.Execute(func() (interface{}, error) {
		return nil, d.publisher.Publish(topic, msg)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	case err != nil:
		return fmt.Errorf("dispatcher: failed to publish to topic %s: %w", topic, err)
	}

	return nil
}

func (d *dispatcher) Publisher() message.Publisher {
	return d.publisher
}

type contextKey string

// TraceIDKey carries the bus trace id through handler contexts.
const TraceIDKey contextKey = "trace_id"
