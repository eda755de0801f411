package service

import (
	"context"
	"log/slog"
)

// AnomalyKind names a programming defect detected at runtime.
type AnomalyKind string

const (
	AnomalyDuplicateCallback    AnomalyKind = "duplicate_callback"
	AnomalyPanicAfterCompletion AnomalyKind = "panic_after_completion"
)

// Anomaly is a defect that cannot be surfaced in the response because the action already completed.
type Anomaly struct {
	Kind         AnomalyKind
	Action       string
	ConnectionID string
	Err          error
	Stack        []byte
}

// Reporter receives anomalies. Implementations must not block.
type Reporter interface {
	Report(ctx context.Context, a Anomaly)
}

type logReporter struct {
	logger *slog.Logger
}

func NewLogReporter(logger *slog.Logger) Reporter {
	return &logReporter{logger: logger}
}

func (r *logReporter) Report(ctx context.Context, a Anomaly) {
	attrs := []any{
		"kind", string(a.Kind),
		"action", a.Action,
		"connection_id", a.ConnectionID,
		"err", a.Err,
	}
	if len(a.Stack) > 0 {
		attrs = append(attrs, "stack", string(a.Stack))
	}
	r.logger.ErrorContext(ctx, "ACTION_ANOMALY", attrs...)
}
