package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies why an action invocation did not run to a clean success.
type ErrorKind string

const (
	// [ADMISSION] expected, surfaced in the response envelope
	KindServerShuttingDown ErrorKind = "server_shutting_down"
	KindTooManyRequests    ErrorKind = "too_many_requests"

	// [RESOLUTION] caller faults, the connection stays usable
	KindUnknownAction         ErrorKind = "unknown_action"
	KindUnsupportedServerType ErrorKind = "unsupported_server_type"
	KindMissingParams         ErrorKind = "missing_params"

	// [EXECUTION] unexpected failure inside an action body
	KindServerError ErrorKind = "server_error"

	// [FILES] static file lookups
	KindFileNotFound ErrorKind = "file_not_found"

	// KindActionError marks an error returned by the action body itself.
	KindActionError ErrorKind = "action_error"
)

// ActionError is the classified failure of one invocation.
type ActionError struct {
	Kind           ErrorKind
	Action         string
	ConnectionType string
	Missing        []string
	Cause          error
}

func (e *ActionError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Action != "" {
		fmt.Fprintf(&b, ": action %q", e.Action)
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing %s", strings.Join(e.Missing, ", "))
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *ActionError) Unwrap() error { return e.Cause }

// Is matches on kind so errors.Is(err, &ActionError{Kind: KindMissingParams}) works.
func (e *ActionError) Is(target error) bool {
	t, ok := target.(*ActionError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func NewActionError(kind ErrorKind, action string) *ActionError {
	return &ActionError{Kind: kind, Action: action}
}

// MissingParams builds the missing_params failure carrying the absent names in declaration order.
func MissingParams(action string, missing []string) *ActionError {
	return &ActionError{Kind: KindMissingParams, Action: action, Missing: missing}
}

// ServerError wraps an execution fault. The cause is logged, never rendered.
func ServerError(action string, cause error) *ActionError {
	return &ActionError{Kind: KindServerError, Action: action, Cause: cause}
}

// KindOf extracts the classification of err; unclassified errors are action errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindActionError
}
