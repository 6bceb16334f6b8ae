package observability

import (
	"context"
	"errors"
	"fmt"

	"github.com/getsentry/sentry-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Kind classifies an error so that supervisors and callers can decide
// whether to retry, escalate, or report it as a user-facing failure.
type Kind string

const (
	KindConfig      Kind = "config"
	KindTransient   Kind = "transient_io"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindValidation  Kind = "validation"
	KindUpstream    Kind = "upstream"
	KindPartialSync Kind = "partial_sync"
)

// Error is a typed, wrapped error carrying a Kind and optional resource
// context, used throughout the sync/queue/watch pipeline so that
// supervisors can pattern-match on Kind rather than string contents.
type Error struct {
	Kind     Kind
	Resource string
	ID       string
	Err      error
}

func (e *Error) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s %q: %v", e.Kind, e.Resource, e.ID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ConfigError wraps an invalid-configuration error.
func ConfigError(err error) error {
	return &Error{Kind: KindConfig, Err: err}
}

// Transient wraps a retryable I/O failure (network blip, lock contention).
func Transient(err error) error {
	return &Error{Kind: KindTransient, Err: err}
}

// NotFound wraps a missing-resource error.
func NotFound(resource, id string) error {
	return &Error{Kind: KindNotFound, Resource: resource, ID: id, Err: errors.New("not found")}
}

// Conflict wraps a state-conflict error (concurrent update, duplicate key).
func Conflict(resource, id string, err error) error {
	return &Error{Kind: KindConflict, Resource: resource, ID: id, Err: err}
}

// Validation wraps a caller-input validation error.
func Validation(err error) error {
	return &Error{Kind: KindValidation, Err: err}
}

// Upstream wraps a failure from an external collaborator (embedder,
// crawler, vector store).
func Upstream(resource string, err error) error {
	return &Error{Kind: KindUpstream, Resource: resource, Err: err}
}

// PartialSync wraps a sync run that completed every file it could but
// hit one or more per-file failures along the way. errs must be
// non-empty; the run itself is not a failure, only the file list is.
func PartialSync(errs []error) error {
	return &Error{Kind: KindPartialSync, Resource: "sync", ID: fmt.Sprintf("%d failed", len(errs)), Err: errors.Join(errs...)}
}

// KindOf extracts the Kind from err, walking the unwrap chain. Returns
// false if err carries no Kind.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsTransient reports whether err should be retried by a supervisor.
func IsTransient(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindTransient
}

// ErrorHandler reports an error through structured logging, metrics,
// tracing, and (for non-transient kinds) Sentry.
type ErrorHandler struct {
	logger        *Logger
	metrics       *MetricsCollector
	sentryEnabled bool
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger *Logger, metrics *MetricsCollector, sentryEnabled bool) *ErrorHandler {
	return &ErrorHandler{logger: logger, metrics: metrics, sentryEnabled: sentryEnabled}
}

// Handle processes err, logging and recording metrics unconditionally and
// escalating to Sentry for any kind other than KindTransient, which
// supervisors are expected to catch and retry with backoff instead.
func (eh *ErrorHandler) Handle(ctx context.Context, component string, err error) {
	if err == nil {
		return
	}

	kind, _ := KindOf(err)
	eh.logger.ErrorContext(ctx, "operation failed",
		"component", component,
		"error", err.Error(),
		"error_kind", string(kind),
	)

	if eh.metrics != nil {
		eh.metrics.RecordSyncError(string(kind))
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.kind", string(kind)))
	}

	if eh.sentryEnabled && kind != KindTransient {
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetLevel(sentry.LevelError)
			scope.SetTag("component", component)
			scope.SetTag("error_kind", string(kind))
			sentry.CaptureException(err)
		})
	}
}
