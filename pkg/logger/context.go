package logger

import (
	"context"

	"github.com/google/uuid"
)

// unknown is substituted for any LogContext field missing from the task
// carrying the current log call.
const unknown = "UNKNOWN"

// LogContext is the causal correlation carried along one logical request:
// trace_id/span_id/parent_span_id identify the call chain, request_version
// and server_name identify what produced it. It must never be shared
// between concurrent requests.
type LogContext struct {
	TraceID        string
	SpanID         string
	ParentSpanID   string
	RequestVersion string
	ServerName     string
}

type logContextKey struct{}

// NewRootContext starts a new causal chain: a fresh trace id and span id,
// no parent. Call this at the edge of the system (the first gRPC handler,
// the HTTP bridge's entrypoint).
func NewRootContext(ctx context.Context, serverName, requestVersion string) (context.Context, LogContext) {
	lc := LogContext{
		TraceID:        uuid.NewString(),
		SpanID:         uuid.NewString(),
		ParentSpanID:   "",
		RequestVersion: requestVersion,
		ServerName:     serverName,
	}
	return WithLogContext(ctx, lc), lc
}

// NewChildContext derives a child span within the same trace. If ctx
// carries no LogContext, it behaves like NewRootContext.
func NewChildContext(ctx context.Context, serverName, requestVersion string) (context.Context, LogContext) {
	parent, ok := FromContext(ctx)
	if !ok {
		return NewRootContext(ctx, serverName, requestVersion)
	}
	lc := LogContext{
		TraceID:        parent.TraceID,
		SpanID:         uuid.NewString(),
		ParentSpanID:   parent.SpanID,
		RequestVersion: requestVersion,
		ServerName:     serverName,
	}
	return WithLogContext(ctx, lc), lc
}

// WithLogContext attaches lc to ctx.
func WithLogContext(ctx context.Context, lc LogContext) context.Context {
	return context.WithValue(ctx, logContextKey{}, lc)
}

// FromContext retrieves the LogContext attached to ctx, if any.
func FromContext(ctx context.Context) (LogContext, bool) {
	lc, ok := ctx.Value(logContextKey{}).(LogContext)
	return lc, ok
}

// orUnknown substitutes unknown for an empty field.
func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}
