// internal/logging/context.go
package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 5)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if ex, ok := ctx.Value(executionCtxKey{}).(executionRef); ok {
		fields = append(fields, zap.String("execution_id", ex.executionID))
		if ex.definitionID != "" {
			fields = append(fields, zap.String("definition_id", ex.definitionID))
		}
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}

	return fields
}

type executionCtxKey struct{}
type requestCtxKey struct{}
type loggerCtxKey struct{}

type executionRef struct {
	executionID  string
	definitionID string
}

// WithExecution tags ctx so every log line carries the execution and definition ids.
func WithExecution(ctx context.Context, executionID, definitionID string) context.Context {
	return context.WithValue(ctx, executionCtxKey{}, executionRef{executionID, definitionID})
}

// ExecutionIDFromContext returns the execution id set by WithExecution.
func ExecutionIDFromContext(ctx context.Context) string {
	if ex, ok := ctx.Value(executionCtxKey{}).(executionRef); ok {
		return ex.executionID
	}
	return ""
}

// WithRequestID adds an HTTP request id to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext extracts request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}
