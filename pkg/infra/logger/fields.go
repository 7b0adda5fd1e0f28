// Package logger carries structured logging fields in a context.Context so
// that every log line of a request or task includes the same identifiers.
package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/kart-io/logger"
	"github.com/kart-io/logger/core"
)

// contextKey is the type for context keys to avoid collisions.
type contextKey int

const (
	// loggerFieldsKey is the context key for logger fields.
	loggerFieldsKey contextKey = iota
)

// loggerFields holds structured logging fields in insertion order.
type loggerFields struct {
	keys   []string
	values map[string]any
}

func newLoggerFields() *loggerFields {
	return &loggerFields{values: make(map[string]any)}
}

// clone creates a copy so contexts derived earlier keep their fields.
func (lf *loggerFields) clone() *loggerFields {
	cp := &loggerFields{
		keys:   append([]string(nil), lf.keys...),
		values: make(map[string]any, len(lf.values)),
	}
	for k, v := range lf.values {
		cp.values[k] = v
	}
	return cp
}

func (lf *loggerFields) set(key string, value any) {
	if _, ok := lf.values[key]; !ok {
		lf.keys = append(lf.keys, key)
	}
	lf.values[key] = value
}

func (lf *loggerFields) toSlice() []any {
	if len(lf.keys) == 0 {
		return nil
	}
	out := make([]any, 0, len(lf.keys)*2)
	for _, k := range lf.keys {
		out = append(out, k, lf.values[k])
	}
	return out
}

func getLoggerFields(ctx context.Context) *loggerFields {
	if lf, ok := ctx.Value(loggerFieldsKey).(*loggerFields); ok {
		return lf
	}
	return newLoggerFields()
}

func withField(ctx context.Context, key string, value any) context.Context {
	lf := getLoggerFields(ctx).clone()
	lf.set(key, value)
	return context.WithValue(ctx, loggerFieldsKey, lf)
}

// WithRequestID adds request_id to the context logger fields.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return withField(ctx, "request_id", requestID)
}

// WithTaskID adds task_id to the context logger fields.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	if taskID == "" {
		return ctx
	}
	return withField(ctx, "task_id", taskID)
}

// WithFields adds key-value pairs to the context. A trailing key without a
// value and non-string keys are ignored.
func WithFields(ctx context.Context, keysAndValues ...any) context.Context {
	if len(keysAndValues) < 2 {
		return ctx
	}

	lf := getLoggerFields(ctx).clone()
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			lf.set(key, keysAndValues[i+1])
		}
	}
	return context.WithValue(ctx, loggerFieldsKey, lf)
}

// ExtractOpenTelemetryFields copies trace_id and span_id of the recording
// span in ctx into the logger fields.
func ExtractOpenTelemetryFields(ctx context.Context) context.Context {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.IsValid() {
		return ctx
	}

	lf := getLoggerFields(ctx).clone()
	lf.set("trace_id", spanCtx.TraceID().String())
	lf.set("span_id", spanCtx.SpanID().String())
	return context.WithValue(ctx, loggerFieldsKey, lf)
}

// GetContextFields returns the logger fields stored in ctx as key-value pairs.
func GetContextFields(ctx context.Context) []any {
	return getLoggerFields(ctx).toSlice()
}

// GetLogger returns the global logger with the fields stored in ctx attached.
func GetLogger(ctx context.Context) core.Logger {
	base := logger.Global()
	fields := GetContextFields(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}
