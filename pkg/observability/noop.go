package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// NoopLogger discards all log output
type NoopLogger struct{}

// NewNoopLogger creates a logger that discards everything
func NewNoopLogger() Logger { return &NoopLogger{} }

// Debug is a no-op
func (l *NoopLogger) Debug(msg string, fields map[string]interface{}) {}

// Info is a no-op
func (l *NoopLogger) Info(msg string, fields map[string]interface{}) {}

// Warn is a no-op
func (l *NoopLogger) Warn(msg string, fields map[string]interface{}) {}

// Error is a no-op
func (l *NoopLogger) Error(msg string, fields map[string]interface{}) {}

// WithPrefix returns the logger unchanged
func (l *NoopLogger) WithPrefix(prefix string) Logger { return l }

// NoopMetrics discards all metrics
type NoopMetrics struct{}

// NewNoopMetrics creates a MetricsClient that discards everything
func NewNoopMetrics() MetricsClient { return &NoopMetrics{} }

// IncrementCounter is a no-op
func (m *NoopMetrics) IncrementCounter(name string, value float64) {}

// IncrementCounterWithLabels is a no-op
func (m *NoopMetrics) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
}

// RecordGauge is a no-op
func (m *NoopMetrics) RecordGauge(name string, value float64, labels map[string]string) {}

// RecordDuration is a no-op
func (m *NoopMetrics) RecordDuration(name string, duration time.Duration) {}

// StartTimer returns a no-op stop function
func (m *NoopMetrics) StartTimer(name string, labels map[string]string) func() { return func() {} }

// Close is a no-op
func (m *NoopMetrics) Close() error { return nil }

// NoopSpan is a no-op implementation of Span
type NoopSpan struct{}

// End is a no-op
func (s *NoopSpan) End() {}

// SetAttribute is a no-op
func (s *NoopSpan) SetAttribute(key string, value interface{}) {}

// RecordError is a no-op
func (s *NoopSpan) RecordError(err error) {}

// SpanContext returns an empty span context
func (s *NoopSpan) SpanContext() trace.SpanContext { return trace.SpanContext{} }

// NoopStartSpan is a StartSpanFunc that produces no-op spans
func NoopStartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, Span) {
	return ctx, &NoopSpan{}
}
