package telemetry

import (
	"context"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// LogExporter writes finished spans to a zap logger at debug level.
type LogExporter struct {
	logger *zap.Logger
}

var _ sdktrace.SpanExporter = (*LogExporter)(nil)

// NewLogExporter creates a LogExporter.
func NewLogExporter(logger *zap.Logger) *LogExporter {
	return &LogExporter{logger: logger.Named("trace")}
}

// ExportSpans logs each span with its identifiers, timing, status and
// attributes.
func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		if err := ctx.Err(); err != nil {
			return err
		}
		fields := []zap.Field{
			zap.String("span", span.Name()),
			zap.String("trace_id", span.SpanContext().TraceID().String()),
			zap.String("span_id", span.SpanContext().SpanID().String()),
			zap.Duration("duration", span.EndTime().Sub(span.StartTime())),
			zap.String("status", span.Status().Code.String()),
		}
		if span.Parent().IsValid() {
			fields = append(fields, zap.String("parent_span_id", span.Parent().SpanID().String()))
		}
		if desc := span.Status().Description; desc != "" {
			fields = append(fields, zap.String("status_description", desc))
		}
		for _, attr := range span.Attributes() {
			fields = append(fields, zap.String(string(attr.Key), attr.Value.Emit()))
		}
		e.logger.Debug("span finished", fields...)
	}
	return nil
}

// Shutdown is a no-op; the logger is owned by the caller.
func (e *LogExporter) Shutdown(context.Context) error {
	return nil
}
