package cli

import (
	"context"
	"log/slog"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// spanLogExporter writes finished spans to the diagnostic logger. It lets
// DURABLE_TRACE show step spans without running a collector.
type spanLogExporter struct {
	logger *slog.Logger
}

func newSpanLogExporter(logger *slog.Logger) *spanLogExporter {
	return &spanLogExporter{logger: logger}
}

func (e *spanLogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		attrs := []slog.Attr{
			slog.String("span", span.Name()),
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.Duration("duration", span.EndTime().Sub(span.StartTime())),
			slog.String("status", span.Status().Code.String()),
		}
		for _, kv := range span.Attributes() {
			attrs = append(attrs, slog.String(string(kv.Key), kv.Value.Emit()))
		}
		e.logger.LogAttrs(ctx, slog.LevelDebug, "span", attrs...)
	}
	return nil
}

func (e *spanLogExporter) Shutdown(context.Context) error {
	return nil
}
