package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies spans emitted by the indexer.
const TracerName = "github.com/JakeFAU/sitesearch-indexer"

// Tracer starts the spans of an index job.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer on the global provider.
func NewTracer() *Tracer {
	return NewTracerFrom(otel.GetTracerProvider())
}

// NewTracerFrom creates a Tracer on tp.
func NewTracerFrom(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(TracerName)}
}

// JobSpan starts the span covering one index job.
// Caller is responsible for calling span.End().
//
//nolint:spancheck // span is returned to caller who manages its lifecycle
func (t *Tracer) JobSpan(ctx context.Context, jobID, url, mode string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "index.job",
		trace.WithAttributes(
			attribute.String("job.id", jobID),
			attribute.String("job.url", url),
			attribute.String("job.mode", mode),
		),
	)
}

// PageSpan starts the span covering the fetch and processing of one page.
// Caller is responsible for calling span.End().
//
//nolint:spancheck // span is returned to caller who manages its lifecycle
func (t *Tracer) PageSpan(ctx context.Context, jobID, url string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "index.page",
		trace.WithAttributes(
			attribute.String("job.id", jobID),
			attribute.String("page.url", url),
		),
	)
}

// Finish records the final state and error on span and ends it.
func Finish(span trace.Span, state string, err error) {
	span.SetAttributes(attribute.String("state", state))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
