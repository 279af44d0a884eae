package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name of council-search spans.
const TracerName = "github.com/otherjamesbrown/council-search"

// Span names
const (
	SpanSearchQuery     = "search.query"
	SpanSearchResolve   = "search.resolve"
	SpanIngestAuthority = "ingest.authority"
	SpanIngestMeeting   = "ingest.meeting"
)

// Span attribute keys
const (
	AttrAuthority = "authority"
	AttrUID       = "meeting.uid"
	AttrSort      = "search.sort"
	AttrTotal     = "search.total"
	AttrMode      = "ingest.mode"
	AttrJobID     = "ingest.job_id"
)

// Tracer starts spans using the globally registered tracer provider.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer returns a Tracer bound to the global provider.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(TracerName)}
}

// Start starts a span with string attributes given as key/value pairs.
func (t *Tracer) Start(ctx context.Context, name string, kv ...string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err (if any) on span and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
