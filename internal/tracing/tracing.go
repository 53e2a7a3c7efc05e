// Package tracing wires OpenTelemetry and provides span helpers for the
// moderation workflows and the replication worker.
package tracing

import (
	"context"
	"errors"

	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// ServiceName identifies this process in traces
const ServiceName = "studyhall"

// tracer is looked up on every call because the global provider is only
// installed by Init
func tracer() trace.Tracer {
	return otel.Tracer(ServiceName)
}

// Options configures the exporter and sampler
type Options struct {
	// Endpoint is the OTLP HTTP collector, host:port
	Endpoint string

	// SampleRatio is the fraction of root spans recorded. Child spans follow
	// their parent's decision.
	SampleRatio float64
}

// Init installs a global tracer provider exporting over OTLP HTTP.
// Callers defer Shutdown on the returned provider.
func Init(ctx context.Context, opts Options) (*sdktrace.TracerProvider, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("tracing: endpoint is required")
	}

	otel.SetLogger(zerologr.New(&log.Logger))

	exp, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(opts.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tp := newProvider(sdktrace.WithBatcher(exp), opts.SampleRatio)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}

func newProvider(export sdktrace.TracerProviderOption, ratio float64) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		export,
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(ServiceName),
		)),
	)
}

// ModerationSpan starts a span for a moderation workflow step.
func ModerationSpan(ctx context.Context, action, actor string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "moderation."+action,
		trace.WithAttributes(
			attribute.String("moderation.action", action),
			attribute.String("moderation.actor", actor),
		),
	)
}

// ReplicationSpan starts a span for pushing one change to the remote backend.
func ReplicationSpan(ctx context.Context, collection, op string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "replication."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("replication.collection", collection),
			attribute.String("replication.op", op),
		),
	)
}

// EndWithError marks the span failed when err is non-nil.
func EndWithError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
