package tracing

import (
	"context"
	"fmt"
	"os"
	"strconv"

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

// ServiceName is reported as the OTel service name and tracer name.
const ServiceName = "strikekeeper"

// tracer must be looked up on use; the global provider is replaced by Init.
func tracer() trace.Tracer {
	return otel.Tracer(ServiceName)
}

// Options configures the OTLP exporter and sampling.
type Options struct {
	Endpoint string // host:port of the OTLP/HTTP collector
	Insecure bool

	// SampleRatio is the fraction of root spans kept, in (0, 1].
	SampleRatio float64
}

// OptionsFromEnv reads OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_EXPORTER_OTLP_INSECURE
// and OTEL_TRACES_SAMPLER_ARG.
func OptionsFromEnv() Options {
	opts := Options{
		Endpoint:    "localhost:4318",
		Insecure:    true,
		SampleRatio: 1,
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		opts.Endpoint = v
	}
	if v, err := strconv.ParseBool(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); err == nil {
		opts.Insecure = v
	}
	if v, err := strconv.ParseFloat(os.Getenv("OTEL_TRACES_SAMPLER_ARG"), 64); err == nil && v > 0 && v <= 1 {
		opts.SampleRatio = v
	}
	return opts
}

// Init installs a global tracer provider exporting strike and store spans.
// The caller owns the returned provider and must Shutdown it to flush.
func Init(ctx context.Context, opts Options) (*sdktrace.TracerProvider, error) {
	otel.SetLogger(zerologr.New(&log.Logger))

	exporterOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(opts.Endpoint)}
	if opts.Insecure {
		exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	ratio := opts.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(ServiceName),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info().
		Str("endpoint", opts.Endpoint).
		Float64("sample_ratio", ratio).
		Msg("Tracing enabled")
	return tp, nil
}

// StrikeSpan starts a span for a lifecycle engine operation.
// userID may be empty for operations that span all users.
func StrikeSpan(ctx context.Context, op, userID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("strikes.op", op)}
	if userID != "" {
		attrs = append(attrs, attribute.String("strikes.user_id", userID))
	}
	return tracer().Start(ctx, "strikes."+op, trace.WithAttributes(attrs...))
}

// StoreSpan starts a span for a persistence operation on the named backend.
func StoreSpan(ctx context.Context, backend, op string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "store."+op,
		trace.WithAttributes(
			attribute.String("store.backend", backend),
			attribute.String("store.op", op),
		),
	)
}

// EndWithError records an error on a span and sets its status.
// If err is nil, this is a no-op.
func EndWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
