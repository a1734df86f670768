package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// SetupTracing installs the global tracer provider and propagators. When export is enabled
// spans are batched to the OTLP/HTTP endpoint configured by the standard OTEL_EXPORTER_OTLP_*
// variables. The returned func flushes and stops the provider.
func SetupTracing(
	ctx context.Context,
	serviceName, version string,
	enableExport bool,
) (func(context.Context) error, error) {
	var options []sdktrace.TracerProviderOption

	if enableExport {
		exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient())
		if err != nil {
			return nil, err
		}
		options = append(options, sdktrace.WithBatcher(exporter))
	}

	options = append(options, sdktrace.WithResource(resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version),
	)))

	tp := sdktrace.NewTracerProvider(options...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	)

	return tp.Shutdown, nil
}
