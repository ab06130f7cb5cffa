package tracing

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"routecodex-go/internal/constants"
)

const serviceName = "routecodex-go"

// exportBatchWindow keeps span flushes coarse; a local gateway does not
// need sub-second trace latency.
const exportBatchWindow = 5 * time.Second

var (
	setupOnce sync.Once
	provider  *sdktrace.TracerProvider
)

// collectorEndpoint follows the SDK's own environment contract: the
// traces-specific variable wins over the generic one. These OTEL_*
// variables belong to OpenTelemetry, not to the gateway config, which is
// why they are read here and not frozen into the snapshot.
func collectorEndpoint() string {
	if ep := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT")); ep != "" {
		return ep
	}
	return strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
}

// Init stands up the OTLP gRPC export pipeline when a collector endpoint
// is configured and leaves the global no-op provider in place otherwise.
// The returned shutdown flushes buffered spans and is safe to call in
// either case.
func Init(ctx context.Context) (func(context.Context) error, error) {
	var setupErr error
	setupOnce.Do(func() {
		endpoint := collectorEndpoint()
		if endpoint == "" {
			return
		}
		tp, err := newProvider(ctx, endpoint)
		if err != nil {
			setupErr = err
			return
		}
		provider = tp
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.TraceContext{})
	})

	if setupErr != nil || provider == nil {
		return func(context.Context) error { return nil }, setupErr
	}
	return provider.Shutdown, nil
}

func newProvider(ctx context.Context, endpoint string) (*sdktrace.TracerProvider, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	// Local collectors rarely speak TLS; an explicit "false" turns
	// transport security back on.
	switch strings.ToLower(strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"))) {
	case "", "true", "1":
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", constants.Version),
			attribute.String("service.instance.id", host),
		),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, err
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(exportBatchWindow)),
		sdktrace.WithResource(res),
	), nil
}

// StartSpan opens a span on the component's tracer. Without a configured
// provider this hands out otel's no-op span, so call sites never guard.
func StartSpan(ctx context.Context, component, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(serviceName+"/"+component).Start(ctx, name, opts...)
}

// FailSpan records err as the span outcome and ends it.
func FailSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()
}
