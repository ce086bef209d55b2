package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Span attribute keys.
var (
	AttrExecutionID = attribute.Key("execution.id")
	AttrOperation   = attribute.Key("operation")
	AttrWorkDir     = attribute.Key("workdir")
	AttrAttempt     = attribute.Key("attempt")
	AttrExitCode    = attribute.Key("exit_code")
	AttrErrorClass  = attribute.Key("error.class")
	AttrHasChanges  = attribute.Key("plan.has_changes")
)

// Tracer starts the spans for executions and their attempts.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer builds a tracer provider. When tracing is disabled the
// provider never samples, so spans cost almost nothing and are never
// exported. An enabled provider is installed as the global one.
func NewTracer(cfg TracingConfig, serviceName, serviceVersion, environment string) (*Tracer, error) {
	if !cfg.Enabled {
		p := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))
		return &Tracer{provider: p, tracer: p.Tracer(serviceName)}, nil
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String(serviceVersion),
		attribute.String("environment", environment),
	))
	if err != nil {
		return nil, fmt.Errorf("trace resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	}
	exp, err := newSpanExporter(cfg)
	if err != nil {
		return nil, err
	}
	if exp != nil {
		batch := []sdktrace.BatchSpanProcessorOption{}
		if cfg.BatchSize > 0 {
			batch = append(batch, sdktrace.WithMaxExportBatchSize(cfg.BatchSize))
		}
		if cfg.ExportTimeout > 0 {
			batch = append(batch, sdktrace.WithExportTimeout(cfg.ExportTimeout))
		}
		opts = append(opts, sdktrace.WithBatcher(exp, batch...))
	}

	p := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return &Tracer{provider: p, tracer: p.Tracer(serviceName)}, nil
}

// newSpanExporter returns nil for the "none" exporter: spans are sampled
// but go nowhere.
func newSpanExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "none", "":
		return nil, nil
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("stdout trace exporter: %w", err)
		}
		return exp, nil
	case "otlp":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithDialOption(grpc.WithUserAgent("tfdriver")),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		exp, err := otlptracegrpc.New(context.Background(), opts...)
		if err != nil {
			return nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		return exp, nil
	}
	return nil, fmt.Errorf("unsupported trace exporter %q", cfg.Exporter)
}

// StartExecutionSpan starts the span that covers one executor operation,
// retries included.
func (t *Tracer) StartExecutionSpan(ctx context.Context, executionID, operation, workDir string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "tfdriver."+operation, trace.WithAttributes(
		AttrExecutionID.String(executionID),
		AttrOperation.String(operation),
		AttrWorkDir.String(workDir),
	))
}

// StartAttemptSpan starts a child span for one process invocation.
func (t *Tracer) StartAttemptSpan(ctx context.Context, operation string, attempt int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "tfdriver."+operation+".attempt", trace.WithAttributes(
		AttrOperation.String(operation),
		AttrAttempt.Int(attempt),
	))
}

// Shutdown flushes pending spans and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordFailure marks span failed when there is a message but no error
// value, e.g. a non-zero exit.
func RecordFailure(span trace.Span, message string) {
	span.SetStatus(codes.Error, message)
}

func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// TraceID returns the trace ID of the sampled span in ctx, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsSampled() {
		return ""
	}
	return sc.TraceID().String()
}
