// Copyright 2026 fanjia1024
// OpenTelemetry integration for distributed tracing

package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// OTelConfig OpenTelemetry exporter settings.
type OTelConfig struct {
	ServiceName    string
	ExportEndpoint string
	Insecure       bool
}

// InitTracer installs a global tracer provider exporting over OTLP/HTTP.
func InitTracer(config OTelConfig) (*sdktrace.TracerProvider, error) {
	ctx := context.Background()

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(config.ExportEndpoint),
	}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}

// StartExtractSpan starts a span around one extraction run.
func StartExtractSpan(ctx context.Context, family string, textLen int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "toolcall.extract",
		trace.WithAttributes(
			attribute.String("extract.family", family),
			attribute.Int("extract.text_len", textLen),
		),
	)
}

// StartValidateSpan starts a span around one validation.
func StartValidateSpan(ctx context.Context, toolID, callID string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "toolcall.validate",
		trace.WithAttributes(
			attribute.String("tool.id", toolID),
			attribute.String("tool.call_id", callID),
		),
	)
}

// StartCompressSpan starts a span around a history compression.
func StartCompressSpan(ctx context.Context, entries, tokens int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "history.compress",
		trace.WithAttributes(
			attribute.Int("history.entries", entries),
			attribute.Int("history.tokens", tokens),
		),
	)
}
