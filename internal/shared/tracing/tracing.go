// Package tracing wires agentcore's OpenTelemetry span export. Grounded on
// kadirpekel-hector's observability.NewTracer (exporter/resource/provider
// construction) and the teacher's react/tracing.go span-naming and
// attribute conventions (internal/domain/agent/react/tracing.go), adapted
// from the teacher's always-on otel.Tracer() global lookup into an
// explicit provider this process owns and shuts down on exit.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	ScopeCore = "agentcore"

	SpanRPCMethod   = "agentcore.rpc.method"
	SpanWorkflowRun = "agentcore.workflow.run"
	SpanLLMTurn     = "agentcore.llm.single_turn"
	SpanSchedulerTick = "agentcore.scheduler.tick"

	AttrMethod   = "agentcore.rpc.method"
	AttrThread   = "agentcore.thread"
	AttrChatMode = "agentcore.chat_mode"
	AttrTrigger  = "agentcore.trigger"
	AttrOutcome  = "agentcore.outcome"
)

// Shutdown flushes and stops span export. Calling it on a nil/noop tracer
// is a no-op.
type Shutdown func(ctx context.Context) error

// Setup builds a batched OTLP/HTTP span exporter and installs it as the
// global tracer provider, used by every package that calls
// otel.Tracer(tracing.ScopeCore). endpoint == "" disables export and
// installs otel's built-in no-op provider instead, so Start/End calls
// throughout the codebase stay cheap no-ops in dev/test.
func Setup(ctx context.Context, serviceName, endpoint string) (Shutdown, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("tracing: build otlp exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return provider.Shutdown, nil
}

// Start begins a span on the core tracer scope, mirroring the teacher's
// startReactSpan helper but without the teacher's session/run-id
// context lookup (agentcore threads that identity through thread/trigger
// attributes instead).
func Start(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(ScopeCore).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// End closes span, recording err if non-nil (teacher's markSpanResult).
func End(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
