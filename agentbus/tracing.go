package agentbus

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/jeeves-cluster-organization/cbp-bus/message"
	"github.com/jeeves-cluster-organization/cbp-bus/schema"
)

var tracer = otel.Tracer("github.com/jeeves-cluster-organization/cbp-bus/agentbus")

// InitTracer wires the bus's send_and_wait spans to an OTLP collector.
// Callers that never invoke this get otel's default no-op provider, so
// SendAndWait's span calls are always safe even when tracing isn't
// configured.
func InitTracer(serviceName, otlpEndpoint string) (func(context.Context) error, error) {
	ctx := context.Background()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(otlpEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("cbp-bus: create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("cbp-bus: create trace resource: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// startSendSpan opens a span around one send_and_wait round trip, tagging
// it with the (caller, callee) pair so a trace backend can group retries
// and breaker trips by route.
func startSendSpan(ctx context.Context, caller, callee schema.AgentID, m message.Message) (context.Context, oteltrace.Span) {
	return tracer.Start(ctx, "agentbus.send_and_wait",
		oteltrace.WithAttributes(
			attribute.Int64("agentbus.caller", int64(caller)),
			attribute.Int64("agentbus.callee", int64(callee)),
			attribute.String("agentbus.message_id", m.MessageID),
		),
	)
}

func endSendSpan(span oteltrace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
