package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "plugin-guard"

// Tracer wraps OpenTelemetry tracing for validation and execution spans.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer using the global TracerProvider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartSpan creates a new span and returns the updated context.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("pluginguard.%s", name),
		trace.WithAttributes(attrs...),
	)
	return ctx, span
}

// SpanFromContext returns the current span from the context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// Common attribute keys for isolation-engine tracing.
var (
	AttrPluginID    = attribute.Key("pluginguard.plugin.id")
	AttrSandboxID   = attribute.Key("pluginguard.sandbox.id")
	AttrContentHash = attribute.Key("pluginguard.content_hash")
	AttrRiskScore   = attribute.Key("pluginguard.risk_score")
	AttrStatus      = attribute.Key("pluginguard.status")
	AttrViolations  = attribute.Key("pluginguard.violations")
	AttrDurationMS  = attribute.Key("pluginguard.duration_ms")
)
