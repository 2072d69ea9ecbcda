package interceptors

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/glimte/mmate-instrument/interceptors"

// TracingInterceptor opens a span for every intercepted call. When the first
// argument is a context.Context it is replaced with the span's context, so the
// real operation and anything it calls see the span as parent.
type TracingInterceptor struct {
	tracer trace.Tracer
}

// NewTracingInterceptor creates a tracing interceptor. A nil provider falls
// back to the global one.
func NewTracingInterceptor(provider trace.TracerProvider) *TracingInterceptor {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &TracingInterceptor{tracer: provider.Tracer(tracerName)}
}

// OnEnter implements EnterHook
func (i *TracingInterceptor) OnEnter(inv *Invocation) (Decision, error) {
	parent, hasCtx := inv.Arg(0).(context.Context)
	if !hasCtx || parent == nil {
		parent = context.Background()
	}

	ctx, span := i.tracer.Start(parent, operationKey(inv),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("code.namespace", inv.Type().Name),
			attribute.String("code.function", inv.Operation().Name),
			attribute.String("instrument.realm", inv.Type().Realm.String()),
			attribute.Bool("instrument.static", inv.Instance() == nil),
		),
	)
	if hasCtx {
		inv.SetArg(0, ctx)
	}
	inv.SetUserContext(span)
	return Continue, nil
}

// OnLeave implements LeaveHook
func (i *TracingInterceptor) OnLeave(inv *Invocation) error {
	span, ok := inv.UserContext().(trace.Span)
	if !ok {
		return nil
	}

	span.SetAttributes(attribute.Int64("instrument.cost_ns", inv.CostTime().Nanoseconds()))
	if err := inv.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if p, panicked := inv.Panic(); panicked {
		span.SetStatus(codes.Error, fmt.Sprintf("panic: %v", p))
	}
	span.End(trace.WithTimestamp(inv.EndTime()))
	return nil
}

// Name implements Interceptor
func (i *TracingInterceptor) Name() string {
	return "TracingInterceptor"
}
