package interceptors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newRecorder() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return recorder, provider
}

func TestTracingInterceptor(t *testing.T) {
	t.Run("one span per call with operation attributes", func(t *testing.T) {
		recorder, provider := newRecorder()
		d := NewMethodDispatcher(fooType, barOp, NewTracingInterceptor(provider))

		_, err := d.Invoke(nil, []any{2}, doubling)

		require.NoError(t, err)
		spans := recorder.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, "shop.Foo.bar(int)", spans[0].Name())
		assert.Contains(t, spans[0].Attributes(), attribute.String("code.namespace", "shop.Foo"))
		assert.Contains(t, spans[0].Attributes(), attribute.String("code.function", "bar"))
		assert.Equal(t, codes.Unset, spans[0].Status().Code)
	})

	t.Run("errors mark the span", func(t *testing.T) {
		recorder, provider := newRecorder()
		d := NewMethodDispatcher(fooType, barOp, NewTracingInterceptor(provider))

		_, _ = d.Invoke(nil, []any{2}, func([]any) (any, error) { return nil, errors.New("denied") })

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status().Code)
		assert.Equal(t, "denied", spans[0].Status().Description)
		require.NotEmpty(t, spans[0].Events())
	})

	t.Run("context argument carries the span into the real call", func(t *testing.T) {
		recorder, provider := newRecorder()
		ctxOp := barOp
		ctxOp.Params = []string{"context.Context"}
		d := NewMethodDispatcher(fooType, ctxOp, NewTracingInterceptor(provider))

		var inner trace.SpanContext
		_, err := d.Invoke(nil, []any{context.Background()}, func(args []any) (any, error) {
			inner = trace.SpanContextFromContext(args[0].(context.Context))
			return nil, nil
		})

		require.NoError(t, err)
		spans := recorder.Ended()
		require.Len(t, spans, 1)
		assert.True(t, inner.IsValid())
		assert.Equal(t, spans[0].SpanContext().SpanID(), inner.SpanID())
	})

	t.Run("skipped calls open no span", func(t *testing.T) {
		recorder, provider := newRecorder()
		reject := CallFilterFunc(func(*Invocation) (bool, error) { return false, nil })
		d := NewMethodDispatcher(fooType, barOp, NewFilteringInterceptor(reject, NewTracingInterceptor(provider)))

		_, _ = d.Invoke(nil, []any{2}, doubling)

		assert.Empty(t, recorder.Started())
	})

	t.Run("leave without a span is a no-op", func(t *testing.T) {
		i := NewTracingInterceptor(nil)
		assert.NoError(t, i.OnLeave(NewInvocation(fooType, barOp, nil)))
		assert.Equal(t, "TracingInterceptor", i.Name())
	})
}
