package otel

import (
	"context"
	"errors"
	"testing"
	"time"

	eventbus "github.com/hanpama/grpcdyn/internal/eventbus"
	events "github.com/hanpama/grpcdyn/internal/events"
	reqid "github.com/hanpama/grpcdyn/internal/reqid"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	grpccodes "google.golang.org/grpc/codes"
)

func setup(t *testing.T) (*eventbus.Bus, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	b := eventbus.New()
	t.Cleanup(newSubscriber(tp.Tracer("test")).register(b))
	return b, rec
}

func attrs(kvs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	m := map[attribute.Key]attribute.Value{}
	for _, kv := range kvs {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestInvocationSpan(t *testing.T) {
	b, rec := setup(t)
	ctx, _ := reqid.NewContext(context.Background())

	eventbus.Emit(b, ctx, events.InvocationStart{Service: "calc.Calc", Method: "Add", Shape: "unary", Target: "x:1"})
	eventbus.Emit(b, ctx, events.MessageSent{Service: "calc.Calc", Method: "Add", Size: 3})
	eventbus.Emit(b, ctx, events.MessageReceived{Service: "calc.Calc", Method: "Add", Size: 2})
	require.Empty(t, rec.Ended())
	eventbus.Emit(b, ctx, events.InvocationFinish{Service: "calc.Calc", Method: "Add", Code: grpccodes.OK, Sent: 1, Received: 1})

	spans := rec.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	require.Equal(t, "grpc.invocation", span.Name())
	a := attrs(span.Attributes())
	require.Equal(t, "calc.Calc", a["rpc.service"].AsString())
	require.Equal(t, "Add", a["rpc.method"].AsString())
	require.Equal(t, int64(0), a["rpc.grpc.status_code"].AsInt64())
	require.Len(t, span.Events(), 2)
	require.Equal(t, codes.Unset, span.Status().Code)
}

func TestFailedInvocationSpan(t *testing.T) {
	b, rec := setup(t)
	ctx, _ := reqid.NewContext(context.Background())
	eventbus.Emit(b, ctx, events.InvocationStart{Service: "s", Method: "m"})
	eventbus.Emit(b, ctx, events.InvocationFinish{Service: "s", Method: "m", Code: grpccodes.Unavailable, Err: errors.New("down")})

	spans := rec.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, codes.Error, spans[0].Status().Code)
	require.Equal(t, "Unavailable", spans[0].Status().Description)
}

func TestConcurrentInvocationsKeepSeparateSpans(t *testing.T) {
	b, rec := setup(t)
	ctx1, _ := reqid.NewContext(context.Background())
	ctx2, _ := reqid.NewContext(context.Background())
	eventbus.Emit(b, ctx1, events.InvocationStart{Method: "one"})
	eventbus.Emit(b, ctx2, events.InvocationStart{Method: "two"})
	eventbus.Emit(b, ctx2, events.InvocationFinish{Method: "two"})

	spans := rec.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "two", attrs(spans[0].Attributes())["rpc.method"].AsString())

	eventbus.Emit(b, ctx1, events.InvocationFinish{Method: "one"})
	require.Len(t, rec.Ended(), 2)
}

func TestDialSpan(t *testing.T) {
	b, rec := setup(t)
	eventbus.Emit(b, context.Background(), events.GRPCDial{Target: "x:1", Duration: time.Millisecond, Err: errors.New("refused")})
	spans := rec.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "grpc.dial", spans[0].Name())
	require.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup("", "grpcdyn")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
