package otel

import (
	"context"
	"sync"
	"time"

	eventbus "github.com/hanpama/grpcdyn/internal/eventbus"
	events "github.com/hanpama/grpcdyn/internal/events"
	reqid "github.com/hanpama/grpcdyn/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	grpccodes "google.golang.org/grpc/codes"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	sub := newSubscriber(otel.Tracer("grpcdyn"))
	unsubscribe := sub.register(nil)

	return func(ctx context.Context) error {
		unsubscribe()
		return tp.Shutdown(ctx)
	}, nil
}

type subscriber struct {
	tracer trace.Tracer
	spans  sync.Map // rid -> trace.Span
}

func newSubscriber(tracer trace.Tracer) *subscriber {
	return &subscriber{tracer: tracer}
}

// register subscribes to b, or to the global bus when b is nil.
func (s *subscriber) register(b *eventbus.Bus) (unsubscribe func()) {
	subs := []func(){
		on(b, s.dial),
		on(b, s.start),
		on(b, s.sent),
		on(b, s.received),
		on(b, s.finish),
	}
	return func() {
		for _, u := range subs {
			u()
		}
	}
}

func on[T any](b *eventbus.Bus, h eventbus.Handler[T]) func() {
	if b == nil {
		return eventbus.Subscribe(h)
	}
	return eventbus.On(b, h)
}

func (s *subscriber) dial(ctx context.Context, e events.GRPCDial) {
	_, span := s.tracer.Start(ctx, "grpc.dial", trace.WithTimestamp(time.Now().Add(-e.Duration)))
	span.SetAttributes(attribute.String("net.peer.name", e.Target))
	if e.Err != nil {
		span.RecordError(e.Err)
		span.SetStatus(codes.Error, e.Err.Error())
	}
	span.End()
}

func (s *subscriber) start(ctx context.Context, e events.InvocationStart) {
	rid, _ := reqid.FromContext(ctx)
	_, span := s.tracer.Start(ctx, "grpc.invocation", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		semconv.RPCSystemKey.String("grpc"),
		semconv.RPCServiceKey.String(e.Service),
		semconv.RPCMethodKey.String(e.Method),
		attribute.String("rpc.shape", e.Shape),
		attribute.String("net.peer.name", e.Target),
	)
	s.spans.Store(rid, span)
}

func (s *subscriber) sent(ctx context.Context, e events.MessageSent) {
	s.message(ctx, "sent", e.Size)
}

func (s *subscriber) received(ctx context.Context, e events.MessageReceived) {
	s.message(ctx, "received", e.Size)
}

func (s *subscriber) message(ctx context.Context, typ string, size int) {
	rid, _ := reqid.FromContext(ctx)
	v, ok := s.spans.Load(rid)
	if !ok {
		return
	}
	v.(trace.Span).AddEvent("message", trace.WithAttributes(
		attribute.String("message.type", typ),
		attribute.Int("message.uncompressed_size", size),
	))
}

func (s *subscriber) finish(ctx context.Context, e events.InvocationFinish) {
	rid, _ := reqid.FromContext(ctx)
	v, ok := s.spans.LoadAndDelete(rid)
	if !ok {
		return
	}
	span := v.(trace.Span)
	span.SetAttributes(
		attribute.Int("rpc.grpc.status_code", int(e.Code)),
		attribute.Int64("rpc.messages_sent", e.Sent),
		attribute.Int64("rpc.messages_received", e.Received),
	)
	if e.Code != grpccodes.OK {
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.SetStatus(codes.Error, e.Code.String())
	}
	span.End()
}
