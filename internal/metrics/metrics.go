// Package metrics exports invocation counters and latencies in Prometheus
// format. Collectors are fed from the event bus.
package metrics

import (
	"context"
	"net/http"

	"github.com/hanpama/grpcdyn/internal/eventbus"
	"github.com/hanpama/grpcdyn/internal/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "grpcdyn"

// Metrics holds the client's collectors.
type Metrics struct {
	reg *prometheus.Registry

	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	active      prometheus.Gauge
	messages    *prometheus.CounterVec
	bytes       *prometheus.CounterVec
	dials       *prometheus.CounterVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Finished invocations by method, shape and status code.",
		}, []string{"service", "method", "shape", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Wall time from invocation start until both legs ended.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "method"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_invocations",
			Help:      "Invocations currently in flight.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Messages written to or read from the transport.",
		}, []string{"service", "method", "direction"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_bytes_total",
			Help:      "Encoded message bytes written to or read from the transport.",
		}, []string{"direction"}),
		dials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dials_total",
			Help:      "Connection attempts by result.",
		}, []string{"result"}),
	}
	m.reg.MustRegister(m.invocations, m.duration, m.active, m.messages, m.bytes, m.dials)
	return m
}

// Subscribe attaches the collectors to b, or to the global bus when b is nil.
func (m *Metrics) Subscribe(b *eventbus.Bus) (unsubscribe func()) {
	subs := []func(){
		on(b, func(_ context.Context, e events.InvocationStart) { m.active.Inc() }),
		on(b, func(_ context.Context, e events.InvocationFinish) {
			m.active.Dec()
			m.invocations.WithLabelValues(e.Service, e.Method, e.Shape, e.Code.String()).Inc()
			m.duration.WithLabelValues(e.Service, e.Method).Observe(e.Duration.Seconds())
		}),
		on(b, func(_ context.Context, e events.MessageSent) {
			m.messages.WithLabelValues(e.Service, e.Method, "sent").Inc()
			m.bytes.WithLabelValues("sent").Add(float64(e.Size))
		}),
		on(b, func(_ context.Context, e events.MessageReceived) {
			m.messages.WithLabelValues(e.Service, e.Method, "received").Inc()
			m.bytes.WithLabelValues("received").Add(float64(e.Size))
		}),
		on(b, func(_ context.Context, e events.GRPCDial) {
			result := "ok"
			if e.Err != nil {
				result = "error"
			}
			m.dials.WithLabelValues(result).Inc()
		}),
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

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }
