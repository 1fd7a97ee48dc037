package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/pubcontrol/core/metrics"
)

// PromSink records publish outcomes and subscription edges in Prometheus
// metrics.
type PromSink struct {
	publishes     *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	subscriptions *prometheus.CounterVec
	channels      prometheus.Gauge
}

// NewPromSink registers metrics on the default Prometheus registerer.
// The /metrics endpoint is served separately, see StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	publishes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pubcontrol_publish_total",
		Help: "Total number of publish attempts per client kind and outcome",
	}, []string{"kind", "success"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pubcontrol_publish_latency_seconds",
		Help:    "Time between publish call and completion",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind", "success"})
	subscriptions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pubcontrol_subscription_events_total",
		Help: "Total number of aggregated subscription edges",
	}, []string{"type"})
	channels := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pubcontrol_subscribed_channels",
		Help: "Number of channels with at least one subscriber",
	})

	var err error
	if publishes, err = register(reg, publishes); err != nil {
		return nil, err
	}
	if latency, err = register(reg, latency); err != nil {
		return nil, err
	}
	if subscriptions, err = register(reg, subscriptions); err != nil {
		return nil, err
	}
	if channels, err = register(reg, channels); err != nil {
		return nil, err
	}
	return &PromSink{publishes: publishes, latency: latency, subscriptions: subscriptions, channels: channels}, nil
}

// register returns the already registered collector when c was registered
// before, so several sinks can share one registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordPublish counts the attempt and observes its latency.
func (s *PromSink) RecordPublish(ev coremetrics.PublishEvent) error {
	ok := strconv.FormatBool(ev.Success)
	s.publishes.WithLabelValues(ev.Kind, ok).Inc()
	s.latency.WithLabelValues(ev.Kind, ok).Observe(ev.Latency.Seconds())
	return nil
}

// RecordSubscription counts the edge and tracks the subscribed channels.
func (s *PromSink) RecordSubscription(ev coremetrics.SubscriptionEvent) error {
	s.subscriptions.WithLabelValues(ev.Type).Inc()
	switch ev.Type {
	case "sub":
		s.channels.Inc()
	case "unsub":
		s.channels.Dec()
	}
	return nil
}
