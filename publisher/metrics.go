package publisher

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/eventpublisher/metric"
)

const metricsService = "publisher"

// Metrics holds Prometheus metrics for one publisher. Every series carries a
// constant "stream" label so several publishers can share a registry.
type Metrics struct {
	published      prometheus.Counter
	renderErrors   prometheus.Counter
	sinkErrors     prometheus.Counter
	retries        prometheus.Counter
	renderDuration prometheus.Histogram
	outputBytes    prometheus.Histogram
	activations    *prometheus.CounterVec
}

func newMetrics(registry *metric.MetricsRegistry, streamID string) *Metrics {
	labels := prometheus.Labels{"stream": streamID}
	m := &Metrics{
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "eventpublisher_events_published_total",
			Help:        "Events rendered and accepted by the sink",
			ConstLabels: labels,
		}),
		renderErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "eventpublisher_render_errors_total",
			Help:        "Events that could not be rendered with the active mapping",
			ConstLabels: labels,
		}),
		sinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "eventpublisher_sink_errors_total",
			Help:        "Rendered events the sink rejected after retries",
			ConstLabels: labels,
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "eventpublisher_sink_retries_total",
			Help:        "Sink writes repeated after a transient failure",
			ConstLabels: labels,
		}),
		renderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "eventpublisher_render_duration_seconds",
			Help:        "Time spent rendering one event",
			Buckets:     []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.01},
			ConstLabels: labels,
		}),
		outputBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "eventpublisher_output_bytes",
			Help:        "Size of rendered events",
			Buckets:     prometheus.ExponentialBuckets(64, 4, 8),
			ConstLabels: labels,
		}),
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "eventpublisher_mapping_activations_total",
			Help:        "Mapping activations by result",
			ConstLabels: labels,
		}, []string{"result"}),
	}

	if registry == nil {
		return m
	}

	key := func(name string) string { return streamID + "." + name }
	// Registration failures leave the publisher usable; metrics are simply not exported.
	_ = registry.RegisterCounter(metricsService, key("events_published_total"), m.published)
	_ = registry.RegisterCounter(metricsService, key("render_errors_total"), m.renderErrors)
	_ = registry.RegisterCounter(metricsService, key("sink_errors_total"), m.sinkErrors)
	_ = registry.RegisterCounter(metricsService, key("sink_retries_total"), m.retries)
	_ = registry.RegisterHistogram(metricsService, key("render_duration_seconds"), m.renderDuration)
	_ = registry.RegisterHistogram(metricsService, key("output_bytes"), m.outputBytes)
	_ = registry.RegisterCounterVec(metricsService, key("mapping_activations_total"), m.activations)
	return m
}

func (m *Metrics) activation(ok bool) {
	if ok {
		m.activations.WithLabelValues("success").Inc()
		return
	}
	m.activations.WithLabelValues("failure").Inc()
}
