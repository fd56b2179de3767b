package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a Manager.
type Option func(*Manager)

// WithMetricPrefix replaces the "vitals_engine_" prefix. An empty part keeps
// its default.
func WithMetricPrefix(namespace, subsystem string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
		if subsystem != "" {
			m.subsystem = subsystem
		}
	}
}

// WithLatencyBucketsMS sets the millisecond buckets shared by the fetch,
// aggregation and delivery latency histograms.
func WithLatencyBucketsMS(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.histogramBuckets = buckets
		}
	}
}

// WithInstance labels every series with instance=id, for several engines
// scraped into one Prometheus.
func WithInstance(id string) Option {
	return func(m *Manager) {
		if id != "" {
			m.constLabels = prometheus.Labels{"instance": id}
		}
	}
}

// WithRegistry registers the collectors with r instead of the default
// registerer.
func WithRegistry(r prometheus.Registerer) Option {
	return func(m *Manager) {
		if r != nil {
			m.registry = r
		}
	}
}
