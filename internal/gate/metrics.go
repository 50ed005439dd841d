/*
Copyright © 2025 ProofGate Authors.

Released under MIT license.
*/

package gate

import "github.com/prometheus/client_golang/prometheus"

// PrometheusMetrics represents the collector of admission metrics.
type PrometheusMetrics struct {
	QueueDrops       prometheus.Counter
	RateLimitRejects prometheus.Counter
	QueueLength      prometheus.GaugeFunc
}

// NewPrometheusMetrics creates a new collector of admission metrics.
// queueLen supplies the current work queue length for the gauge.
func NewPrometheusMetrics(namespace string, queueLen func() float64) *PrometheusMetrics {
	queueDrops := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_dropped_requests_total",
		Help:      "Number of proving requests dropped because the work queue was full.",
	})
	rateLimitRejects := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_rejects_total",
		Help:      "Number of proving requests rejected due to rate limit exceeded.",
	})
	queueLength := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_length",
		Help:      "Current number of proving requests waiting in the work queue.",
	}, queueLen)
	return &PrometheusMetrics{
		QueueDrops:       queueDrops,
		RateLimitRejects: rateLimitRejects,
		QueueLength:      queueLength,
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.QueueDrops,
		pm.RateLimitRejects,
		pm.QueueLength,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.QueueDrops)
	prometheus.Unregister(pm.RateLimitRejects)
	prometheus.Unregister(pm.QueueLength)
}
