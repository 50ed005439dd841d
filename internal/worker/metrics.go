/*
Copyright © 2025 ProofGate Authors.

Released under MIT license.
*/

package worker

import "github.com/prometheus/client_golang/prometheus"

// PrometheusMetrics represents the collector of pool metrics.
type PrometheusMetrics struct {
	Workers       prometheus.Gauge
	ProbeFailures prometheus.Counter
}

// NewPrometheusMetrics creates a new collector of pool metrics.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	workers := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "workers",
		Help:      "Current number of registered proving workers.",
	})
	probeFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_probe_failures_total",
		Help:      "Number of failed worker liveness probes.",
	})
	return &PrometheusMetrics{
		Workers:       workers,
		ProbeFailures: probeFailures,
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.Workers,
		pm.ProbeFailures,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.Workers)
	prometheus.Unregister(pm.ProbeFailures)
}
