/*
Copyright © 2025 ProofGate Authors.

Released under MIT license.
*/

// Package proxy assembles the proving proxy from its parts: the wait queue,
// the admission gate, the worker pool with its health check loop, and the
// dispatcher that forwards queued requests to workers.
package proxy

import (
	"time"

	"github.com/acronis/go-appkit/httpserver"
	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/service"

	"github.com/proofgate/proofgate/internal/dispatch"
	"github.com/proofgate/proofgate/internal/gate"
	"github.com/proofgate/proofgate/internal/queue"
	"github.com/proofgate/proofgate/internal/worker"
)

// metricsNamespace prefixes all Prometheus metrics exposed by the proxy.
const metricsNamespace = "proofgate"

// Proxy owns the long-lived parts of the proving proxy and exposes the units
// that drive them.
type Proxy struct {
	queue      *queue.Queue
	pool       *worker.Pool
	gate       *gate.Gate
	dispatcher *dispatch.Dispatcher
	checker    *worker.HealthChecker

	checkInterval time.Duration

	gateMetrics *gate.PrometheusMetrics
	poolMetrics *worker.PrometheusMetrics
}

// New builds a proxy from the configuration. Metrics collectors are created
// but not registered; call MustRegisterMetrics before starting the units.
func New(cfg *Config, logger log.FieldLogger) (*Proxy, error) {
	q := queue.New(cfg.Queue.Capacity)

	gateMetrics := gate.NewPrometheusMetrics(metricsNamespace, func() float64 { return float64(q.Len()) })
	poolMetrics := worker.NewPrometheusMetrics(metricsNamespace)

	pool := worker.NewPool(cfg.HealthCheck.UnhealthyThreshold, poolMetrics, logger)

	g, err := gate.New(q, gate.Limits{
		MaxRequestsPerSecond: cfg.RateLimit.MaxRequestsPerSecond,
	}, gateMetrics, logger)
	if err != nil {
		return nil, err
	}

	fwd := dispatch.NewHTTPForwarder(
		time.Duration(cfg.Dispatch.ConnectTimeout), time.Duration(cfg.Dispatch.TotalTimeout))
	d := dispatch.New(q, pool, fwd, dispatch.Policy{
		MaxAttempts:    cfg.Dispatch.MaxAttempts,
		MaxRequeues:    cfg.Dispatch.MaxRequeues,
		RequeueBackoff: time.Duration(cfg.Dispatch.RequeueBackoff),
		Loops:          cfg.Dispatch.Loops,
	}, logger)

	checker := worker.NewHealthChecker(pool, worker.CheckPolicy{
		ConnectTimeout: time.Duration(cfg.HealthCheck.ConnectTimeout),
		TotalTimeout:   time.Duration(cfg.HealthCheck.TotalTimeout),
	}, logger)

	return &Proxy{
		queue:         q,
		pool:          pool,
		gate:          g,
		dispatcher:    d,
		checker:       checker,
		checkInterval: time.Duration(cfg.HealthCheck.Interval),
		gateMetrics:   gateMetrics,
		poolMetrics:   poolMetrics,
	}, nil
}

// Gate returns the admission gate for the HTTP surface.
func (p *Proxy) Gate() *gate.Gate {
	return p.gate
}

// Pool returns the worker pool for the HTTP surface.
func (p *Proxy) Pool() *worker.Pool {
	return p.pool
}

// Units returns the service units that drive the proxy: the dispatcher loops
// and the periodic worker health check.
func (p *Proxy) Units(logger log.FieldLogger) []service.Unit {
	return []service.Unit{
		service.NewWorkerUnit(p.dispatcher),
		service.NewWorkerUnit(service.NewPeriodicWorker(p.checker, p.checkInterval, logger)),
	}
}

// HealthCheck reports the proxy health for the /healthz endpoint. The proxy
// is degraded when it has no healthy worker to forward to.
func (p *Proxy) HealthCheck() (httpserver.HealthCheckResult, error) {
	status := httpserver.HealthCheckStatusOK
	if len(p.pool.HealthySnapshot()) == 0 {
		status = httpserver.HealthCheckStatusFail
	}
	return httpserver.HealthCheckResult{"workers": status}, nil
}

// MustRegisterMetrics registers all proxy metrics in the default Prometheus registry.
func (p *Proxy) MustRegisterMetrics() {
	p.gateMetrics.MustRegister()
	p.poolMetrics.MustRegister()
}

// UnregisterMetrics unregisters all proxy metrics from the default Prometheus registry.
func (p *Proxy) UnregisterMetrics() {
	p.gateMetrics.Unregister()
	p.poolMetrics.Unregister()
}
