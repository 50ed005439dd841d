/*
Copyright © 2025 ProofGate Authors.

Released under MIT license.
*/

// Package worker owns the membership and health of the backend prover set.
// The Pool is the single mutator of worker state; dispatchers only ever see
// point-in-time snapshots of it.
package worker

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/acronis/go-appkit/log"
	"go.uber.org/atomic"
)

var (
	// ErrInvalidAddress is returned by Register for a malformed worker address.
	// Such an address never enters the health-check loop.
	ErrInvalidAddress = errors.New("invalid worker address")

	// ErrUnknownWorker is returned by Deregister for an address that is not registered.
	ErrUnknownWorker = errors.New("unknown worker")
)

// Status is the health status of a worker.
type Status int

// Worker health statuses.
const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	}
	return "unknown"
}

// Entry is a point-in-time view of a single worker.
// It is a value copy: mutating it has no effect on the pool.
type Entry struct {
	Address    string
	Status     Status
	LastProbe  time.Time
	InFlight   int
	Generation uint64
}

type workerState struct {
	address     string
	status      Status
	lastProbe   time.Time
	consecFails int
	generation  uint64
	inFlight    *atomic.Int64
}

// Pool tracks worker membership and health.
//
// All state transitions go through Pool methods under a single lock
// (single-writer discipline); HealthySnapshot gives readers a consistent copy
// and is linearizable with respect to Register/Deregister.
type Pool struct {
	unhealthyThreshold int
	logger             log.FieldLogger
	metrics            *PrometheusMetrics

	mu         sync.RWMutex
	workers    map[string]*workerState
	generation uint64
}

// NewPool creates an empty pool. A worker becomes Unhealthy after
// unhealthyThreshold consecutive failed probes.
func NewPool(unhealthyThreshold int, metrics *PrometheusMetrics, logger log.FieldLogger) *Pool {
	return &Pool{
		unhealthyThreshold: unhealthyThreshold,
		logger:             logger,
		metrics:            metrics,
		workers:            make(map[string]*workerState),
	}
}

// Register adds a worker in Unknown status; health is not assumed until the
// first successful probe. Registering an already known address is a no-op.
// It returns the resulting total worker count.
func (p *Pool) Register(address string) (int, error) {
	if err := validateAddress(address); err != nil {
		return p.Count(), err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.workers[address]; !ok {
		p.generation++
		p.workers[address] = &workerState{
			address:    address,
			status:     StatusUnknown,
			generation: p.generation,
			inFlight:   atomic.NewInt64(0),
		}
		p.metrics.Workers.Set(float64(len(p.workers)))
		p.logger.Info("worker registered",
			log.String("worker_addr", address), log.Int("worker_count", len(p.workers)))
	}
	return len(p.workers), nil
}

// Deregister removes a worker regardless of in-flight work. Requests already
// dispatched to it will fail on the transport and be retried elsewhere.
// It returns the resulting total worker count.
func (p *Pool) Deregister(address string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.workers[address]; !ok {
		return len(p.workers), fmt.Errorf("%w: %s", ErrUnknownWorker, address)
	}
	delete(p.workers, address)
	p.metrics.Workers.Set(float64(len(p.workers)))
	p.logger.Info("worker deregistered",
		log.String("worker_addr", address), log.Int("worker_count", len(p.workers)))
	return len(p.workers), nil
}

// Count returns the number of known workers regardless of health.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workers)
}

// Addresses returns all known worker addresses in ascending order.
func (p *Pool) Addresses() []string {
	p.mu.RLock()
	addrs := make([]string, 0, len(p.workers))
	for addr := range p.workers {
		addrs = append(addrs, addr)
	}
	p.mu.RUnlock()
	sort.Strings(addrs)
	return addrs
}

// HealthySnapshot returns a consistent copy of all Healthy workers ordered by
// address. Callers must re-fetch a fresh snapshot per dispatch decision
// instead of holding one across membership changes.
func (p *Pool) HealthySnapshot() []Entry {
	p.mu.RLock()
	snapshot := make([]Entry, 0, len(p.workers))
	for _, ws := range p.workers {
		if ws.status != StatusHealthy {
			continue
		}
		snapshot = append(snapshot, Entry{
			Address:    ws.address,
			Status:     ws.status,
			LastProbe:  ws.lastProbe,
			InFlight:   int(ws.inFlight.Load()),
			Generation: ws.generation,
		})
	}
	p.mu.RUnlock()
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Address < snapshot[j].Address })
	return snapshot
}

// StartRequest charges one in-flight request to the worker. It returns false
// when the worker is no longer eligible (deregistered or not Healthy), which
// the dispatcher treats as a failed attempt.
func (p *Pool) StartRequest(address string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ws, ok := p.workers[address]
	if !ok || ws.status != StatusHealthy {
		return false
	}
	ws.inFlight.Inc()
	return true
}

// FinishRequest releases one in-flight request from the worker.
// It is a no-op for a worker deregistered mid-request.
func (p *Pool) FinishRequest(address string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ws, ok := p.workers[address]
	if !ok {
		return
	}
	if ws.inFlight.Dec() < 0 {
		ws.inFlight.Store(0)
	}
}

// ReportProbe records the outcome of a liveness probe. A successful probe
// resets the consecutive-failure counter and makes the worker Healthy; a
// failed one increments the counter and, once the threshold is reached, makes
// it Unhealthy. Unhealthy workers are retained and keep being probed so a
// later success can bring them back.
func (p *Pool) ReportProbe(address string, probeErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ws, ok := p.workers[address]
	if !ok {
		// Deregistered while the probe was in flight.
		return
	}
	ws.lastProbe = time.Now()

	if probeErr == nil {
		ws.consecFails = 0
		if ws.status != StatusHealthy {
			p.logger.Info("worker became healthy",
				log.String("worker_addr", address), log.String("prev_status", ws.status.String()))
			ws.status = StatusHealthy
		}
		return
	}

	ws.consecFails++
	p.metrics.ProbeFailures.Inc()
	if ws.consecFails >= p.unhealthyThreshold && ws.status != StatusUnhealthy {
		ws.status = StatusUnhealthy
		p.logger.Warn("worker became unhealthy",
			log.String("worker_addr", address),
			log.Int("consecutive_failures", ws.consecFails),
			log.Error(probeErr))
		return
	}
	p.logger.Debug("worker probe failed",
		log.String("worker_addr", address),
		log.Int("consecutive_failures", ws.consecFails),
		log.Error(probeErr))
}

func validateAddress(address string) error {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidAddress, address, err)
	}
	if host == "" || port == "" {
		return fmt.Errorf("%w: %q: host and port must be non-empty", ErrInvalidAddress, address)
	}
	return nil
}
