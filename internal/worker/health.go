/*
Copyright © 2025 ProofGate Authors.

Released under MIT license.
*/

package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/acronis/go-appkit/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ErrConnectionFailed indicates that a worker was unreachable within the
// connect timeout. It is handled internally by the pool and never surfaced
// to clients.
var ErrConnectionFailed = errors.New("connection to worker failed")

// CheckPolicy bounds a single liveness probe. ConnectTimeout limits
// connection establishment, TotalTimeout the whole probe: a slow network and
// a slow worker are distinct failure modes with distinct policy.
type CheckPolicy struct {
	ConnectTimeout time.Duration
	TotalTimeout   time.Duration
}

// ProbeFunc performs a single liveness probe against a worker address.
type ProbeFunc func(ctx context.Context, address string, policy CheckPolicy) error

// HealthChecker drives liveness probing for all known workers.
// It implements service.Worker: one Run is one probe round, and the caller
// (a service.PeriodicWorker) is responsible for the probing interval.
type HealthChecker struct {
	pool   *Pool
	policy CheckPolicy
	probe  ProbeFunc
	logger log.FieldLogger
}

// HealthCheckerOpts contains optional parameters for constructing HealthChecker.
type HealthCheckerOpts struct {
	// Probe replaces the default gRPC health probe. Used in tests.
	Probe ProbeFunc
}

// NewHealthChecker creates a checker probing workers of the given pool.
func NewHealthChecker(pool *Pool, policy CheckPolicy, logger log.FieldLogger) *HealthChecker {
	return NewHealthCheckerWithOpts(pool, policy, logger, HealthCheckerOpts{})
}

// NewHealthCheckerWithOpts creates a new instance of HealthChecker
// with an ability to specify different optional parameters.
func NewHealthCheckerWithOpts(
	pool *Pool, policy CheckPolicy, logger log.FieldLogger, opts HealthCheckerOpts,
) *HealthChecker {
	probe := opts.Probe
	if probe == nil {
		probe = GRPCHealthProbe
	}
	return &HealthChecker{pool: pool, policy: policy, probe: probe, logger: logger}
}

// Run probes every known worker once, concurrently, and reports the outcomes
// to the pool. It never fails the periodic loop: probe errors are part of
// normal operation and are absorbed by the failure counters.
func (hc *HealthChecker) Run(ctx context.Context) error {
	addresses := hc.pool.Addresses()
	if len(addresses) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, address := range addresses {
		wg.Add(1)
		go func(address string) {
			defer wg.Done()
			hc.pool.ReportProbe(address, hc.probe(ctx, address, hc.policy))
		}(address)
	}
	wg.Wait()
	return nil
}

// GRPCHealthProbe checks worker liveness via the standard gRPC health service.
func GRPCHealthProbe(ctx context.Context, address string, policy CheckPolicy) error {
	dialer := &net.Dialer{Timeout: policy.ConnectTimeout}
	conn, err := grpc.NewClient(address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, "tcp", addr)
		}),
	)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConnectionFailed, address, err)
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(ctx, policy.TotalTimeout)
	defer cancel()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		if status.Code(err) == codes.Unavailable {
			return fmt.Errorf("%w: %s: %v", ErrConnectionFailed, address, err)
		}
		return fmt.Errorf("health check %s: %w", address, err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("worker %s reported status %s", address, resp.GetStatus())
	}
	return nil
}
