/*
Copyright © 2025 ProofGate Authors.

Released under MIT license.
*/

package worker

import (
	"errors"
	"testing"

	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/log/logtest"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newTestPool(threshold int) (*Pool, *PrometheusMetrics) {
	metrics := NewPrometheusMetrics("proofgate_test")
	return NewPool(threshold, metrics, log.NewDisabledLogger()), metrics
}

func TestPoolRegister(t *testing.T) {
	t.Run("new worker starts in unknown status", func(t *testing.T) {
		pool, _ := newTestPool(3)
		count, err := pool.Register("127.0.0.1:50051")
		require.NoError(t, err)
		require.Equal(t, 1, count)
		require.Empty(t, pool.HealthySnapshot(), "unknown worker must not be dispatchable")
	})

	t.Run("registration is idempotent", func(t *testing.T) {
		pool, metrics := newTestPool(3)
		_, err := pool.Register("127.0.0.1:50051")
		require.NoError(t, err)
		count, err := pool.Register("127.0.0.1:50051")
		require.NoError(t, err)
		require.Equal(t, 1, count)
		require.Equal(t, []string{"127.0.0.1:50051"}, pool.Addresses())
		require.Equal(t, float64(1), promtestutil.ToFloat64(metrics.Workers))
	})

	t.Run("malformed address is rejected synchronously", func(t *testing.T) {
		pool, _ := newTestPool(3)
		for _, addr := range []string{"", "no-port", "127.0.0.1:", ":50051"} {
			_, err := pool.Register(addr)
			require.ErrorIs(t, err, ErrInvalidAddress, "address %q", addr)
		}
		require.Equal(t, 0, pool.Count())
	})
}

func TestPoolDeregister(t *testing.T) {
	pool, metrics := newTestPool(3)
	_, err := pool.Register("127.0.0.1:50051")
	require.NoError(t, err)
	pool.ReportProbe("127.0.0.1:50051", nil)

	count, err := pool.Deregister("127.0.0.1:50051")
	require.NoError(t, err)
	require.Equal(t, 0, count)
	require.Empty(t, pool.HealthySnapshot(), "snapshot after deregister must not contain the worker")
	require.Equal(t, float64(0), promtestutil.ToFloat64(metrics.Workers))

	_, err = pool.Deregister("127.0.0.1:50051")
	require.ErrorIs(t, err, ErrUnknownWorker)
}

func TestPoolHealthTransitions(t *testing.T) {
	const addr = "127.0.0.1:50051"
	probeErr := errors.New("probe failed")

	pool, metrics := newTestPool(2)
	_, err := pool.Register(addr)
	require.NoError(t, err)

	pool.ReportProbe(addr, nil)
	snapshot := pool.HealthySnapshot()
	require.Len(t, snapshot, 1)
	require.Equal(t, StatusHealthy, snapshot[0].Status)

	// One failure below the threshold keeps the worker dispatchable.
	pool.ReportProbe(addr, probeErr)
	require.Len(t, pool.HealthySnapshot(), 1)

	// A success in between resets the consecutive-failure counter.
	pool.ReportProbe(addr, nil)
	pool.ReportProbe(addr, probeErr)
	require.Len(t, pool.HealthySnapshot(), 1)

	pool.ReportProbe(addr, probeErr)
	require.Empty(t, pool.HealthySnapshot(), "threshold reached, worker must be evicted from snapshots")
	require.Equal(t, float64(3), promtestutil.ToFloat64(metrics.ProbeFailures))

	// The entry is retained: a fresh successful probe recovers it.
	pool.ReportProbe(addr, nil)
	require.Len(t, pool.HealthySnapshot(), 1)
}

func TestPoolSnapshotOrderedByAddress(t *testing.T) {
	pool, _ := newTestPool(3)
	for _, addr := range []string{"10.0.0.3:9000", "10.0.0.1:9000", "10.0.0.2:9000"} {
		_, err := pool.Register(addr)
		require.NoError(t, err)
		pool.ReportProbe(addr, nil)
	}

	snapshot := pool.HealthySnapshot()
	require.Len(t, snapshot, 3)
	require.Equal(t, "10.0.0.1:9000", snapshot[0].Address)
	require.Equal(t, "10.0.0.2:9000", snapshot[1].Address)
	require.Equal(t, "10.0.0.3:9000", snapshot[2].Address)
}

func TestPoolGenerationGrowsAcrossRegistrations(t *testing.T) {
	const addr = "127.0.0.1:50051"

	pool, _ := newTestPool(3)
	_, err := pool.Register(addr)
	require.NoError(t, err)
	pool.ReportProbe(addr, nil)
	firstGen := pool.HealthySnapshot()[0].Generation

	_, err = pool.Deregister(addr)
	require.NoError(t, err)
	_, err = pool.Register(addr)
	require.NoError(t, err)
	pool.ReportProbe(addr, nil)

	require.Greater(t, pool.HealthySnapshot()[0].Generation, firstGen,
		"re-registered worker must be distinguishable from its previous incarnation")
}

func TestPoolInFlightAccounting(t *testing.T) {
	const addr = "127.0.0.1:50051"

	pool, _ := newTestPool(3)
	_, err := pool.Register(addr)
	require.NoError(t, err)

	require.False(t, pool.StartRequest(addr), "unknown-status worker must not accept work")

	pool.ReportProbe(addr, nil)
	require.True(t, pool.StartRequest(addr))
	require.True(t, pool.StartRequest(addr))
	require.Equal(t, 2, pool.HealthySnapshot()[0].InFlight)

	pool.FinishRequest(addr)
	require.Equal(t, 1, pool.HealthySnapshot()[0].InFlight)

	// Finishing against a deregistered worker is a no-op.
	_, err = pool.Deregister(addr)
	require.NoError(t, err)
	pool.FinishRequest(addr)
	require.False(t, pool.StartRequest(addr))
}

func TestPoolLogsHealthTransitions(t *testing.T) {
	const addr = "127.0.0.1:50051"
	probeErr := errors.New("probe failed")

	logRecorder := logtest.NewRecorder()
	pool := NewPool(1, NewPrometheusMetrics("proofgate_test"), logRecorder)
	_, err := pool.Register(addr)
	require.NoError(t, err)

	pool.ReportProbe(addr, probeErr)
	entry, found := logRecorder.FindEntry("worker became unhealthy")
	require.True(t, found)
	field, found := entry.FindField("worker_addr")
	require.True(t, found)
	require.Equal(t, addr, string(field.Bytes))

	pool.ReportProbe(addr, nil)
	_, found = logRecorder.FindEntry("worker became healthy")
	require.True(t, found)
}

func TestPoolProbeReportForDeregisteredWorkerIsIgnored(t *testing.T) {
	pool, _ := newTestPool(1)
	pool.ReportProbe("127.0.0.1:50051", nil)
	require.Equal(t, 0, pool.Count())
	require.Empty(t, pool.HealthySnapshot())
}
