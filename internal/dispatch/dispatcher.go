/*
Copyright © 2025 ProofGate Authors.

Released under MIT license.
*/

// Package dispatch matches queued proving requests with healthy workers.
// Several dispatch loops run concurrently; each claims one queue entry at a
// time, selects the least loaded healthy worker from a fresh pool snapshot
// and forwards the request, retrying against other workers on transport
// failures within a bounded budget.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/cenkalti/backoff/v4"

	"github.com/proofgate/proofgate/internal/queue"
	"github.com/proofgate/proofgate/internal/worker"
)

// ErrDispatchExhausted indicates that the bounded retry budget for a request
// ran out. It is the only worker-side failure surfaced to clients.
var ErrDispatchExhausted = errors.New("dispatch attempts exhausted")

// Forwarder sends a proving job to a specific worker and returns its response.
// A transport-level error (connection failure, timeout) makes the attempt
// retryable against a different worker.
type Forwarder interface {
	Forward(ctx context.Context, address string, job *queue.Job) (queue.Result, error)
}

// Policy bounds the dispatch retry behavior.
type Policy struct {
	// MaxAttempts is the number of transport-level failures allowed per
	// entry before it terminates as ErrDispatchExhausted.
	MaxAttempts int
	// MaxRequeues is the number of times an entry may be re-queued because
	// no healthy worker was available.
	MaxRequeues int
	// RequeueBackoff is the initial delay before retrying after an empty
	// healthy-worker snapshot; it grows exponentially while the condition
	// persists.
	RequeueBackoff time.Duration
	// Loops is the number of concurrent dispatch loops.
	Loops int
}

const (
	defaultMaxAttempts    = 3
	defaultMaxRequeues    = 5
	defaultRequeueBackoff = 100 * time.Millisecond
	defaultLoops          = 8
)

// Dispatcher continuously pulls entries from the work queue and forwards them
// to workers. It implements service.Worker: Run blocks until ctx is done.
type Dispatcher struct {
	queue  *queue.Queue
	pool   *worker.Pool
	fwd    Forwarder
	policy Policy
	logger log.FieldLogger
}

// New creates a dispatcher. Zero policy fields get defaults.
func New(q *queue.Queue, pool *worker.Pool, fwd Forwarder, policy Policy, logger log.FieldLogger) *Dispatcher {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = defaultMaxAttempts
	}
	if policy.MaxRequeues <= 0 {
		policy.MaxRequeues = defaultMaxRequeues
	}
	if policy.RequeueBackoff <= 0 {
		policy.RequeueBackoff = defaultRequeueBackoff
	}
	if policy.Loops <= 0 {
		policy.Loops = defaultLoops
	}
	return &Dispatcher{queue: q, pool: pool, fwd: fwd, policy: policy, logger: logger}
}

// Run starts the configured number of dispatch loops and blocks until the
// context is canceled and all loops have drained.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("starting dispatcher",
		log.Int("loops", d.policy.Loops),
		log.Int("max_attempts", d.policy.MaxAttempts),
		log.Int("max_requeues", d.policy.MaxRequeues))

	var wg sync.WaitGroup
	for i := 0; i < d.policy.Loops; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			d.runLoop(ctx, d.logger.With(log.Int("dispatch_loop", n)))
		}(i)
	}
	wg.Wait()
	d.logger.Info("dispatcher stopped")
	return nil
}

func (d *Dispatcher) runLoop(ctx context.Context, logger log.FieldLogger) {
	bo := d.newBackOff()
	for {
		entry, err := d.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		d.dispatch(ctx, entry, bo, logger)
	}
}

// dispatch drives one claimed entry to a terminal state: completed with a
// worker response, completed with an error, or re-queued for a later pass.
func (d *Dispatcher) dispatch(ctx context.Context, entry *queue.Entry, bo backoff.BackOff, logger log.FieldLogger) {
	// Workers that already failed this entry during the current claim;
	// retries go to a different worker.
	tried := make(map[string]struct{})

	for {
		if ctx.Err() != nil {
			entry.Complete(queue.Result{Err: fmt.Errorf("proxy is shutting down: %w", ctx.Err())})
			return
		}

		address, ok := d.selectWorker(tried)
		if !ok {
			d.handleNoWorker(ctx, entry, bo, logger)
			return
		}
		bo.Reset()

		res, err := d.forward(ctx, address, entry.Job)
		if err == nil {
			logger.Debug("proving request dispatched",
				log.String("request_id", entry.ID),
				log.String("worker_addr", address),
				log.DurationIn(time.Since(entry.EnqueuedAt), time.Millisecond))
			entry.Complete(res)
			return
		}

		tried[address] = struct{}{}
		entry.Attempts++
		logger.Warn("dispatch attempt failed",
			log.String("request_id", entry.ID),
			log.String("worker_addr", address),
			log.Int("attempts", entry.Attempts),
			log.Error(err))

		if entry.Attempts >= d.policy.MaxAttempts {
			entry.Complete(queue.Result{
				Err: fmt.Errorf("%w (%d attempts, last worker %s): %v",
					ErrDispatchExhausted, entry.Attempts, address, err),
			})
			return
		}
	}
}

// handleNoWorker re-queues the entry at the front to preserve ordering and
// backs the loop off before the next pass. An entry that keeps hitting this
// condition terminates as ErrDispatchExhausted.
func (d *Dispatcher) handleNoWorker(ctx context.Context, entry *queue.Entry, bo backoff.BackOff, logger log.FieldLogger) {
	if ctx.Err() != nil {
		entry.Complete(queue.Result{Err: fmt.Errorf("proxy is shutting down: %w", ctx.Err())})
		return
	}
	if entry.Requeues >= d.policy.MaxRequeues {
		entry.Complete(queue.Result{
			Err: fmt.Errorf("%w: no healthy worker available", ErrDispatchExhausted),
		})
		return
	}
	entry.Requeues++
	// Ownership of the entry transfers back to the queue on RequeueFront;
	// no entry field may be touched after that, so capture what the log
	// needs first.
	requestID, requeues := entry.ID, entry.Requeues
	d.queue.RequeueFront(entry)

	delay := bo.NextBackOff()
	logger.Warn("no healthy worker available, request re-queued",
		log.String("request_id", requestID),
		log.Int("requeues", requeues),
		log.Duration("backoff", delay))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// forward charges the attempt to the worker's in-flight counter for the
// duration of the round trip. A worker that became ineligible between
// snapshot and charge counts as a failed attempt.
func (d *Dispatcher) forward(ctx context.Context, address string, job *queue.Job) (queue.Result, error) {
	if !d.pool.StartRequest(address) {
		return queue.Result{}, fmt.Errorf("worker %s is no longer eligible for dispatch", address)
	}
	defer d.pool.FinishRequest(address)
	return d.fwd.Forward(ctx, address, job)
}

// selectWorker picks the healthy worker with the fewest in-flight requests,
// ties broken by address order. The snapshot is fetched fresh per decision.
func (d *Dispatcher) selectWorker(tried map[string]struct{}) (string, bool) {
	snapshot := d.pool.HealthySnapshot()
	bestAddr := ""
	bestInFlight := -1
	for _, w := range snapshot {
		if _, failed := tried[w.Address]; failed {
			continue
		}
		// Snapshot is address-ordered, so a strict "<" keeps the lowest
		// address among equally loaded workers.
		if bestInFlight < 0 || w.InFlight < bestInFlight {
			bestAddr, bestInFlight = w.Address, w.InFlight
		}
	}
	return bestAddr, bestAddr != ""
}

func (d *Dispatcher) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.policy.RequeueBackoff
	bo.MaxElapsedTime = 0 // the requeue budget bounds the loop, not wall time
	bo.Reset()
	return bo
}
