/*
Copyright © 2025 ProofGate Authors.

Released under MIT license.
*/

// Package gate implements admission control for inbound proving requests:
// a per-second rate limit checked first, then queue capacity. Rejections are
// resolved here and never reach the dispatcher.
package gate

import (
	"errors"
	"fmt"
	"time"

	"github.com/RussellLuo/slidingwindow"
	"github.com/acronis/go-appkit/log"

	"github.com/proofgate/proofgate/internal/queue"
)

var (
	// ErrRateLimited is returned when the request rate over the current
	// one-second window exceeds the configured maximum.
	ErrRateLimited = errors.New("requests rate limit exceeded")

	// ErrQueueFull is returned when the work queue is at capacity.
	ErrQueueFull = errors.New("too many requests in the queue")
)

// Limits holds the admission policy, immutable for the process lifetime.
type Limits struct {
	MaxRequestsPerSecond int
}

// Gate decides whether an inbound proving request is admitted into the work
// queue. It is safe for concurrent use.
type Gate struct {
	queue   *queue.Queue
	limiter *slidingwindow.Limiter
	limits  Limits
	metrics *PrometheusMetrics
	logger  log.FieldLogger
}

// New creates an admission gate in front of the given queue.
func New(q *queue.Queue, limits Limits, metrics *PrometheusMetrics, logger log.FieldLogger) (*Gate, error) {
	if limits.MaxRequestsPerSecond <= 0 {
		return nil, fmt.Errorf("max requests per second must be positive, got %d", limits.MaxRequestsPerSecond)
	}
	limiter, _ := slidingwindow.NewLimiter(time.Second, int64(limits.MaxRequestsPerSecond),
		func() (slidingwindow.Window, slidingwindow.StopFunc) {
			return slidingwindow.NewLocalWindow()
		})
	return &Gate{
		queue:   q,
		limiter: limiter,
		limits:  limits,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// Admit checks the rate limit and then tries to enqueue the job.
// The rate check runs strictly before the capacity check and does not touch
// queue state. On success the returned entry is the caller's ticket to wait
// for the dispatch outcome.
func (g *Gate) Admit(job *queue.Job) (*queue.Entry, error) {
	if !g.limiter.Allow() {
		g.metrics.RateLimitRejects.Inc()
		g.logger.Warn("proving request rejected by rate limit",
			log.Int("max_requests_per_second", g.limits.MaxRequestsPerSecond))
		return nil, ErrRateLimited
	}

	entry := queue.NewEntry(job)
	if err := g.queue.TryEnqueue(entry); err != nil {
		g.metrics.QueueDrops.Inc()
		g.logger.Warn("proving request dropped, queue is full",
			log.Int("queue_capacity", g.queue.Cap()))
		return nil, ErrQueueFull
	}
	g.logger.Debug("proving request admitted",
		log.String("request_id", entry.ID), log.Int("queue_len", g.queue.Len()))
	return entry, nil
}

// Limits returns the admission policy the gate was built with.
func (g *Gate) Limits() Limits {
	return g.limits
}
