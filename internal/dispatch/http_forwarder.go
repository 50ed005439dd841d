/*
Copyright © 2025 ProofGate Authors.

Released under MIT license.
*/

package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/proofgate/proofgate/internal/queue"
)

// HTTPForwarder forwards proving jobs to workers over HTTP.
// The connect timeout bounds connection establishment, the total timeout the
// whole worker round trip; proving calls are long-running, so the two are
// configured independently from the health-check timeouts.
type HTTPForwarder struct {
	client       *http.Client
	totalTimeout time.Duration
}

// NewHTTPForwarder creates a forwarder with the given timeouts.
func NewHTTPForwarder(connectTimeout, totalTimeout time.Duration) *HTTPForwarder {
	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     time.Minute,
	}
	return &HTTPForwarder{
		client:       &http.Client{Transport: transport},
		totalTimeout: totalTimeout,
	}
}

// Forward sends the job to the worker at the given address and reads the full
// response. Transport errors are returned as-is for the dispatcher to retry;
// any HTTP status from the worker is a successful forward and is relayed to
// the client unchanged.
func (f *HTTPForwarder) Forward(ctx context.Context, address string, job *queue.Job) (queue.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, f.totalTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, job.Method, "http://"+address+job.Path, bytes.NewReader(job.Body))
	if err != nil {
		return queue.Result{}, fmt.Errorf("build request for worker %s: %w", address, err)
	}
	for key, values := range job.Header {
		req.Header[key] = values
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return queue.Result{}, fmt.Errorf("forward to worker %s: %w", address, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return queue.Result{}, fmt.Errorf("read response from worker %s: %w", address, err)
	}
	return queue.Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}
