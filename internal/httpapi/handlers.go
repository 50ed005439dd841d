/*
Copyright © 2025 ProofGate Authors.

Released under MIT license.
*/

package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/acronis/go-appkit/httpserver/middleware"
	"github.com/acronis/go-appkit/log"

	"github.com/proofgate/proofgate/internal/gate"
	"github.com/proofgate/proofgate/internal/queue"
	"github.com/proofgate/proofgate/internal/worker"
)

// ProvePath is the path the proving request is forwarded to on the selected
// worker, regardless of the path it arrived on.
const ProvePath = "/v1/prove"

// maxProveBodySize bounds the proving request payload read into memory.
// Proof witnesses are large but bounded; 32 MiB leaves generous headroom.
const maxProveBodySize = 32 << 20

// Handler serves the proxy API: proving requests pass through the admission
// gate and wait for a dispatch outcome, membership requests mutate the worker
// pool directly.
type Handler struct {
	gate *gate.Gate
	pool *worker.Pool
}

func NewHandler(g *gate.Gate, pool *worker.Pool) *Handler {
	return &Handler{gate: g, pool: pool}
}

func (h *Handler) HandleProve(rw http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxProveBodySize+1))
	if err != nil {
		respondBadRequest(rw, "failed to read request body")
		return
	}
	if len(body) > maxProveBodySize {
		respondBadRequest(rw, "request body is too large")
		return
	}

	job := &queue.Job{
		Method: http.MethodPost,
		Path:   ProvePath,
		Header: endToEndHeader(r.Header),
		Body:   body,
	}

	entry, err := h.gate.Admit(job)
	if err != nil {
		switch {
		case errors.Is(err, gate.ErrRateLimited):
			respondRateLimited(rw, h.gate.Limits().MaxRequestsPerSecond)
		case errors.Is(err, gate.ErrQueueFull):
			respondQueueFull(rw)
		default:
			respondBadRequest(rw, err.Error())
		}
		return
	}

	res, err := entry.Wait(r.Context())
	if err != nil {
		// The client went away; the dispatcher will still drain the entry.
		logger.Warn("client disconnected before proving completed",
			log.String("entry_id", entry.ID), log.Error(err))
		return
	}
	if res.Err != nil {
		respondBadRequest(rw, res.Err.Error())
		return
	}
	relayResult(rw, res.StatusCode, res.Header, res.Body, logger)
}

type workerRequest struct {
	Address string `json:"address"`
}

func (h *Handler) HandleAddWorker(rw http.ResponseWriter, r *http.Request) {
	h.handleMembership(rw, r, h.pool.Register)
}

func (h *Handler) HandleRemoveWorker(rw http.ResponseWriter, r *http.Request) {
	h.handleMembership(rw, r, h.pool.Deregister)
}

func (h *Handler) handleMembership(
	rw http.ResponseWriter, r *http.Request, apply func(address string) (int, error),
) {
	logger := requestLogger(r)

	var req workerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(rw, "invalid request body: "+err.Error())
		return
	}
	if req.Address == "" {
		respondBadRequest(rw, "address is required")
		return
	}

	count, err := apply(req.Address)
	if err != nil {
		logger.Warn("worker membership change rejected",
			log.String("worker_addr", req.Address), log.Error(err))
		respondBadRequest(rw, err.Error())
		return
	}
	respondWorkersUpdated(rw, count)
}

func requestLogger(r *http.Request) log.FieldLogger {
	if logger := middleware.GetLoggerFromContext(r.Context()); logger != nil {
		return logger
	}
	return log.NewDisabledLogger()
}

// endToEndHeader keeps the end-to-end headers and drops the hop-by-hop ones
// that must not cross the proxy, in either direction.
func endToEndHeader(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for name, values := range src {
		switch http.CanonicalHeaderKey(name) {
		case "Connection", "Keep-Alive", "Proxy-Connection", "Te", "Trailer",
			"Transfer-Encoding", "Upgrade", "Content-Length", "Host":
			continue
		}
		dst[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	return dst
}
