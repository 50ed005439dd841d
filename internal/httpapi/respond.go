/*
Copyright © 2025 ProofGate Authors.

Released under MIT license.
*/

// Package httpapi implements the HTTP surface of the proxy: the proving
// endpoint, the worker membership endpoints, and the mapping of internal
// outcomes onto wire responses.
//
// Rejections are written with Connection: close so that clients re-dial and
// land on a proxy instance with free capacity instead of hammering this one
// over a kept-alive connection.
package httpapi

import (
	"net/http"
	"strconv"

	"github.com/acronis/go-appkit/log"
)

// Headers understood by gRPC-web and tonic clients of the proving workers.
// The proxy speaks plain HTTP but mirrors the transcoded form so that
// existing clients keep working unchanged.
const (
	headerGRPCStatus  = "grpc-status"
	headerGRPCMessage = "grpc-message"

	headerRateLimitLimit     = "X-Rate-Limit-Limit"
	headerRateLimitRemaining = "X-Rate-Limit-Remaining"
	headerRateLimitReset     = "X-Rate-Limit-Reset"

	headerWorkerCount  = "X-Worker-Count"
	headerErrorMessage = "X-Error-Message"
)

// grpcCodeResourceExhausted is the gRPC status carried alongside a 503 when
// the wait queue is full.
const grpcCodeResourceExhausted = "8"

const queueFullMessage = "Too many requests in the queue"

func respondQueueFull(rw http.ResponseWriter) {
	rw.Header().Set("Connection", "close")
	rw.Header().Set(headerGRPCStatus, grpcCodeResourceExhausted)
	rw.Header().Set(headerGRPCMessage, queueFullMessage)
	rw.WriteHeader(http.StatusServiceUnavailable)
	_, _ = rw.Write([]byte(queueFullMessage))
}

func respondRateLimited(rw http.ResponseWriter, limitPerSecond int) {
	rw.Header().Set("Connection", "close")
	rw.Header().Set(headerRateLimitLimit, strconv.Itoa(limitPerSecond))
	rw.Header().Set(headerRateLimitRemaining, "0")
	rw.Header().Set(headerRateLimitReset, "1")
	rw.WriteHeader(http.StatusTooManyRequests)
}

func respondWorkersUpdated(rw http.ResponseWriter, workerCount int) {
	rw.Header().Set("Connection", "close")
	rw.Header().Set(headerWorkerCount, strconv.Itoa(workerCount))
	rw.WriteHeader(http.StatusOK)
}

func respondBadRequest(rw http.ResponseWriter, message string) {
	rw.Header().Set("Connection", "close")
	rw.Header().Set(headerErrorMessage, message)
	rw.WriteHeader(http.StatusBadRequest)
	_, _ = rw.Write([]byte(message))
}

// relayResult copies a worker response back to the client, minus the
// hop-by-hop headers that belong to the proxy-worker connection.
func relayResult(rw http.ResponseWriter, statusCode int, header http.Header, body []byte, logger log.FieldLogger) {
	for name, values := range endToEndHeader(header) {
		rw.Header()[name] = values
	}
	rw.WriteHeader(statusCode)
	if _, err := rw.Write(body); err != nil {
		logger.Error("error while writing relayed response body", log.Error(err))
	}
}
