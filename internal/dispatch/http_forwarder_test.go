/*
Copyright © 2025 ProofGate Authors.

Released under MIT license.
*/

package dispatch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/acronis/go-appkit/testutil"
	"github.com/stretchr/testify/require"

	"github.com/proofgate/proofgate/internal/queue"
)

func TestHTTPForwarderRelaysRequestAndResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/prove", r.URL.Path)
		require.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Equal(t, "proof-request", string(body))

		rw.Header().Set("X-Proof-Size", "42")
		rw.WriteHeader(http.StatusCreated)
		_, _ = rw.Write([]byte("proof-bytes"))
	}))
	defer srv.Close()

	fwd := NewHTTPForwarder(time.Second, 5*time.Second)
	job := &queue.Job{
		Method: http.MethodPost,
		Path:   "/v1/prove",
		Header: http.Header{"Content-Type": {"application/octet-stream"}},
		Body:   []byte("proof-request"),
	}
	res, err := fwd.Forward(context.Background(), strings.TrimPrefix(srv.URL, "http://"), job)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	require.Equal(t, "42", res.Header.Get("X-Proof-Size"))
	require.Equal(t, "proof-bytes", string(res.Body))
}

func TestHTTPForwarderWorkerErrorStatusIsNotATransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	fwd := NewHTTPForwarder(time.Second, 5*time.Second)
	res, err := fwd.Forward(context.Background(), strings.TrimPrefix(srv.URL, "http://"), &queue.Job{
		Method: http.MethodPost, Path: "/v1/prove",
	})
	require.NoError(t, err, "a worker-reported status must be relayed, not retried")
	require.Equal(t, http.StatusInternalServerError, res.StatusCode)
}

func TestHTTPForwarderUnreachableWorker(t *testing.T) {
	fwd := NewHTTPForwarder(200*time.Millisecond, time.Second)
	_, err := fwd.Forward(context.Background(), testutil.GetLocalAddrWithFreeTCPPort(), &queue.Job{
		Method: http.MethodPost, Path: "/v1/prove",
	})
	require.Error(t, err)
}

func TestHTTPForwarderTotalTimeout(t *testing.T) {
	slow := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		select {
		case <-slow:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(slow)

	fwd := NewHTTPForwarder(time.Second, 100*time.Millisecond)
	start := time.Now()
	_, err := fwd.Forward(context.Background(), strings.TrimPrefix(srv.URL, "http://"), &queue.Job{
		Method: http.MethodPost, Path: "/v1/prove",
	})
	require.Error(t, err)
	require.Less(t, time.Since(start), 5*time.Second, "forward must be bounded by the total timeout")
}
