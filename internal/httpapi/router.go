/*
Copyright © 2025 ProofGate Authors.

Released under MIT license.
*/

package httpapi

import (
	"github.com/go-chi/chi/v5"
)

// Routes mounts the proxy API onto a versioned router
// (e.g. /api/proofgate/v1/*).
func (h *Handler) Routes(router chi.Router) {
	router.Post("/prove", h.HandleProve)
	router.Post("/workers", h.HandleAddWorker)
	router.Delete("/workers", h.HandleRemoveWorker)
}
