package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/iho/shardbank/internal/adapter/http/dto"
	"github.com/iho/shardbank/internal/projection"
)

// RevenueReader serves revenue locally or names the node that can.
type RevenueReader interface {
	Revenue() (projection.Revenue, bool)
	HolderAddr(ctx context.Context) (string, error)
}

// RevenueHandler handles revenue queries. The projection is a cluster
// singleton, so a node that does not hold it proxies the query to the one
// that does.
type RevenueHandler struct {
	projector RevenueReader
	selfAddr  string
	client    *http.Client
}

// NewRevenueHandler creates a new RevenueHandler. selfAddr is this node's
// advertised address, the same value it writes into the singleton lease.
func NewRevenueHandler(projector RevenueReader, selfAddr string) *RevenueHandler {
	return &RevenueHandler{
		projector: projector,
		selfAddr:  selfAddr,
		client:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Get returns total fee revenue and the number of fee events behind it.
func (h *RevenueHandler) Get(w http.ResponseWriter, r *http.Request) {
	revenue, leading := h.projector.Revenue()
	if leading {
		writeJSON(w, http.StatusOK, dto.RevenueFromProjection(revenue))
		return
	}

	holder, err := h.projector.HolderAddr(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "revenue holder lookup failed", err.Error())
		return
	}

	if holder == "" {
		writeError(w, http.StatusServiceUnavailable, "revenue projection unavailable", "no singleton holder")
		return
	}

	// This node can hold the lease before its projector finishes
	// promoting; proxying to itself in that window would recurse.
	if holder == h.selfAddr {
		writeError(w, http.StatusServiceUnavailable, "revenue projection unavailable", "promotion in progress")
		return
	}

	h.proxy(w, r, holder)
}

// proxy forwards the query to the singleton holder and relays its answer.
func (h *RevenueHandler) proxy(w http.ResponseWriter, r *http.Request, holder string) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, holder+"/api/v1/revenue", nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build proxy request", err.Error())
		return
	}

	resp, err := h.client.Do(req)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "revenue holder unreachable", err.Error())
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}
