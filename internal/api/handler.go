package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"raffle-service/internal/events"
	"raffle-service/internal/ledger"
	"raffle-service/internal/logger"
)

// Handler serves the raffle state endpoints.
type Handler struct {
	Ledger   *ledger.Ledger
	Producer *events.Producer
	RaffleID string
	Logger   *logger.Logger
}

type stateResponse struct {
	Remaining     int    `json:"remaining"`
	TotalSold     int    `json:"total_sold"`
	LastDecayDate string `json:"last_decay_date"`
	Cache         string `json:"cache"`
}

type saleRequest struct {
	Quantity int `json:"quantity"`
}

type resyncRequest struct {
	Remaining int `json:"remaining"`
}

// GetState reports the current availability snapshot. The cache field
// tells callers whether they hit the short-lived read cache.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Ledger.GetState(r.Context())
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetState: %v", err))
		h.writeError(w, err)
		return
	}

	cache := "MISS"
	if snap.CacheHit {
		cache = "HIT"
	}

	writeJSON(w, http.StatusOK, stateResponse{
		Remaining:     snap.Remaining,
		TotalSold:     snap.TotalSold,
		LastDecayDate: snap.LastDecayDate,
		Cache:         cache,
	})
}

// RecordSale applies a sale to the ledger.
func (h *Handler) RecordSale(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.Ledger.RecordSale(r.Context(), req.Quantity)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("RecordSale: %v", err))
		h.writeError(w, err)
		return
	}

	h.PublishSale(r, req.Quantity, result, nil)
	writeJSON(w, http.StatusOK, result)
}

// Resync is the administrative override; the ledger clamps the value to
// the sold-adjusted ceiling.
func (h *Handler) Resync(w http.ResponseWriter, r *http.Request) {
	var req resyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	stored, err := h.Ledger.Resync(r.Context(), req.Remaining)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Resync: %v", err))
		h.writeError(w, err)
		return
	}

	if h.Producer != nil {
		event := events.StateResynced{
			RaffleID:   h.RaffleID,
			Remaining:  stored,
			ResyncedAt: time.Now().UTC(),
		}
		if err := h.Producer.PublishStateResynced(r.Context(), event); err != nil {
			h.Logger.Error("KAFKA", fmt.Sprintf("Resync: publish failed: %v", err))
		}
	}

	writeJSON(w, http.StatusOK, map[string]int{"remaining": stored})
}

// GetSales reports the monotonic sold counter.
func (h *Handler) GetSales(w http.ResponseWriter, r *http.Request) {
	total, err := h.Ledger.TotalSold(r.Context())
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetSales: %v", err))
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"total_sold": total})
}

// Healthz answers liveness probes.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) PublishSale(r *http.Request, quantity int, result ledger.SaleResult, ticketNos []string) {
	if h.Producer == nil {
		return
	}
	event := events.SaleRecorded{
		RaffleID:   h.RaffleID,
		Quantity:   quantity,
		Remaining:  result.Remaining,
		TotalSold:  result.TotalSold,
		TicketNos:  ticketNos,
		RecordedAt: time.Now().UTC(),
	}
	if err := h.Producer.PublishSaleRecorded(r.Context(), event); err != nil {
		h.Logger.Error("KAFKA", fmt.Sprintf("sale event publish failed: %v", err))
	}
}

// writeError maps the ledger taxonomy onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrInsufficientInventory):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ledger.ErrStoreUnavailable):
		http.Error(w, "temporarily unavailable, retry shortly", http.StatusServiceUnavailable)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Status already sent; nothing left to do but note it.
		fmt.Printf("Error writing response: %v\n", err)
	}
}
