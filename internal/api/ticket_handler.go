package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"raffle-service/internal/downloads"
	"raffle-service/internal/ledger"
	"raffle-service/internal/logger"
	"raffle-service/internal/payment"
	"raffle-service/internal/storage"
	"raffle-service/internal/tickets"
)

// PaymentVerifier is what the ticket handler needs from the payment
// layer.
type PaymentVerifier interface {
	VerifyOrder(ctx context.Context, orderID string, quantity int) error
	ReleaseOrder(ctx context.Context, orderID string) error
}

// TicketHandler issues and serves generated ticket bundles.
type TicketHandler struct {
	Ledger    *ledger.Ledger
	Renderer  *tickets.Renderer
	Verifier  PaymentVerifier
	Files     storage.FileStore
	Downloads *downloads.Limiter
	Logger    *logger.Logger

	// Publish is called after a successful sale; the state handler
	// supplies the kafka hookup.
	Publish func(r *http.Request, quantity int, result ledger.SaleResult, ticketNos []string)
}

type generateRequest struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	OrderID  string `json:"order_id"`
}

type generateResponse struct {
	DownloadToken string   `json:"download_token"`
	TicketNumbers []string `json:"ticket_numbers"`
	Remaining     int      `json:"remaining"`
}

// Generate verifies the PayPal order, records the sale, renders the
// ticket bundle, stores it and hands back a limited download token.
func (h *TicketHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "Missing required field: name", http.StatusBadRequest)
		return
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}

	// Verification consumes the order id so a concurrent request with
	// the same order loses the CAS. Every failure between here and the
	// recorded sale must hand the order back, otherwise the buyer's
	// completed payment is burned with nothing issued.
	if err := h.Verifier.VerifyOrder(r.Context(), req.OrderID, req.Quantity); err != nil {
		h.Logger.Error("API", fmt.Sprintf("Generate: payment verification failed: %v", err))
		h.writePaymentError(w, err)
		return
	}

	bundle, err := h.Renderer.Render(req.Name, req.Quantity)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Generate: ticket rendering failed: %v", err))
		h.releaseOrder(r.Context(), req.OrderID)
		http.Error(w, "Ticket generation failed", http.StatusInternalServerError)
		return
	}

	if err := h.Files.Save(r.Context(), bundle.FileName, bundle.Data, bundle.ContentType); err != nil {
		h.Logger.Error("API", fmt.Sprintf("Generate: file save failed: %v", err))
		h.releaseOrder(r.Context(), req.OrderID)
		http.Error(w, "Ticket generation failed", http.StatusInternalServerError)
		return
	}

	result, err := h.Ledger.RecordSale(r.Context(), req.Quantity)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Generate: sale rejected: %v", err))
		h.releaseOrder(r.Context(), req.OrderID)
		h.writeLedgerError(w, err)
		return
	}

	// From here the sale is recorded; the order stays consumed even if
	// the token issue fails, since a retry would sell the tickets twice.
	token, err := h.Downloads.Issue(r.Context(), bundle.FileName, bundle.ContentType)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Generate: token issue failed: %v", err))
		http.Error(w, "Ticket generation failed", http.StatusInternalServerError)
		return
	}

	if h.Publish != nil {
		h.Publish(r, req.Quantity, result, bundle.TicketNos)
	}

	h.Logger.Info("API", fmt.Sprintf("Generate: issued %d ticket(s) for %s", req.Quantity, req.Name))
	writeJSON(w, http.StatusCreated, generateResponse{
		DownloadToken: token,
		TicketNumbers: bundle.TicketNos,
		Remaining:     result.Remaining,
	})
}

// Download streams a previously generated bundle, consuming one redeem
// from the token.
func (h *TicketHandler) Download(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	grant, err := h.Downloads.Redeem(r.Context(), token)
	if err != nil {
		h.Logger.Warn("API", fmt.Sprintf("Download: redeem failed: %v", err))
		h.writeDownloadError(w, err)
		return
	}

	reader, err := h.Files.Open(r.Context(), grant.FileName)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Download: open failed for %s: %v", grant.FileName, err))
		if errors.Is(err, storage.ErrFileNotFound) {
			http.Error(w, "File no longer available", http.StatusGone)
			return
		}
		http.Error(w, "Download failed", http.StatusInternalServerError)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", grant.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", grant.FileName))
	if _, err := io.Copy(w, reader); err != nil {
		h.Logger.Error("API", fmt.Sprintf("Download: stream failed: %v", err))
	}
}

func (h *TicketHandler) releaseOrder(ctx context.Context, orderID string) {
	if err := h.Verifier.ReleaseOrder(ctx, orderID); err != nil {
		h.Logger.Error("PAYMENT", fmt.Sprintf("order release failed for %s: %v", orderID, err))
	}
}

func (h *TicketHandler) writePaymentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, payment.ErrOrderAlreadyUsed):
		http.Error(w, "Payment order already used", http.StatusConflict)
	case errors.Is(err, payment.ErrOrderNotCompleted), errors.Is(err, payment.ErrAmountMismatch):
		http.Error(w, "Payment verification failed: "+err.Error(), http.StatusPaymentRequired)
	default:
		http.Error(w, "Payment verification failed", http.StatusBadGateway)
	}
}

func (h *TicketHandler) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrInsufficientInventory):
		http.Error(w, "Not enough tickets remaining", http.StatusConflict)
	default:
		http.Error(w, "temporarily unavailable, retry shortly", http.StatusServiceUnavailable)
	}
}

func (h *TicketHandler) writeDownloadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, downloads.ErrTokenNotFound):
		http.Error(w, "Unknown download token", http.StatusNotFound)
	case errors.Is(err, downloads.ErrTokenExpired):
		http.Error(w, "Download token expired", http.StatusGone)
	case errors.Is(err, downloads.ErrLimitReached):
		http.Error(w, "Download limit reached", http.StatusTooManyRequests)
	default:
		http.Error(w, "Download failed", http.StatusInternalServerError)
	}
}
