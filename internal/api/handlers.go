/**
 * @description
 * This file contains the HTTP handlers for the disbursement-service's API
 * endpoints. Handlers are responsible for parsing incoming requests, calling
 * the appropriate methods on the application service, and writing the HTTP
 * response.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/store: For service logic and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/giveflow/disbursement-service/internal/app"
	"github.com/giveflow/disbursement-service/internal/domain"
	"github.com/giveflow/disbursement-service/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// DisbursementHandlers holds the application service that handlers will use.
type DisbursementHandlers struct {
	service *app.Service
}

// NewDisbursementHandlers creates the handler set for the disbursement routes.
func NewDisbursementHandlers(service *app.Service) *DisbursementHandlers {
	return &DisbursementHandlers{service: service}
}

// executeDisbursementRequest is the payload the payment webhook handler (or an
// operator re-drive) posts to trigger disbursement for one donation.
type executeDisbursementRequest struct {
	DonationID uuid.UUID `json:"donation_id"`
}

type executeDisbursementResponse struct {
	DonationID   string                 `json:"donation_id"`
	SplitApplied bool                   `json:"split_applied"`
	Message      string                 `json:"message"`
	Transfers    []domain.SplitTransfer `json:"transfers"`
}

// ExecuteDisbursementHandler triggers split disbursement for a donation. The
// operation is idempotent: pairs already recorded in the transfer ledger are
// skipped, so re-driving a donation is safe.
func (h *DisbursementHandlers) ExecuteDisbursementHandler(w http.ResponseWriter, r *http.Request) {
	if !h.service.Enabled() {
		h.writeError(w, http.StatusServiceUnavailable, "Split disbursements are disabled")
		return
	}

	var req executeDisbursementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.DonationID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "donation_id is required")
		return
	}

	applied, err := h.service.ExecuteForDonation(r.Context(), req.DonationID)
	if err != nil {
		if errors.Is(err, store.ErrDonationNotFound) {
			h.writeError(w, http.StatusNotFound, "Donation not found")
			return
		}
		log.Printf("level=error component=api msg=\"disbursement execution failed\" donation_id=%s err=%v", req.DonationID, err)
		h.writeError(w, http.StatusBadGateway, "Disbursement could not be started; safe to retry")
		return
	}

	transfers, err := h.service.ListTransfersForDonation(r.Context(), req.DonationID)
	if err != nil {
		log.Printf("level=warn component=api msg=\"transfer listing after execution failed\" donation_id=%s err=%v", req.DonationID, err)
		transfers = nil
	}

	message := "No bank-account split applies to this donation"
	if applied {
		message = "Split disbursement executed"
	}
	h.writeJSON(w, http.StatusOK, executeDisbursementResponse{
		DonationID:   req.DonationID.String(),
		SplitApplied: applied,
		Message:      message,
		Transfers:    transfers,
	})
}

type transferListResponse struct {
	Transfers []domain.SplitTransfer `json:"transfers"`
	Count     int                    `json:"count"`
}

// ListDonationTransfersHandler returns every split transfer recorded for a
// donation, for staff inspecting disbursement outcomes.
func (h *DisbursementHandlers) ListDonationTransfersHandler(w http.ResponseWriter, r *http.Request) {
	donationID, err := uuid.Parse(chi.URLParam(r, "donationID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid donation id")
		return
	}

	transfers, err := h.service.ListTransfersForDonation(r.Context(), donationID)
	if err != nil {
		log.Printf("level=error component=api msg=\"transfer listing failed\" donation_id=%s err=%v", donationID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not list transfers")
		return
	}

	h.writeJSON(w, http.StatusOK, transferListResponse{Transfers: transfers, Count: len(transfers)})
}

// ListFailedTransfersHandler returns recently failed split transfers so staff
// can follow up manually. Failed transfers are never retried automatically.
func (h *DisbursementHandlers) ListFailedTransfersHandler(w http.ResponseWriter, r *http.Request) {
	hours := 168 // trailing week by default
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = parsed
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	transfers, err := h.service.ListFailedTransfers(r.Context(), time.Duration(hours)*time.Hour, limit)
	if err != nil {
		log.Printf("level=error component=api msg=\"failed transfer listing failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Could not list failed transfers")
		return
	}

	h.writeJSON(w, http.StatusOK, transferListResponse{Transfers: transfers, Count: len(transfers)})
}

func (h *DisbursementHandlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("level=error component=api msg=\"response encoding failed\" err=%v", err)
	}
}

func (h *DisbursementHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
