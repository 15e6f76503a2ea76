package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/flightdeck/backend/internal/models"
	"github.com/flightdeck/backend/internal/services"
)

type LedgerHandler struct {
	ledger    *services.LedgerService
	validator *services.ValidationHelper
}

func NewLedgerHandler(ledger *services.LedgerService) *LedgerHandler {
	return &LedgerHandler{
		ledger:    ledger,
		validator: services.NewValidationHelper(),
	}
}

// PostJournal posts a balanced journal
// @Summary Post a journal
// @Description Atomically post a balanced set of ledger entries for one financial event
// @Tags Ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{event_type=string,event_id=string,currency=string,entries=[]models.EntryInput} true "Journal to post"
// @Success 201 {object} models.Journal
// @Failure 400 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /journals [post]
func (h *LedgerHandler) PostJournal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventType string              `json:"event_type" validate:"required"`
		EventID   string              `json:"event_id" validate:"required"`
		Currency  string              `json:"currency" validate:"required,len=3"`
		Entries   []models.EntryInput `json:"entries" validate:"required,min=2,dive"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	journal, err := h.ledger.PostJournal(r.Context(), req.EventType, req.EventID, req.Currency, req.Entries)
	if err != nil {
		if errors.Is(err, services.ErrUnbalancedJournal) || errors.Is(err, services.ErrEmptyJournal) {
			services.SendErrorResponse(w, err.Error(), http.StatusUnprocessableEntity, nil)
			return
		}
		log.Printf("[LEDGER] PostJournal - Service error: %v", err)
		services.SendErrorResponse(w, "Failed to post journal", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(journal)
}

// GetPlatformBalance returns the platform wallet balance
// @Summary Platform balance
// @Tags Ledger
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{balance_cents=int64}
// @Router /balances/platform [get]
func (h *LedgerHandler) GetPlatformBalance(w http.ResponseWriter, r *http.Request) {
	cents, err := h.ledger.PlatformBalance(r.Context())
	if err != nil {
		log.Printf("[LEDGER] GetPlatformBalance - Service error: %v", err)
		services.SendErrorResponse(w, "Failed to read platform balance", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"balance_cents": cents})
}

// GetWalletBalance returns one wallet's cached balance
// @Summary Wallet balance
// @Tags Ledger
// @Produce json
// @Security BearerAuth
// @Param id path string true "Wallet ID"
// @Success 200 {object} object{wallet_id=string,balance_cents=int64}
// @Router /wallets/{id}/balance [get]
func (h *LedgerHandler) GetWalletBalance(w http.ResponseWriter, r *http.Request) {
	walletID := chi.URLParam(r, "id")
	cents, err := h.ledger.WalletBalance(r.Context(), walletID)
	if err != nil {
		log.Printf("[LEDGER] GetWalletBalance - Service error: %v", err)
		services.SendErrorResponse(w, "Failed to read wallet balance", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"wallet_id": walletID, "balance_cents": cents})
}

// GetWalletEntries returns a wallet's transaction history
// @Summary Wallet entries
// @Tags Ledger
// @Produce json
// @Security BearerAuth
// @Param id path string true "Wallet ID"
// @Param limit query int false "Page size (max 200)"
// @Param offset query int false "Page offset"
// @Success 200 {array} models.LedgerEntry
// @Router /wallets/{id}/entries [get]
func (h *LedgerHandler) GetWalletEntries(w http.ResponseWriter, r *http.Request) {
	walletID := chi.URLParam(r, "id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, err := h.ledger.WalletEntries(r.Context(), walletID, limit, offset)
	if err != nil {
		log.Printf("[LEDGER] GetWalletEntries - Service error: %v", err)
		services.SendErrorResponse(w, "Failed to fetch wallet entries", http.StatusInternalServerError, nil)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// GetJournal returns a journal's entries with a balance check
// @Summary Journal entries
// @Tags Ledger
// @Produce json
// @Security BearerAuth
// @Param id path string true "Journal ID"
// @Success 200 {object} object{entries=[]models.LedgerEntry,balanced=bool}
// @Router /journals/{id} [get]
func (h *LedgerHandler) GetJournal(w http.ResponseWriter, r *http.Request) {
	journalID := chi.URLParam(r, "id")

	entries, err := h.ledger.JournalEntries(r.Context(), journalID)
	if err != nil {
		log.Printf("[LEDGER] GetJournal - Service error: %v", err)
		services.SendErrorResponse(w, "Failed to fetch journal", http.StatusInternalServerError, nil)
		return
	}
	if len(entries) == 0 {
		services.SendErrorResponse(w, "Journal not found", http.StatusNotFound, nil)
		return
	}

	balanced, total, count, err := h.ledger.VerifyJournalBalance(r.Context(), journalID)
	if err != nil {
		services.SendErrorResponse(w, "Failed to verify journal", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"entries":     entries,
		"balanced":    balanced,
		"total_cents": total,
		"entry_count": count,
	})
}
