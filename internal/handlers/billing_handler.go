package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flightdeck/backend/internal/services"
)

type BillingHandler struct {
	billing     *services.BillingService
	adjustments *services.AdjustmentService
	outbox      *services.OutboxService
	credit      *services.CreditLimitService
	validator   *services.ValidationHelper
}

func NewBillingHandler(billing *services.BillingService, adjustments *services.AdjustmentService, outbox *services.OutboxService, credit *services.CreditLimitService) *BillingHandler {
	return &BillingHandler{
		billing:     billing,
		adjustments: adjustments,
		outbox:      outbox,
		credit:      credit,
		validator:   services.NewValidationHelper(),
	}
}

// BillFlightCompletion bills a completed flight session
// @Summary Bill a completed flight session
// @Description Post the three-way billing split and enqueue the instructor payout
// @Tags Billing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Flight session ID"
// @Param request body services.FlightBillingRequest true "Billing details"
// @Success 200 {object} services.FlightBillingResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /flights/{id}/billing [post]
func (h *BillingHandler) BillFlightCompletion(w http.ResponseWriter, r *http.Request) {
	var req services.FlightBillingRequest

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
	req.FlightSessionID = chi.URLParam(r, "id")
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := h.billing.ProcessFlightCompletionBilling(r.Context(), req)
	if err != nil {
		if errors.Is(err, services.ErrNoActiveRate) {
			services.SendErrorResponse(w, err.Error(), http.StatusUnprocessableEntity, nil)
			return
		}
		log.Printf("[BILLING] BillFlightCompletion - Service error: %v", err)
		services.SendErrorResponse(w, "Failed to bill flight session", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// AdjustFlightSession posts a billing correction
// @Summary Adjust a billed flight session
// @Description Post an offsetting journal reversing part of a prior billing
// @Tags Billing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Flight session ID"
// @Param request body services.AdjustmentRequest true "Adjustment details"
// @Success 200 {object} models.Journal
// @Failure 400 {object} services.ErrorResponse
// @Router /flights/{id}/adjust [post]
func (h *BillingHandler) AdjustFlightSession(w http.ResponseWriter, r *http.Request) {
	var req services.AdjustmentRequest

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	req.FlightSessionID = chi.URLParam(r, "id")
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	journal, err := h.adjustments.AdjustFlightSession(r.Context(), req)
	if err != nil {
		log.Printf("[BILLING] AdjustFlightSession - Service error: %v", err)
		services.SendErrorResponse(w, "Failed to post adjustment", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(journal)
}

// EnqueueTransfer records a payout intent directly
// @Summary Enqueue an instructor transfer
// @Description Record a payout intent in the outbox for the worker to process
// @Tags Payouts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{journal_id=string,instructor_id=string,flight_session_id=string,amount_cents=int64,is_instant=bool} true "Transfer details"
// @Success 202 {object} object{outbox_id=string}
// @Failure 400 {object} services.ErrorResponse
// @Router /transfers/enqueue [post]
func (h *BillingHandler) EnqueueTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JournalID       string `json:"journal_id" validate:"required"`
		InstructorID    string `json:"instructor_id" validate:"required"`
		FlightSessionID string `json:"flight_session_id"`
		AmountCents     int64  `json:"amount_cents" validate:"required,gt=0"`
		IsInstant       bool   `json:"is_instant"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	outboxID, err := h.outbox.EnqueueInstructorTransfer(r.Context(), req.JournalID, req.InstructorID, req.FlightSessionID, req.AmountCents, req.IsInstant)
	if err != nil {
		log.Printf("[BILLING] EnqueueTransfer - Service error: %v", err)
		services.SendErrorResponse(w, "Failed to enqueue transfer", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"outbox_id": outboxID})
}

// CheckCreditLimit evaluates a proposed charge
// @Summary Check a student's credit limit
// @Tags Credit
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{student_id=string,proposed_charge_cents=int64} true "Proposed charge"
// @Success 200 {object} services.CreditDecision
// @Router /credit-limits/check [post]
func (h *BillingHandler) CheckCreditLimit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StudentID           string `json:"student_id" validate:"required"`
		ProposedChargeCents int64  `json:"proposed_charge_cents" validate:"gte=0"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	decision, err := h.credit.CheckCreditLimit(r.Context(), req.StudentID, req.ProposedChargeCents)
	if err != nil {
		log.Printf("[BILLING] CheckCreditLimit - Service error: %v", err)
		services.SendErrorResponse(w, "Failed to evaluate credit limit", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(decision)
}

// GetEscalationEligibility reports whether a student qualifies for a
// higher credit limit
// @Summary Credit limit escalation eligibility
// @Tags Credit
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Success 200 {object} object{eligible=bool,suggested_limit_cents=int64,reasons=[]string}
// @Router /credit-limits/{id}/escalation [get]
func (h *BillingHandler) GetEscalationEligibility(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "id")

	eligible, suggested, reasons, err := h.credit.EscalationEligibility(r.Context(), studentID)
	if err != nil {
		log.Printf("[BILLING] GetEscalationEligibility - Service error: %v", err)
		services.SendErrorResponse(w, "Failed to evaluate escalation eligibility", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"eligible":              eligible,
		"suggested_limit_cents": suggested,
		"reasons":               reasons,
	})
}

// GetStudentsNearCreditLimit lists students in non-ok credit bands
// @Summary Students near their credit limit
// @Tags Credit
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.StudentCreditStanding
// @Router /credit-limits/near [get]
func (h *BillingHandler) GetStudentsNearCreditLimit(w http.ResponseWriter, r *http.Request) {
	standings, err := h.credit.GetStudentsNearCreditLimit(r.Context())
	if err != nil {
		log.Printf("[BILLING] GetStudentsNearCreditLimit - Service error: %v", err)
		services.SendErrorResponse(w, "Failed to fetch credit standings", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(standings)
}
