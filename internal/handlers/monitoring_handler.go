package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flightdeck/backend/internal/models"
	"github.com/flightdeck/backend/internal/services"
)

type MonitoringHandler struct {
	reserve        *services.ReserveService
	alerts         *services.AlertService
	reconciliation *services.ReconciliationService
	validator      *services.ValidationHelper
}

func NewMonitoringHandler(reserve *services.ReserveService, alerts *services.AlertService, reconciliation *services.ReconciliationService) *MonitoringHandler {
	return &MonitoringHandler{
		reserve:        reserve,
		alerts:         alerts,
		reconciliation: reconciliation,
		validator:      services.NewValidationHelper(),
	}
}

// GetReserveStatus runs a reserve check and returns the result
// @Summary Platform reserve status
// @Tags Monitoring
// @Produce json
// @Security BearerAuth
// @Success 200 {object} services.ReserveStatus
// @Router /reserve [get]
func (h *MonitoringHandler) GetReserveStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.reserve.CheckPlatformReserve(r.Context())
	if err != nil {
		log.Printf("[MONITOR] GetReserveStatus - Service error: %v", err)
		services.SendErrorResponse(w, "Failed to check platform reserve", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// GetAlerts lists unacknowledged alerts
// @Summary Open alerts
// @Tags Monitoring
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.ReserveAlert
// @Router /alerts [get]
func (h *MonitoringHandler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.alerts.GetUnacknowledgedAlerts(r.Context())
	if err != nil {
		log.Printf("[MONITOR] GetAlerts - Service error: %v", err)
		services.SendErrorResponse(w, "Failed to fetch alerts", http.StatusInternalServerError, nil)
		return
	}
	if alerts == nil {
		alerts = []models.ReserveAlert{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(alerts)
}

// AcknowledgeAlert marks an alert handled
// @Summary Acknowledge an alert
// @Tags Monitoring
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Alert ID"
// @Param request body object{notes=string} false "Resolution notes"
// @Success 200 {object} object{acknowledged=bool}
// @Failure 404 {object} services.ErrorResponse
// @Router /alerts/{id}/acknowledge [post]
func (h *MonitoringHandler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Notes string `json:"notes"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, 65536)).Decode(&req)
	}

	alertID := chi.URLParam(r, "id")
	if err := h.alerts.AcknowledgeAlert(r.Context(), alertID, userID, req.Notes); err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"acknowledged": true})
}

// RunReconciliation performs the daily ledger-vs-cash check on demand
// @Summary Run reserve reconciliation
// @Tags Monitoring
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.ReserveReconciliation
// @Router /reconciliations/run [post]
func (h *MonitoringHandler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.reconciliation.PerformDailyReconciliation(r.Context())
	if err != nil {
		log.Printf("[MONITOR] RunReconciliation - Service error: %v", err)
		services.SendErrorResponse(w, "Failed to run reconciliation", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

// ReconcileWallets compares cached balances against the ledger
// @Summary Reconcile wallet balances
// @Tags Monitoring
// @Produce json
// @Security BearerAuth
// @Success 200 {object} services.WalletReconciliationReport
// @Router /reconciliations/wallets [post]
func (h *MonitoringHandler) ReconcileWallets(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciliation.ReconcileWalletBalances(r.Context())
	if err != nil {
		log.Printf("[MONITOR] ReconcileWallets - Service error: %v", err)
		services.SendErrorResponse(w, "Failed to reconcile wallets", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}
