package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/flightdeck/backend/internal/services"
)

const webhookTolerance = 5 * time.Minute

// WebhookHandler receives processor callbacks. Every event is verified
// against the signing secret before any state changes; handlers are
// idempotent because Stripe redelivers events.
type WebhookHandler struct {
	outbox      *services.OutboxService
	adjustments *services.AdjustmentService
	now         func() time.Time
}

func NewWebhookHandler(outbox *services.OutboxService, adjustments *services.AdjustmentService) *WebhookHandler {
	return &WebhookHandler{
		outbox:      outbox,
		adjustments: adjustments,
		now:         time.Now,
	}
}

type webhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// HandleStripeWebhook processes a signed processor event
// @Summary Stripe webhook receiver
// @Description Verify and process transfer settlement, dispute, and account events
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param Stripe-Signature header string true "Webhook signature"
// @Success 200 {object} object{received=bool}
// @Failure 400 {object} services.ErrorResponse
// @Router /webhooks/stripe [post]
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1_048_576))
	if err != nil {
		services.SendErrorResponse(w, "Failed to read payload", http.StatusBadRequest, nil)
		return
	}

	secret := viper.GetString("stripe.webhook_secret")
	if err := verifySignature(payload, r.Header.Get("Stripe-Signature"), secret, h.now()); err != nil {
		log.Printf("[WEBHOOK] Signature verification failed: %v", err)
		services.SendErrorResponse(w, "Invalid signature", http.StatusBadRequest, nil)
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		services.SendErrorResponse(w, "Invalid event payload", http.StatusBadRequest, nil)
		return
	}
	log.Printf("[WEBHOOK] Received %s (%s)", event.Type, event.ID)

	switch event.Type {
	case "transfer.paid":
		err = h.handleTransferPaid(r, event)
	case "transfer.failed", "transfer.reversed":
		err = h.handleTransferFailed(r, event)
	case "charge.dispute.created":
		err = h.handleDisputeCreated(r, event)
	case "account.updated":
		err = h.handleAccountUpdated(r, event)
	default:
		log.Printf("[WEBHOOK] Ignoring unhandled event type %s", event.Type)
	}

	if err != nil {
		// A non-2xx makes Stripe redeliver, which is what we want for
		// transient failures.
		log.Printf("[WEBHOOK] Failed to process %s (%s): %v", event.Type, event.ID, err)
		services.SendErrorResponse(w, "Failed to process event", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"received": true})
}

func (h *WebhookHandler) handleTransferPaid(r *http.Request, event webhookEvent) error {
	var transfer struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(event.Data.Object, &transfer); err != nil {
		return err
	}
	return h.outbox.MarkTransferPaid(r.Context(), transfer.ID)
}

func (h *WebhookHandler) handleTransferFailed(r *http.Request, event webhookEvent) error {
	var transfer struct {
		ID             string `json:"id"`
		FailureMessage string `json:"failure_message"`
	}
	if err := json.Unmarshal(event.Data.Object, &transfer); err != nil {
		return err
	}
	reason := transfer.FailureMessage
	if reason == "" {
		reason = event.Type
	}
	return h.outbox.MarkTransferFailed(r.Context(), transfer.ID, reason)
}

func (h *WebhookHandler) handleDisputeCreated(r *http.Request, event webhookEvent) error {
	var dispute struct {
		ID       string `json:"id"`
		Amount   int64  `json:"amount"`
		Reason   string `json:"reason"`
		Metadata struct {
			StripeTransferID string `json:"stripe_transfer_id"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(event.Data.Object, &dispute); err != nil {
		return err
	}
	if dispute.Metadata.StripeTransferID == "" {
		log.Printf("[WEBHOOK] Dispute %s has no linked transfer, leaving for manual review", dispute.ID)
		return nil
	}

	_, err := h.adjustments.RecordTransferClawback(r.Context(), dispute.Metadata.StripeTransferID, dispute.ID, dispute.Reason, dispute.Amount)
	if errors.Is(err, services.ErrClawbackWindowClosed) {
		// Acknowledge the event; the dispute needs an operator, not a retry.
		log.Printf("[WEBHOOK] Dispute %s arrived after clawback window, needs manual review", dispute.ID)
		return nil
	}
	return err
}

func (h *WebhookHandler) handleAccountUpdated(r *http.Request, event webhookEvent) error {
	var account struct {
		ID               string `json:"id"`
		PayoutsEnabled   bool   `json:"payouts_enabled"`
		DetailsSubmitted bool   `json:"details_submitted"`
	}
	if err := json.Unmarshal(event.Data.Object, &account); err != nil {
		return err
	}
	return h.outbox.UpdateInstructorAccountStatus(r.Context(), account.ID, account.DetailsSubmitted, account.PayoutsEnabled)
}

// verifySignature checks the Stripe-Signature header: HMAC-SHA256 of
// "<timestamp>.<payload>" with the signing secret, within tolerance.
func verifySignature(payload []byte, header, secret string, now time.Time) error {
	if header == "" {
		return fmt.Errorf("missing signature header")
	}
	if secret == "" {
		return fmt.Errorf("webhook secret not configured")
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return fmt.Errorf("malformed signature header")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid signature timestamp")
	}
	age := now.Sub(time.Unix(ts, 0))
	if age > webhookTolerance || age < -webhookTolerance {
		return fmt.Errorf("signature timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return nil
		}
	}
	return fmt.Errorf("no matching signature")
}
