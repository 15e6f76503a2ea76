package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"

	"github.com/flightdeck/backend/internal/config"
	"github.com/flightdeck/backend/internal/services"
)

const testWebhookSecret = "whsec_test"

func signPayload(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts.Unix())
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func newWebhookFixture(t *testing.T) (*WebhookHandler, sqlmock.Sqlmock, func()) {
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)

	cfg := &config.OutboxConfig{
		MaxAttempts:    5,
		ProcessTimeout: 30 * time.Second,
		ClawbackWindow: 72 * time.Hour,
		Currency:       "usd",
	}
	ledger := services.NewLedgerService(db, nil, nil)
	outbox := services.NewOutboxService(db, nil, nil, cfg)
	adjustments := services.NewAdjustmentService(ledger, outbox, cfg)
	handler := NewWebhookHandler(outbox, adjustments)

	viper.Set("stripe.webhook_secret", testWebhookSecret)
	return handler, dbMock, func() { db.Close() }
}

func TestWebhookHandler_SignatureVerification(t *testing.T) {
	handler, _, teardown := newWebhookFixture(t)
	defer teardown()

	payload := []byte(`{"id":"evt_1","type":"transfer.paid","data":{"object":{"id":"tr_1"}}}`)

	t.Run("missing signature is rejected", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader(payload))
		w := httptest.NewRecorder()

		handler.HandleStripeWebhook(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("wrong secret is rejected", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", signPayload(payload, "whsec_wrong", time.Now()))
		w := httptest.NewRecorder()

		handler.HandleStripeWebhook(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("stale timestamp is rejected", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", signPayload(payload, testWebhookSecret, time.Now().Add(-time.Hour)))
		w := httptest.NewRecorder()

		handler.HandleStripeWebhook(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("tampered payload is rejected", func(t *testing.T) {
		tampered := []byte(`{"id":"evt_1","type":"transfer.paid","data":{"object":{"id":"tr_evil"}}}`)
		req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader(tampered))
		req.Header.Set("Stripe-Signature", signPayload(payload, testWebhookSecret, time.Now()))
		w := httptest.NewRecorder()

		handler.HandleStripeWebhook(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestWebhookHandler_TransferPaid(t *testing.T) {
	handler, dbMock, teardown := newWebhookFixture(t)
	defer teardown()

	payload := []byte(`{"id":"evt_1","type":"transfer.paid","data":{"object":{"id":"tr_1"}}}`)

	dbMock.ExpectQuery("UPDATE instructor_transfers").
		WithArgs("tr_1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "instructor_id", "amount_cents"}).
			AddRow("t-1", "inst-1", int64(9000)))

	req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signPayload(payload, testWebhookSecret, time.Now()))
	w := httptest.NewRecorder()

	handler.HandleStripeWebhook(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestWebhookHandler_TransferFailed(t *testing.T) {
	handler, dbMock, teardown := newWebhookFixture(t)
	defer teardown()

	payload := []byte(`{"id":"evt_2","type":"transfer.failed","data":{"object":{"id":"tr_2","failure_message":"account closed"}}}`)

	dbMock.ExpectQuery("UPDATE instructor_transfers").
		WithArgs("tr_2", "account closed", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "instructor_id", "amount_cents"}).
			AddRow("t-2", "inst-1", int64(4000)))

	req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signPayload(payload, testWebhookSecret, time.Now()))
	w := httptest.NewRecorder()

	handler.HandleStripeWebhook(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestWebhookHandler_UnhandledEventType(t *testing.T) {
	handler, dbMock, teardown := newWebhookFixture(t)
	defer teardown()

	payload := []byte(`{"id":"evt_3","type":"payout.created","data":{"object":{"id":"po_1"}}}`)

	req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signPayload(payload, testWebhookSecret, time.Now()))
	w := httptest.NewRecorder()

	handler.HandleStripeWebhook(w, req)

	// Acknowledged without touching any state.
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestWebhookHandler_DisputeWithoutLinkedTransfer(t *testing.T) {
	handler, dbMock, teardown := newWebhookFixture(t)
	defer teardown()

	payload := []byte(`{"id":"evt_4","type":"charge.dispute.created","data":{"object":{"id":"dp_1","amount":9000,"reason":"fraudulent","metadata":{}}}}`)

	req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signPayload(payload, testWebhookSecret, time.Now()))
	w := httptest.NewRecorder()

	handler.HandleStripeWebhook(w, req)

	// Left for manual review, still acknowledged.
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}
