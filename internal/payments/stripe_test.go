package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestClient(server *httptest.Server) *StripeClient {
	return &StripeClient{
		apiKey:  "sk_test",
		baseURL: server.URL,
		client:  server.Client(),
	}
}

func TestStripeClient_CreateTransfer(t *testing.T) {
	t.Run("sends the idempotency key and form fields", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "POST", r.Method)
			assert.Equal(t, "/transfers", r.URL.Path)
			assert.Equal(t, "transfer_abc", r.Header.Get("Idempotency-Key"))

			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "9000", r.PostForm.Get("amount"))
			assert.Equal(t, "usd", r.PostForm.Get("currency"))
			assert.Equal(t, "acct_123", r.PostForm.Get("destination"))
			assert.Equal(t, "o-1", r.PostForm.Get("metadata[outbox_id]"))

			json.NewEncoder(w).Encode(map[string]any{
				"id": "tr_1", "amount": 9000, "currency": "usd", "destination": "acct_123",
			})
		}))
		defer server.Close()

		client := newTestClient(server)
		transfer, err := client.CreateTransfer(context.Background(), TransferRequest{
			AmountCents:    9000,
			Currency:       "usd",
			Destination:    "acct_123",
			IdempotencyKey: "transfer_abc",
			Metadata:       map[string]string{"outbox_id": "o-1"},
		})
		assert.NoError(t, err)
		assert.Equal(t, "tr_1", transfer.ID)
		assert.Equal(t, int64(9000), transfer.AmountCents)
	})

	t.Run("maps an API error to ProcessorError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"code": "balance_insufficient", "message": "Insufficient funds"},
			})
		}))
		defer server.Close()

		client := newTestClient(server)
		_, err := client.CreateTransfer(context.Background(), TransferRequest{AmountCents: 1, Currency: "usd", Destination: "acct_123"})

		var pe *ProcessorError
		assert.ErrorAs(t, err, &pe)
		assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
		assert.Equal(t, "balance_insufficient", pe.Code)
	})
}

func TestStripeClient_Balance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/balance", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"available": []map[string]any{{"amount": 250000, "currency": "usd"}},
			"pending":   []map[string]any{{"amount": 14000, "currency": "usd"}},
		})
	}))
	defer server.Close()

	client := newTestClient(server)
	balance, err := client.Balance(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int64(250000), balance.AvailableCents)
	assert.Equal(t, int64(14000), balance.PendingCents)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&ProcessorError{StatusCode: 429}))
	assert.True(t, IsRetryable(&ProcessorError{StatusCode: 500}))
	assert.True(t, IsRetryable(&ProcessorError{StatusCode: 503}))
	assert.False(t, IsRetryable(&ProcessorError{StatusCode: 400}))
	assert.False(t, IsRetryable(&ProcessorError{StatusCode: 402}))
	assert.False(t, IsRetryable(errors.New("bad input")))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
}

func TestStripeClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := newTestClient(server)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.Balance(ctx)
	assert.Error(t, err)
	assert.True(t, IsRetryable(err))
}
