package payments

import (
	"context"
)

// TransferRequest asks the processor to move money to a connected account.
// IdempotencyKey is the same key stored on the local outbox row, so a retry
// after a crash cannot create a second payout.
type TransferRequest struct {
	AmountCents    int64
	Currency       string
	Destination    string
	IdempotencyKey string
	Metadata       map[string]string
}

// Transfer is the processor's view of a payout. Metadata carries back the
// outbox id stamped on creation, which is how a settlement event is tied to
// a local entry when the transfer row is missing.
type Transfer struct {
	ID          string            `json:"id"`
	AmountCents int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Destination string            `json:"destination"`
	Reversed    bool              `json:"reversed"`
	Created     int64             `json:"created"`
	Metadata    map[string]string `json:"metadata"`
}

// Balance is the processor-reported cash position.
type Balance struct {
	AvailableCents int64
	PendingCents   int64
}

// Client is the contract the ledger subsystem expects from the external
// payment processor: idempotent transfer creation, balance queries, and
// transfer lookup for crash recovery. Settlement confirmation arrives
// asynchronously via webhooks, not through this interface.
type Client interface {
	CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error)
	RetrieveTransfer(ctx context.Context, transferID string) (*Transfer, error)
	Balance(ctx context.Context) (*Balance, error)
}
