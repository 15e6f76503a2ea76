package events

import (
	"context"
	"time"
)

// Topics for downstream consumers (notification collaborator, analytics).
const (
	TopicJournalPosted   = "ledger.journal_posted"
	TopicTransferSettled = "payouts.transfer_settled"
)

// Publisher emits domain events as a best-effort side effect. A publish
// failure is logged and never fails the ledger write that triggered it.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
}

type JournalPosted struct {
	JournalID  string    `json:"journal_id"`
	EventType  string    `json:"event_type"`
	EventID    string    `json:"event_id"`
	EntryCount int       `json:"entry_count"`
	OccurredAt time.Time `json:"occurred_at"`
}

type TransferSettled struct {
	TransferID   string    `json:"transfer_id"`
	InstructorID string    `json:"instructor_id"`
	AmountCents  int64     `json:"amount_cents"`
	Status       string    `json:"status"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// NopPublisher discards events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, topic string, event any) error { return nil }
