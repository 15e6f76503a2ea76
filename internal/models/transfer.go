package models

import (
	"time"
)

// TransferStatus is the settlement status reported by the processor,
// distinct from the outbox status. A transfer starts pending and only
// becomes paid when the processor confirms via webhook.
type TransferStatus string

const (
	TransferPending TransferStatus = "pending"
	TransferPaid    TransferStatus = "paid"
	TransferFailed  TransferStatus = "failed"
)

type TransferType string

const (
	TransferStandard TransferType = "standard"
	TransferInstant  TransferType = "instant"
)

// InstructorTransfer records one external payout. The row is immutable
// except for settlement status; disputes during the clawback window are
// reflected as new offsetting journals, never by editing this record.
type InstructorTransfer struct {
	ID                   string         `json:"id" db:"id"`
	OutboxID             string         `json:"outbox_id" db:"outbox_id"`
	InstructorID         string         `json:"instructor_id" db:"instructor_id"`
	StripeTransferID     string         `json:"stripe_transfer_id" db:"stripe_transfer_id"`
	StripeAccountID      string         `json:"stripe_account_id" db:"stripe_account_id"`
	AmountCents          int64          `json:"amount_cents" db:"amount_cents"`
	Currency             string         `json:"currency" db:"currency"`
	TransferType         TransferType   `json:"transfer_type" db:"transfer_type"`
	Status               TransferStatus `json:"status" db:"status"`
	FlightSessionID      string         `json:"flight_session_id" db:"flight_session_id"`
	JournalID            string         `json:"journal_id" db:"journal_id"`
	IsClawbackEligible   bool           `json:"is_clawback_eligible" db:"is_clawback_eligible"`
	ClawbackWindowEndsAt time.Time      `json:"clawback_window_ends_at" db:"clawback_window_ends_at"`
	FailureMessage       *string        `json:"failure_message,omitempty" db:"failure_message"`
	SettledAt            *time.Time     `json:"settled_at,omitempty" db:"settled_at"`
	CreatedAt            time.Time      `json:"created_at" db:"created_at"`
}
