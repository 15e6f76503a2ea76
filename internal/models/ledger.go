package models

import (
	"time"
)

type WalletOwnerType string

const (
	WalletOwnerPlatform   WalletOwnerType = "platform"
	WalletOwnerStudent    WalletOwnerType = "student"
	WalletOwnerInstructor WalletOwnerType = "instructor"
)

// Wallet is an account bucket. The single platform wallet has a NULL owner.
type Wallet struct {
	ID        string          `json:"id" db:"id"`
	OwnerType WalletOwnerType `json:"owner_type" db:"owner_type"`
	OwnerID   *string         `json:"owner_id" db:"owner_id"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Journal is an atomic, balanced set of ledger entries for one financial
// event. Immutable once posted; corrections are new offsetting journals.
type Journal struct {
	ID        string    `json:"id" db:"id"`
	EventType string    `json:"event_type" db:"event_type"`
	EventID   string    `json:"event_id" db:"event_id"`
	Currency  string    `json:"currency" db:"currency"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// LedgerEntry is a single signed amount against one wallet within a journal.
// amount_cents is an integer; no floating point anywhere near money.
type LedgerEntry struct {
	ID          int64     `json:"id" db:"id"`
	JournalID   string    `json:"journal_id" db:"journal_id"`
	WalletID    string    `json:"wallet_id" db:"wallet_id"`
	AmountCents int64     `json:"amount_cents" db:"amount_cents"`
	RefType     string    `json:"ref_type" db:"ref_type"`
	RefID       string    `json:"ref_id" db:"ref_id"`
	Description string    `json:"description" db:"description"`
	Metadata    Metadata  `json:"metadata" db:"metadata"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// EntryInput is what callers hand to PostJournal.
type EntryInput struct {
	WalletID    string   `json:"wallet_id" validate:"required"`
	AmountCents int64    `json:"amount_cents" validate:"required"`
	RefType     string   `json:"ref_type" validate:"required"`
	RefID       string   `json:"ref_id"`
	Description string   `json:"description"`
	Metadata    Metadata `json:"metadata"`
}

// WalletBalance is a cache over the entry sums. It may be transiently stale
// but must reconcile to exact equality with the ledger.
type WalletBalance struct {
	WalletID     string    `json:"wallet_id" db:"wallet_id"`
	BalanceCents int64     `json:"balance_cents" db:"balance_cents"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
