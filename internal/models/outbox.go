package models

import (
	"time"
)

type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxCompleted  OutboxStatus = "completed"
	OutboxFailed     OutboxStatus = "failed"
)

// OutboxEntry is a durable intent record for one instructor payout.
// Exactly one row exists per (journal, instructor) pair; the unique
// idempotency_key enforces that under concurrent enqueues.
//
// State machine: pending -> processing -> completed,
// processing -> pending (retry) while attempt_count < max_attempts,
// processing -> failed (terminal) once attempts are exhausted.
// Rows are never deleted; they are the payout audit trail.
type OutboxEntry struct {
	ID              string       `json:"id" db:"id"`
	IdempotencyKey  string       `json:"idempotency_key" db:"idempotency_key"`
	ActionType      string       `json:"action_type" db:"action_type"`
	InstructorID    string       `json:"instructor_id" db:"instructor_id"`
	AmountCents     int64        `json:"amount_cents" db:"amount_cents"`
	Currency        string       `json:"currency" db:"currency"`
	JournalID       string       `json:"journal_id" db:"journal_id"`
	FlightSessionID string       `json:"flight_session_id" db:"flight_session_id"`
	IsInstantPayout bool         `json:"is_instant_payout" db:"is_instant_payout"`
	Status          OutboxStatus `json:"status" db:"status"`
	AttemptCount    int          `json:"attempt_count" db:"attempt_count"`
	MaxAttempts     int          `json:"max_attempts" db:"max_attempts"`
	FailureMessage  *string      `json:"failure_message,omitempty" db:"failure_message"`
	StripeObjectID  *string      `json:"stripe_object_id,omitempty" db:"stripe_object_id"`
	LastAttemptAt   *time.Time   `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
}
