package models

import (
	"time"
)

// CreditStatus is the derived classification of a student balance against
// their credit limit. It is computed at read time, never stored.
type CreditStatus int

const (
	CreditOK CreditStatus = iota
	CreditWarning
	CreditUrgent
	CreditExceeded
)

func (s CreditStatus) String() string {
	switch s {
	case CreditOK:
		return "ok"
	case CreditWarning:
		return "warning"
	case CreditUrgent:
		return "urgent"
	case CreditExceeded:
		return "exceeded"
	default:
		return "unknown"
	}
}

// CreditLimit holds a student's allowed debt. limit_cents is negative; a
// balance below it means the student owes more than permitted.
type CreditLimit struct {
	StudentID                 string    `json:"student_id" db:"student_id"`
	LimitCents                int64     `json:"limit_cents" db:"limit_cents"`
	WarningThresholdPct       float64   `json:"warning_threshold_pct" db:"warning_threshold_pct"`
	AccountStatus             string    `json:"account_status" db:"account_status"`
	AutoChargeEnabled         bool      `json:"auto_charge_enabled" db:"auto_charge_enabled"`
	CardOnFile                bool      `json:"card_on_file" db:"card_on_file"`
	DisputeFreeDays           int       `json:"dispute_free_days" db:"dispute_free_days"`
	TotalPrepaidLifetimeCents int64     `json:"total_prepaid_lifetime_cents" db:"total_prepaid_lifetime_cents"`
	CreatedAt                 time.Time `json:"created_at" db:"created_at"`
	UpdatedAt                 time.Time `json:"updated_at" db:"updated_at"`
}

// StudentCreditStanding is a read-model row for the dunning screen.
type StudentCreditStanding struct {
	StudentID    string       `json:"student_id"`
	BalanceCents int64        `json:"balance_cents"`
	LimitCents   int64        `json:"limit_cents"`
	PercentUsed  float64      `json:"percent_used"`
	Status       CreditStatus `json:"-"`
	StatusLabel  string       `json:"status"`
}
