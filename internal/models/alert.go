package models

import (
	"time"
)

type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert types raised by the reserve monitor and reconciliation passes.
const (
	AlertDriftDetected     = "drift_detected"
	AlertWarningThreshold  = "warning_threshold"
	AlertCriticalThreshold = "critical_threshold"
	AlertBalanceMismatch   = "balance_mismatch"
	AlertTransferFailed    = "transfer_failed"
	AlertCreditLimitBreach = "credit_limit_breach"
)

// ReserveAlert is a persisted, operator-facing alert. Delivery is owned by
// an external notification collaborator; this row only tracks state.
type ReserveAlert struct {
	ID                   string        `json:"id" db:"id"`
	AlertType            string        `json:"alert_type" db:"alert_type"`
	Severity             AlertSeverity `json:"severity" db:"severity"`
	Message              string        `json:"message" db:"message"`
	PlatformBalanceCents int64         `json:"platform_balance_cents" db:"platform_balance_cents"`
	DriftCents           int64         `json:"drift_cents" db:"drift_cents"`
	ThresholdCents       int64         `json:"threshold_cents" db:"threshold_cents"`
	Acknowledged         bool          `json:"acknowledged" db:"acknowledged"`
	AcknowledgedBy       *string       `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	AcknowledgedAt       *time.Time    `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	ResolutionNotes      *string       `json:"resolution_notes,omitempty" db:"resolution_notes"`
	CreatedAt            time.Time     `json:"created_at" db:"created_at"`
}

// ReserveReconciliation is one run of the daily ledger-vs-cash check.
type ReserveReconciliation struct {
	ID                           string    `json:"id" db:"id"`
	ReconciliationDate           time.Time `json:"reconciliation_date" db:"reconciliation_date"`
	PlatformWalletBalanceCents   int64     `json:"platform_wallet_balance_cents" db:"platform_wallet_balance_cents"`
	StudentWalletsTotalCents     int64     `json:"student_wallets_total_cents" db:"student_wallets_total_cents"`
	InstructorWalletsTotalCents  int64     `json:"instructor_wallets_total_cents" db:"instructor_wallets_total_cents"`
	LedgerSumCents               int64     `json:"ledger_sum_cents" db:"ledger_sum_cents"`
	ProcessorAvailableCents      int64     `json:"processor_available_cents" db:"processor_available_cents"`
	ProcessorPendingCents        int64     `json:"processor_pending_cents" db:"processor_pending_cents"`
	ExpectedPlatformBalanceCents int64     `json:"expected_platform_balance_cents" db:"expected_platform_balance_cents"`
	DriftCents                   int64     `json:"drift_cents" db:"drift_cents"`
	Status                       string    `json:"status" db:"status"`
	Notes                        string    `json:"notes" db:"notes"`
	CreatedAt                    time.Time `json:"created_at" db:"created_at"`
}
