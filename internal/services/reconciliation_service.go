package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/flightdeck/backend/internal/models"
	"github.com/flightdeck/backend/internal/payments"
)

// BalanceMismatch is one wallet whose cached balance disagrees with the
// sum of its ledger entries.
type BalanceMismatch struct {
	WalletID      string `json:"wallet_id"`
	CachedCents   int64  `json:"cached_cents"`
	ComputedCents int64  `json:"computed_cents"`
}

// WalletReconciliationReport summarizes one cache-vs-ledger pass.
type WalletReconciliationReport struct {
	WalletsChecked int               `json:"wallets_checked"`
	Mismatches     []BalanceMismatch `json:"mismatches"`
}

// ReconciliationService catches drift instead of silently correcting it.
// A mismatch is an audit signal: it raises an alert and leaves both the
// cache and the ledger untouched for operator inspection.
type ReconciliationService struct {
	db        *sql.DB
	ledger    *LedgerService
	processor payments.Client
	alerts    *AlertService
}

func NewReconciliationService(db *sql.DB, ledger *LedgerService, processor payments.Client, alerts *AlertService) *ReconciliationService {
	return &ReconciliationService{db: db, ledger: ledger, processor: processor, alerts: alerts}
}

// ReconcileWalletBalances recomputes every wallet's balance from its
// entries and compares against the cache.
func (s *ReconciliationService) ReconcileWalletBalances(ctx context.Context) (*WalletReconciliationReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.wallet_id, b.balance_cents, COALESCE(SUM(e.amount_cents), 0)
		FROM wallet_balances b
		LEFT JOIN ledger_entries e ON e.wallet_id = b.wallet_id
		GROUP BY b.wallet_id, b.balance_cents`)
	if err != nil {
		return nil, fmt.Errorf("failed to scan wallet balances: %w", err)
	}
	defer rows.Close()

	report := &WalletReconciliationReport{}
	for rows.Next() {
		var m BalanceMismatch
		if err := rows.Scan(&m.WalletID, &m.CachedCents, &m.ComputedCents); err != nil {
			return nil, err
		}
		report.WalletsChecked++
		if m.CachedCents != m.ComputedCents {
			report.Mismatches = append(report.Mismatches, m)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(report.Mismatches) > 0 {
		msg := fmt.Sprintf("wallet balance reconciliation found %d mismatched wallet(s); first: wallet %s cached %d cents vs ledger %d cents",
			len(report.Mismatches), report.Mismatches[0].WalletID, report.Mismatches[0].CachedCents, report.Mismatches[0].ComputedCents)
		if _, aerr := s.alerts.CreateAlert(ctx, models.AlertBalanceMismatch, models.SeverityWarning, msg, 0, 0, 0); aerr != nil {
			log.Printf("[RECONCILE] Non-critical: failed to persist mismatch alert: %v", aerr)
		}
	}
	return report, nil
}

// PerformDailyReconciliation runs the full ledger-vs-cash check: the whole
// ledger must sum to zero, and the platform wallet must track the
// processor's available balance within tolerance.
func (s *ReconciliationService) PerformDailyReconciliation(ctx context.Context) (*models.ReserveReconciliation, error) {
	platformCents, err := s.ledger.PlatformBalance(ctx)
	if err != nil {
		return nil, err
	}

	studentTotal, err := s.totalByOwnerType(ctx, models.WalletOwnerStudent)
	if err != nil {
		return nil, err
	}
	instructorTotal, err := s.totalByOwnerType(ctx, models.WalletOwnerInstructor)
	if err != nil {
		return nil, err
	}
	ledgerSum := platformCents + studentTotal + instructorTotal

	balance, err := s.processor.Balance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query processor balance: %w", err)
	}

	expected := balance.AvailableCents
	drift := platformCents - expected
	absDrift := drift
	if absDrift < 0 {
		absDrift = -absDrift
	}
	absSum := ledgerSum
	if absSum < 0 {
		absSum = -absSum
	}

	rec := &models.ReserveReconciliation{
		ID:                           uuid.NewString(),
		ReconciliationDate:           time.Now(),
		PlatformWalletBalanceCents:   platformCents,
		StudentWalletsTotalCents:     studentTotal,
		InstructorWalletsTotalCents:  instructorTotal,
		LedgerSumCents:               ledgerSum,
		ProcessorAvailableCents:      balance.AvailableCents,
		ProcessorPendingCents:        balance.PendingCents,
		ExpectedPlatformBalanceCents: expected,
		DriftCents:                   drift,
	}

	switch {
	case absSum == 0 && absDrift <= 1000:
		rec.Status = "balanced"
		rec.Notes = "reconciliation passed"
	case absDrift > 10000:
		rec.Status = "critical_error"
		rec.Notes = fmt.Sprintf("drift of %d cents exceeds hard ceiling", drift)
	default:
		rec.Status = "drift_detected"
		rec.Notes = fmt.Sprintf("drift detected: %d cents, ledger sum %d cents", drift, ledgerSum)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reserve_reconciliations (id, reconciliation_date, platform_wallet_balance_cents, student_wallets_total_cents, instructor_wallets_total_cents, ledger_sum_cents, processor_available_cents, processor_pending_cents, expected_platform_balance_cents, drift_cents, status, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID, rec.ReconciliationDate, rec.PlatformWalletBalanceCents, rec.StudentWalletsTotalCents, rec.InstructorWalletsTotalCents,
		rec.LedgerSumCents, rec.ProcessorAvailableCents, rec.ProcessorPendingCents, rec.ExpectedPlatformBalanceCents,
		rec.DriftCents, rec.Status, rec.Notes, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to record reconciliation: %w", err)
	}

	if rec.Status != "balanced" {
		severity := models.SeverityWarning
		if rec.Status == "critical_error" {
			severity = models.SeverityCritical
		}
		if _, aerr := s.alerts.CreateAlert(ctx, models.AlertDriftDetected, severity, rec.Notes, platformCents, drift, 1000); aerr != nil {
			log.Printf("[RECONCILE] Non-critical: failed to persist reconciliation alert: %v", aerr)
		}
	}
	return rec, nil
}

func (s *ReconciliationService) totalByOwnerType(ctx context.Context, ownerType models.WalletOwnerType) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(b.balance_cents), 0)
		FROM wallet_balances b
		JOIN wallets w ON w.id = b.wallet_id
		WHERE w.owner_type = $1`,
		ownerType).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to total %s wallets: %w", ownerType, err)
	}
	return total, nil
}
