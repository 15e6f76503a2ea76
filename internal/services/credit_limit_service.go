package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/flightdeck/backend/internal/config"
	"github.com/flightdeck/backend/internal/models"
)

// CreditLimitService classifies student debt against configured limits.
// It is consulted (not owned) by scheduling before a booking is allowed;
// every method here is read-only apart from lazy default-limit creation
// and explicit admin updates.
type CreditLimitService struct {
	db     *sql.DB
	ledger *LedgerService
	alerts *AlertService
	cfg    *config.CreditConfig
}

func NewCreditLimitService(db *sql.DB, ledger *LedgerService, alerts *AlertService, cfg *config.CreditConfig) *CreditLimitService {
	if cfg == nil {
		cfg = config.LoadCreditConfig()
	}
	return &CreditLimitService{db: db, ledger: ledger, alerts: alerts, cfg: cfg}
}

// Classify is a pure function over a balance and a (negative) limit.
// percent used is balance/limit * 100; both are negative for debt, so the
// ratio is positive. A non-negative balance is always ok. warningPct is the
// student's stored warning threshold; zero or negative falls back to the
// deployment default.
func (s *CreditLimitService) Classify(balanceCents, limitCents int64, warningPct float64) (models.CreditStatus, float64) {
	if warningPct <= 0 {
		warningPct = s.cfg.WarningThresholdPct
	}
	if limitCents >= 0 || balanceCents >= 0 {
		return models.CreditOK, 0
	}
	pct := float64(balanceCents) / float64(limitCents) * 100

	switch {
	case pct > 100:
		return models.CreditExceeded, pct
	case pct >= s.cfg.UrgentThresholdPct:
		return models.CreditUrgent, pct
	case pct >= warningPct:
		return models.CreditWarning, pct
	default:
		return models.CreditOK, pct
	}
}

// CreditDecision is the answer to "can this student take on this charge".
type CreditDecision struct {
	Allowed             bool    `json:"allowed"`
	CurrentBalanceCents int64   `json:"current_balance_cents"`
	NewBalanceCents     int64   `json:"new_balance_cents"`
	LimitCents          int64   `json:"limit_cents"`
	PercentUsed         float64 `json:"percent_used"`
	Warning             string  `json:"warning,omitempty"`
	BlockedReason       string  `json:"blocked_reason,omitempty"`
}

// CheckCreditLimit evaluates a proposed charge against the student's limit.
func (s *CreditLimitService) CheckCreditLimit(ctx context.Context, studentID string, proposedChargeCents int64) (*CreditDecision, error) {
	limit, err := s.GetOrCreateLimit(ctx, studentID)
	if err != nil {
		return nil, err
	}

	if limit.AccountStatus != "active" {
		return &CreditDecision{
			Allowed:       false,
			LimitCents:    limit.LimitCents,
			BlockedReason: "account suspended",
		}, nil
	}

	currentBalance, err := s.ledger.StudentBalance(ctx, studentID)
	if err != nil {
		return nil, err
	}
	newBalance := currentBalance - proposedChargeCents

	status, pct := s.Classify(newBalance, limit.LimitCents, limit.WarningThresholdPct)
	decision := &CreditDecision{
		Allowed:             true,
		CurrentBalanceCents: currentBalance,
		NewBalanceCents:     newBalance,
		LimitCents:          limit.LimitCents,
		PercentUsed:         pct,
	}

	switch status {
	case models.CreditExceeded:
		decision.Allowed = false
		decision.BlockedReason = fmt.Sprintf("credit limit exceeded: balance would be %d cents, limit is %d cents", newBalance, limit.LimitCents)
		s.recordBreachAlert(ctx, studentID, newBalance, limit.LimitCents)
	case models.CreditUrgent:
		decision.Warning = fmt.Sprintf("close to credit limit (%.1f%% used); add funds to avoid booking restrictions", pct)
	case models.CreditWarning:
		decision.Warning = fmt.Sprintf("approaching credit limit (%.1f%% used)", pct)
	}
	return decision, nil
}

// recordBreachAlert persists a credit_limit_breach alert for the operator
// feed. Dedup against an open alert of the same type lives in the alert
// service; a failure to record never blocks the credit decision.
func (s *CreditLimitService) recordBreachAlert(ctx context.Context, studentID string, balanceCents, limitCents int64) {
	if s.alerts == nil {
		return
	}
	msg := fmt.Sprintf("student %s over credit limit: balance %d cents against limit %d cents", studentID, balanceCents, limitCents)
	if _, err := s.alerts.CreateAlert(ctx, models.AlertCreditLimitBreach, models.SeverityWarning, msg, balanceCents, 0, limitCents); err != nil {
		log.Printf("[CREDIT] Non-critical: failed to record breach alert for student %s: %v", studentID, err)
	}
}

// GetOrCreateLimit reads a student's credit limit, creating the deployment
// default on first contact.
func (s *CreditLimitService) GetOrCreateLimit(ctx context.Context, studentID string) (*models.CreditLimit, error) {
	limit, err := s.getLimit(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if limit != nil {
		return limit, nil
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO student_credit_limits (student_id, limit_cents, warning_threshold_pct, account_status, created_at, updated_at)
		VALUES ($1, $2, $3, 'active', $4, $4)
		ON CONFLICT (student_id) DO NOTHING`,
		studentID, s.cfg.DefaultLimitCents, s.cfg.WarningThresholdPct, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create default credit limit: %w", err)
	}
	return s.getLimit(ctx, studentID)
}

func (s *CreditLimitService) getLimit(ctx context.Context, studentID string) (*models.CreditLimit, error) {
	var l models.CreditLimit
	err := s.db.QueryRowContext(ctx, `
		SELECT student_id, limit_cents, warning_threshold_pct, account_status, auto_charge_enabled, card_on_file, dispute_free_days, total_prepaid_lifetime_cents, created_at, updated_at
		FROM student_credit_limits WHERE student_id = $1`,
		studentID).Scan(&l.StudentID, &l.LimitCents, &l.WarningThresholdPct, &l.AccountStatus, &l.AutoChargeEnabled, &l.CardOnFile, &l.DisputeFreeDays, &l.TotalPrepaidLifetimeCents, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credit limit: %w", err)
	}
	return &l, nil
}

// GetStudentsNearCreditLimit returns every student whose classification is
// not ok, sorted by severity descending then by usage. Side-effect-free.
func (s *CreditLimitService) GetStudentsNearCreditLimit(ctx context.Context) ([]models.StudentCreditStanding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.student_id, l.limit_cents, l.warning_threshold_pct, COALESCE(b.balance_cents, 0)
		FROM student_credit_limits l
		JOIN wallets w ON w.owner_type = 'student' AND w.owner_id = l.student_id
		LEFT JOIN wallet_balances b ON b.wallet_id = w.id
		WHERE l.account_status = 'active'`)
	if err != nil {
		return nil, fmt.Errorf("failed to scan credit limits: %w", err)
	}
	defer rows.Close()

	var results []models.StudentCreditStanding
	for rows.Next() {
		var studentID string
		var limitCents, balanceCents int64
		var warningPct float64
		if err := rows.Scan(&studentID, &limitCents, &warningPct, &balanceCents); err != nil {
			return nil, err
		}

		status, pct := s.Classify(balanceCents, limitCents, warningPct)
		if status == models.CreditOK {
			continue
		}
		results = append(results, models.StudentCreditStanding{
			StudentID:    studentID,
			BalanceCents: balanceCents,
			LimitCents:   limitCents,
			PercentUsed:  pct,
			Status:       status,
			StatusLabel:  status.String(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Status != results[j].Status {
			return results[i].Status > results[j].Status
		}
		return results[i].PercentUsed > results[j].PercentUsed
	})
	return results, nil
}

// UpdateCreditLimit sets a new limit for a student.
func (s *CreditLimitService) UpdateCreditLimit(ctx context.Context, studentID string, newLimitCents int64, reason, updatedBy string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE student_credit_limits SET limit_cents = $2, updated_at = $3 WHERE student_id = $1`,
		studentID, newLimitCents, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update credit limit: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("no credit limit record for student %s", studentID)
	}
	log.Printf("[CREDIT] Limit for student %s set to %d cents by %s: %s", studentID, newLimitCents, updatedBy, reason)
	return nil
}

// EscalationEligibility reports whether a student qualifies for a higher
// limit: card on file, 90 dispute-free days, and $1000 lifetime prepaid.
func (s *CreditLimitService) EscalationEligibility(ctx context.Context, studentID string) (eligible bool, suggestedCents int64, reasons []string, err error) {
	limit, err := s.GetOrCreateLimit(ctx, studentID)
	if err != nil {
		return false, 0, nil, err
	}

	eligible = true
	if !limit.CardOnFile {
		eligible = false
		reasons = append(reasons, "no card on file")
	}
	if limit.DisputeFreeDays < 90 {
		eligible = false
		reasons = append(reasons, fmt.Sprintf("only %d dispute-free days (need 90)", limit.DisputeFreeDays))
	}
	if limit.TotalPrepaidLifetimeCents < 100000 {
		eligible = false
		reasons = append(reasons, fmt.Sprintf("only %d cents prepaid lifetime (need 100000)", limit.TotalPrepaidLifetimeCents))
	}

	suggestedCents = limit.LimitCents
	if eligible {
		suggestedCents = s.cfg.EscalatedLimitCents
		reasons = append(reasons, fmt.Sprintf("qualifies for limit increase to %d cents", suggestedCents))
	}
	return eligible, suggestedCents, reasons, nil
}
