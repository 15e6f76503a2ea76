package services

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/flightdeck/backend/internal/audit"
	"github.com/flightdeck/backend/internal/config"
	"github.com/flightdeck/backend/internal/events"
	"github.com/flightdeck/backend/internal/models"
	"github.com/flightdeck/backend/internal/payments"
)

const actionInstructorTransfer = "instructor_transfer"

// OutboxService owns the durable payout queue. Enqueue records intent in
// the same database as the journal; the worker drains entries against the
// processor. Money only leaves the platform through this path.
type OutboxService struct {
	db        *sql.DB
	processor payments.Client
	publisher events.Publisher
	cfg       *config.OutboxConfig
	alerts    *AlertService
	audit     *audit.Logger
}

func NewOutboxService(db *sql.DB, processor payments.Client, publisher events.Publisher, cfg *config.OutboxConfig) *OutboxService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if cfg == nil {
		cfg = config.LoadOutboxConfig()
	}
	return &OutboxService{
		db:        db,
		processor: processor,
		publisher: publisher,
		cfg:       cfg,
		alerts:    NewAlertService(db),
		audit:     audit.NewLogger(),
	}
}

// transferIdempotencyKey derives a stable key from the journal and
// instructor. The same pair always produces the same key, so a duplicate
// enqueue collides on the unique index instead of creating a second payout.
func transferIdempotencyKey(journalID, instructorID string) string {
	sum := sha256.Sum256([]byte(journalID + ":" + instructorID))
	return "transfer_" + hex.EncodeToString(sum[:])
}

// EnqueueInstructorTransfer records a pending payout. Duplicate calls for
// the same (journal, instructor) pair return the existing entry's id.
func (s *OutboxService) EnqueueInstructorTransfer(ctx context.Context, journalID, instructorID, flightSessionID string, amountCents int64, isInstant bool) (string, error) {
	if amountCents <= 0 {
		return "", fmt.Errorf("transfer amount must be positive, got %d cents", amountCents)
	}

	key := transferIdempotencyKey(journalID, instructorID)
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_outbox (id, idempotency_key, action_type, instructor_id, amount_cents, currency, journal_id, flight_session_id, is_instant_payout, status, attempt_count, max_attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending', 0, $10, $11)`,
		id, key, actionInstructorTransfer, instructorID, amountCents, s.cfg.Currency, journalID, flightSessionID, isInstant, s.cfg.MaxAttempts, time.Now())
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			var existingID string
			if ferr := s.db.QueryRowContext(ctx,
				`SELECT id FROM payment_outbox WHERE idempotency_key = $1`, key).Scan(&existingID); ferr == nil {
				log.Printf("[OUTBOX] Duplicate enqueue for journal %s instructor %s, returning existing %s", journalID, instructorID, existingID)
				return existingID, nil
			}
		}
		return "", fmt.Errorf("failed to enqueue transfer: %w", err)
	}
	log.Printf("[OUTBOX] Enqueued transfer %s: %d cents to instructor %s", id, amountCents, instructorID)
	return id, nil
}

// GetEntry fetches one outbox row by id.
func (s *OutboxService) GetEntry(ctx context.Context, outboxID string) (*models.OutboxEntry, error) {
	var e models.OutboxEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT id, idempotency_key, action_type, instructor_id, amount_cents, currency, journal_id, flight_session_id, is_instant_payout, status, attempt_count, max_attempts, failure_message, stripe_object_id, last_attempt_at, completed_at, created_at
		FROM payment_outbox WHERE id = $1`,
		outboxID).Scan(&e.ID, &e.IdempotencyKey, &e.ActionType, &e.InstructorID, &e.AmountCents, &e.Currency, &e.JournalID, &e.FlightSessionID, &e.IsInstantPayout, &e.Status, &e.AttemptCount, &e.MaxAttempts, &e.FailureMessage, &e.StripeObjectID, &e.LastAttemptAt, &e.CompletedAt, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch outbox entry: %w", err)
	}
	return &e, nil
}

// DuePending returns pending entries whose retry backoff has elapsed,
// oldest first. Backoff doubles per attempt from 30 seconds, capped at one
// hour. The due predicate lives in SQL so rows still backing off never
// occupy batch slots.
func (s *OutboxService) DuePending(ctx context.Context, batchSize int) ([]models.OutboxEntry, error) {
	if batchSize <= 0 {
		batchSize = s.cfg.BatchSize
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, idempotency_key, action_type, instructor_id, amount_cents, currency, journal_id, flight_session_id, is_instant_payout, status, attempt_count, max_attempts, failure_message, stripe_object_id, last_attempt_at, completed_at, created_at
		FROM payment_outbox
		WHERE status = 'pending'
		  AND (last_attempt_at IS NULL
		       OR last_attempt_at + LEAST(interval '30 seconds' * power(2, attempt_count - 1), interval '1 hour') <= $2)
		ORDER BY created_at ASC LIMIT $1`,
		batchSize, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending outbox entries: %w", err)
	}
	defer rows.Close()

	var due []models.OutboxEntry
	for rows.Next() {
		var e models.OutboxEntry
		if err := rows.Scan(&e.ID, &e.IdempotencyKey, &e.ActionType, &e.InstructorID, &e.AmountCents, &e.Currency, &e.JournalID, &e.FlightSessionID, &e.IsInstantPayout, &e.Status, &e.AttemptCount, &e.MaxAttempts, &e.FailureMessage, &e.StripeObjectID, &e.LastAttemptAt, &e.CompletedAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		due = append(due, e)
	}
	return due, rows.Err()
}

// RequeueStaleProcessing returns entries stuck in processing (a worker
// crashed mid-attempt) to pending. The processor-side idempotency key makes
// the re-attempt safe even if the original API call went through.
func (s *OutboxService) RequeueStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE payment_outbox SET status = 'pending'
		WHERE status = 'processing' AND last_attempt_at < $1`,
		time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale entries: %w", err)
	}
	requeued, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if requeued > 0 {
		log.Printf("[OUTBOX] Requeued %d stale processing entries", requeued)
	}
	return requeued, nil
}

// ProcessOutboxEntry drives one entry through the state machine. The
// status-guarded claim UPDATE is the concurrency control: of N workers
// racing on the same entry, exactly one sees RowsAffected == 1.
func (s *OutboxService) ProcessOutboxEntry(ctx context.Context, outboxID string) error {
	entry, err := s.GetEntry(ctx, outboxID)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("outbox entry %s not found", outboxID)
	}
	if entry.Status != models.OutboxPending {
		log.Printf("[OUTBOX] Entry %s is %s, nothing to do", outboxID, entry.Status)
		return nil
	}

	now := time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE payment_outbox
		SET status = 'processing', attempt_count = attempt_count + 1, last_attempt_at = $2
		WHERE id = $1 AND status = 'pending'`,
		outboxID, now)
	if err != nil {
		return fmt.Errorf("failed to claim outbox entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Another worker claimed it first.
		log.Printf("[OUTBOX] Entry %s already claimed, skipping", outboxID)
		return nil
	}
	attempt := entry.AttemptCount + 1
	s.audit.LogTransferAttempt(entry.ID, entry.InstructorID, entry.AmountCents, attempt)

	account, err := s.instructorAccount(ctx, entry.InstructorID)
	if err != nil {
		return s.markFailure(ctx, entry, attempt, err)
	}
	if account == nil || !account.OnboardingComplete || !account.PayoutsEnabled {
		return s.markFailure(ctx, entry, attempt, ErrOnboardingIncomplete)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProcessTimeout)
	defer cancel()

	transfer, err := s.processor.CreateTransfer(callCtx, payments.TransferRequest{
		AmountCents:    entry.AmountCents,
		Currency:       entry.Currency,
		Destination:    account.StripeAccountID,
		IdempotencyKey: entry.IdempotencyKey,
		Metadata: map[string]string{
			"outbox_id":         entry.ID,
			"journal_id":        entry.JournalID,
			"instructor_id":     entry.InstructorID,
			"flight_session_id": entry.FlightSessionID,
		},
	})
	if err != nil {
		if payments.IsRetryable(err) {
			log.Printf("[OUTBOX] Transient processor error for %s (attempt %d/%d): %v", entry.ID, attempt, entry.MaxAttempts, err)
		} else {
			log.Printf("[OUTBOX] Processor rejected %s (attempt %d/%d): %v", entry.ID, attempt, entry.MaxAttempts, err)
		}
		return s.markFailure(ctx, entry, attempt, err)
	}

	return s.recordSuccess(ctx, entry, account, transfer)
}

// recordSuccess writes the transfer row and completes the outbox entry.
// The transfer starts as pending: settlement confirmation comes later via
// webhook. Instant payout is never triggered from here even when the entry
// requested it; that step requires a separate explicit action.
func (s *OutboxService) recordSuccess(ctx context.Context, entry *models.OutboxEntry, account *models.InstructorAccount, transfer *payments.Transfer) error {
	now := time.Now()
	transferType := models.TransferStandard
	if entry.IsInstantPayout {
		transferType = models.TransferInstant
	}

	// ON CONFLICT covers the crash-retry case where the transfer row was
	// written but the outbox update below never ran.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instructor_transfers (id, outbox_id, instructor_id, stripe_transfer_id, stripe_account_id, amount_cents, currency, transfer_type, status, flight_session_id, journal_id, is_clawback_eligible, clawback_window_ends_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', $9, $10, TRUE, $11, $12)
		ON CONFLICT (outbox_id) DO NOTHING`,
		uuid.NewString(), entry.ID, entry.InstructorID, transfer.ID, account.StripeAccountID,
		entry.AmountCents, entry.Currency, transferType, entry.FlightSessionID, entry.JournalID,
		now.Add(s.cfg.ClawbackWindow), now)
	if err != nil {
		return fmt.Errorf("failed to record instructor transfer: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE payment_outbox
		SET status = 'completed', stripe_object_id = $2, completed_at = $3, failure_message = NULL
		WHERE id = $1`,
		entry.ID, transfer.ID, now)
	if err != nil {
		return fmt.Errorf("failed to complete outbox entry: %w", err)
	}

	s.audit.LogTransferResult(entry.ID, "COMPLETED", transfer.ID)
	log.Printf("[OUTBOX] Transfer %s created for entry %s: %d cents to %s", transfer.ID, entry.ID, entry.AmountCents, account.StripeAccountID)
	return nil
}

// markFailure returns the entry to pending for another attempt, or marks it
// failed once attempts are exhausted. Terminal failures need an operator.
func (s *OutboxService) markFailure(ctx context.Context, entry *models.OutboxEntry, attempt int, cause error) error {
	status := models.OutboxPending
	if attempt >= entry.MaxAttempts {
		status = models.OutboxFailed
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE payment_outbox SET status = $2, failure_message = $3 WHERE id = $1`,
		entry.ID, status, cause.Error())
	if err != nil {
		return fmt.Errorf("failed to record outbox failure: %w", err)
	}

	if status == models.OutboxFailed {
		s.audit.LogError(entry.ID, cause)
		if _, aerr := s.alerts.CreateAlert(ctx, models.AlertTransferFailed, models.SeverityCritical,
			fmt.Sprintf("payout %s to instructor %s failed permanently: %v", entry.ID, entry.InstructorID, cause),
			0, 0, 0); aerr != nil {
			log.Printf("[OUTBOX] Non-critical: failed to record payout failure alert: %v", aerr)
		}
		log.Printf("[OUTBOX] Entry %s failed permanently after %d attempts: %v", entry.ID, attempt, cause)
	}
	return fmt.Errorf("transfer attempt %d/%d for entry %s failed: %w", attempt, entry.MaxAttempts, entry.ID, cause)
}

func (s *OutboxService) instructorAccount(ctx context.Context, instructorID string) (*models.InstructorAccount, error) {
	var a models.InstructorAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT instructor_id, stripe_account_id, onboarding_complete, payouts_enabled, instant_payouts_ok, created_at, updated_at
		FROM instructor_accounts WHERE instructor_id = $1`,
		instructorID).Scan(&a.InstructorID, &a.StripeAccountID, &a.OnboardingComplete, &a.PayoutsEnabled, &a.InstantPayoutsOk, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch instructor account: %w", err)
	}
	return &a, nil
}

// MarkTransferPaid records settlement confirmation from the processor.
func (s *OutboxService) MarkTransferPaid(ctx context.Context, stripeTransferID string) error {
	now := time.Now()
	var id, instructorID string
	var amountCents int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE instructor_transfers SET status = 'paid', settled_at = $2
		WHERE stripe_transfer_id = $1 AND status = 'pending'
		RETURNING id, instructor_id, amount_cents`,
		stripeTransferID, now).Scan(&id, &instructorID, &amountCents)
	if err == sql.ErrNoRows {
		return s.resolveMissingSettlement(ctx, stripeTransferID)
	}
	if err != nil {
		return fmt.Errorf("failed to mark transfer paid: %w", err)
	}

	s.audit.LogSettlement(stripeTransferID, "PAID")
	if perr := s.publisher.Publish(ctx, events.TopicTransferSettled, events.TransferSettled{
		TransferID:   id,
		InstructorID: instructorID,
		AmountCents:  amountCents,
		Status:       string(models.TransferPaid),
		OccurredAt:   now,
	}); perr != nil {
		log.Printf("[OUTBOX] Non-critical: failed to publish settlement event: %v", perr)
	}
	return nil
}

// MarkTransferFailed records a settlement failure from the processor.
func (s *OutboxService) MarkTransferFailed(ctx context.Context, stripeTransferID, reason string) error {
	now := time.Now()
	var id, instructorID string
	var amountCents int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE instructor_transfers SET status = 'failed', failure_message = $2, settled_at = $3
		WHERE stripe_transfer_id = $1 AND status = 'pending'
		RETURNING id, instructor_id, amount_cents`,
		stripeTransferID, reason, now).Scan(&id, &instructorID, &amountCents)
	if err == sql.ErrNoRows {
		return s.resolveMissingSettlement(ctx, stripeTransferID)
	}
	if err != nil {
		return fmt.Errorf("failed to mark transfer failed: %w", err)
	}

	s.audit.LogSettlement(stripeTransferID, "FAILED")
	if perr := s.publisher.Publish(ctx, events.TopicTransferSettled, events.TransferSettled{
		TransferID:   id,
		InstructorID: instructorID,
		AmountCents:  amountCents,
		Status:       string(models.TransferFailed),
		OccurredAt:   now,
	}); perr != nil {
		log.Printf("[OUTBOX] Non-critical: failed to publish settlement event: %v", perr)
	}
	return nil
}

// resolveMissingSettlement decides what a settlement event with no pending
// transfer row means. A row already in a terminal state is a replayed
// webhook and is acknowledged. No row at all can be the crash window
// between the processor call and recordSuccess: if the processor shows the
// transfer carrying one of our outbox ids, the event must fail so it is
// redelivered after the retry pass has written the row.
func (s *OutboxService) resolveMissingSettlement(ctx context.Context, stripeTransferID string) error {
	existing, err := s.GetTransferByStripeID(ctx, stripeTransferID)
	if err != nil {
		return err
	}
	if existing != nil {
		log.Printf("[OUTBOX] Settlement for %s already recorded as %s, ignoring replay", stripeTransferID, existing.Status)
		return nil
	}

	remote, err := s.processor.RetrieveTransfer(ctx, stripeTransferID)
	if err != nil {
		return fmt.Errorf("failed to look up transfer %s at the processor: %w", stripeTransferID, err)
	}
	if remote != nil && remote.Metadata["outbox_id"] != "" {
		return fmt.Errorf("settlement for %s arrived before its transfer row was recorded", stripeTransferID)
	}
	log.Printf("[OUTBOX] Settlement for %s matches no transfer of ours, ignoring", stripeTransferID)
	return nil
}

// UpdateInstructorAccountStatus records onboarding and payout capability
// flags reported by the processor for a connected account.
func (s *OutboxService) UpdateInstructorAccountStatus(ctx context.Context, stripeAccountID string, onboardingComplete, payoutsEnabled bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE instructor_accounts
		SET onboarding_complete = $2, payouts_enabled = $3, updated_at = $4
		WHERE stripe_account_id = $1`,
		stripeAccountID, onboardingComplete, payoutsEnabled, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update instructor account: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		log.Printf("[OUTBOX] Account update for unknown connected account %s, ignoring", stripeAccountID)
	}
	return nil
}

// GetTransferByStripeID fetches a transfer row by the processor's id.
func (s *OutboxService) GetTransferByStripeID(ctx context.Context, stripeTransferID string) (*models.InstructorTransfer, error) {
	var t models.InstructorTransfer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, outbox_id, instructor_id, stripe_transfer_id, stripe_account_id, amount_cents, currency, transfer_type, status, flight_session_id, journal_id, is_clawback_eligible, clawback_window_ends_at, failure_message, settled_at, created_at
		FROM instructor_transfers WHERE stripe_transfer_id = $1`,
		stripeTransferID).Scan(&t.ID, &t.OutboxID, &t.InstructorID, &t.StripeTransferID, &t.StripeAccountID, &t.AmountCents, &t.Currency, &t.TransferType, &t.Status, &t.FlightSessionID, &t.JournalID, &t.IsClawbackEligible, &t.ClawbackWindowEndsAt, &t.FailureMessage, &t.SettledAt, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transfer: %w", err)
	}
	return &t, nil
}
