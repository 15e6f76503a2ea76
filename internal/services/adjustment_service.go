package services

import (
	"context"
	"fmt"
	"time"

	"github.com/flightdeck/backend/internal/audit"
	"github.com/flightdeck/backend/internal/config"
	"github.com/flightdeck/backend/internal/models"
)

// AdjustmentService posts corrections. Journals are immutable, so every
// correction is a new offsetting journal referencing the original rows.
type AdjustmentService struct {
	ledger *LedgerService
	outbox *OutboxService
	cfg    *config.OutboxConfig
	audit  *audit.Logger
}

func NewAdjustmentService(ledger *LedgerService, outbox *OutboxService, cfg *config.OutboxConfig) *AdjustmentService {
	if cfg == nil {
		cfg = config.LoadOutboxConfig()
	}
	return &AdjustmentService{
		ledger: ledger,
		outbox: outbox,
		cfg:    cfg,
		audit:  audit.NewLogger(),
	}
}

// AdjustmentRequest reverses part of a billed flight session. All amounts
// are positive magnitudes; the signs are applied here.
type AdjustmentRequest struct {
	AdjustmentID          string `json:"adjustment_id" validate:"required"`
	FlightSessionID       string `json:"flight_session_id" validate:"required"`
	StudentID             string `json:"student_id" validate:"required"`
	InstructorID          string `json:"instructor_id" validate:"required"`
	StudentRefundCents    int64  `json:"student_refund_cents" validate:"gte=0"`
	InstructorClawedCents int64  `json:"instructor_clawed_cents" validate:"gte=0"`
	Reason                string `json:"reason" validate:"required"`
}

// AdjustFlightSession posts the offsetting journal for a billing
// correction. The caller supplies the adjustment id, so replays of the
// same correction return the original journal.
func (s *AdjustmentService) AdjustFlightSession(ctx context.Context, req AdjustmentRequest) (*models.Journal, error) {
	if req.StudentRefundCents == 0 && req.InstructorClawedCents == 0 {
		return nil, fmt.Errorf("adjustment %s moves no money", req.AdjustmentID)
	}
	platformDelta := req.StudentRefundCents - req.InstructorClawedCents

	studentWallet, err := s.ledger.GetOrCreateWallet(ctx, models.WalletOwnerStudent, &req.StudentID)
	if err != nil {
		return nil, err
	}
	instructorWallet, err := s.ledger.GetOrCreateWallet(ctx, models.WalletOwnerInstructor, &req.InstructorID)
	if err != nil {
		return nil, err
	}
	platformWallet, err := s.ledger.GetOrCreateWallet(ctx, models.WalletOwnerPlatform, nil)
	if err != nil {
		return nil, err
	}

	meta := models.Metadata{"reason": req.Reason, "flight_session_id": req.FlightSessionID}
	var entries []models.EntryInput
	if req.StudentRefundCents > 0 {
		entries = append(entries, models.EntryInput{
			WalletID:    studentWallet,
			AmountCents: req.StudentRefundCents,
			RefType:     "adjustment",
			RefID:       req.AdjustmentID,
			Description: "flight session adjustment refund",
			Metadata:    meta,
		})
	}
	if req.InstructorClawedCents > 0 {
		entries = append(entries, models.EntryInput{
			WalletID:    instructorWallet,
			AmountCents: -req.InstructorClawedCents,
			RefType:     "adjustment",
			RefID:       req.AdjustmentID,
			Description: "flight session adjustment reversal",
			Metadata:    meta,
		})
	}
	entries = append(entries, models.EntryInput{
		WalletID:    platformWallet,
		AmountCents: -platformDelta,
		RefType:     "adjustment",
		RefID:       req.AdjustmentID,
		Description: "flight session adjustment balancing entry",
	})

	journal, err := s.ledger.PostJournal(ctx, "flight_adjustment", req.AdjustmentID, s.cfg.Currency, entries)
	if err != nil {
		return nil, fmt.Errorf("failed to post adjustment journal: %w", err)
	}
	return journal, nil
}

// RecordTransferClawback books a dispute against a settled payout. Inside
// the 72h window the instructor's wallet is debited and the platform
// credited via a new journal keyed by the dispute id; the transfer row
// itself is never modified. Outside the window it refuses and the dispute
// goes to manual review.
func (s *AdjustmentService) RecordTransferClawback(ctx context.Context, stripeTransferID, disputeID, reason string, amountCents int64) (*models.Journal, error) {
	if amountCents <= 0 {
		return nil, fmt.Errorf("clawback amount must be positive, got %d cents", amountCents)
	}

	transfer, err := s.outbox.GetTransferByStripeID(ctx, stripeTransferID)
	if err != nil {
		return nil, err
	}
	if transfer == nil {
		return nil, fmt.Errorf("no transfer found for %s", stripeTransferID)
	}
	if !transfer.IsClawbackEligible || time.Now().After(transfer.ClawbackWindowEndsAt) {
		return nil, fmt.Errorf("%w: transfer %s window ended %s", ErrClawbackWindowClosed, transfer.ID, transfer.ClawbackWindowEndsAt.Format(time.RFC3339))
	}
	if amountCents > transfer.AmountCents {
		return nil, fmt.Errorf("clawback of %d cents exceeds transfer amount %d cents", amountCents, transfer.AmountCents)
	}

	instructorWallet, err := s.ledger.GetOrCreateWallet(ctx, models.WalletOwnerInstructor, &transfer.InstructorID)
	if err != nil {
		return nil, err
	}
	platformWallet, err := s.ledger.GetOrCreateWallet(ctx, models.WalletOwnerPlatform, nil)
	if err != nil {
		return nil, err
	}

	meta := models.Metadata{
		"stripe_transfer_id": stripeTransferID,
		"dispute_id":         disputeID,
		"reason":             reason,
	}
	journal, err := s.ledger.PostJournal(ctx, "charge_dispute", disputeID, transfer.Currency, []models.EntryInput{
		{
			WalletID:    instructorWallet,
			AmountCents: -amountCents,
			RefType:     "transfer_clawback",
			RefID:       transfer.ID,
			Description: "payout clawback for disputed charge",
			Metadata:    meta,
		},
		{
			WalletID:    platformWallet,
			AmountCents: amountCents,
			RefType:     "transfer_clawback",
			RefID:       transfer.ID,
			Description: "recovered disputed payout",
			Metadata:    meta,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to post clawback journal: %w", err)
	}

	s.audit.LogClawback(transfer.ID, amountCents, reason)
	return journal, nil
}
