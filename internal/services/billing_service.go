package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/flightdeck/backend/internal/config"
	"github.com/flightdeck/backend/internal/models"
)

// FlightBillingRequest carries everything needed to bill one completed
// flight session. Durations are in tenths of an hour, matching how flight
// time is logged.
type FlightBillingRequest struct {
	FlightSessionID     string  `json:"flight_session_id" validate:"required"`
	StudentID           string  `json:"student_id" validate:"required"`
	InstructorID        string  `json:"instructor_id" validate:"required"`
	FlightHours         float64 `json:"flight_hours" validate:"gte=0"`
	GroundHours         float64 `json:"ground_hours" validate:"gte=0"`
	AircraftRentalCents int64   `json:"aircraft_rental_cents" validate:"gte=0"`
}

// FlightBillingResult reports what a completed billing run produced.
type FlightBillingResult struct {
	JournalID             string `json:"journal_id"`
	OutboxID              string `json:"outbox_id,omitempty"`
	StudentChargeCents    int64  `json:"student_charge_cents"`
	InstructorPayoutCents int64  `json:"instructor_payout_cents"`
	PlatformMarginCents   int64  `json:"platform_margin_cents"`
	AlreadyBilled         bool   `json:"already_billed"`
}

// BillingService prices completed flight sessions and posts the three-way
// split: student debited the full charge, instructor credited their payout,
// platform credited the margin plus any aircraft rental.
type BillingService struct {
	db     *sql.DB
	ledger *LedgerService
	outbox *OutboxService
	cfg    *config.OutboxConfig
}

func NewBillingService(db *sql.DB, ledger *LedgerService, outbox *OutboxService, cfg *config.OutboxConfig) *BillingService {
	if cfg == nil {
		cfg = config.LoadOutboxConfig()
	}
	return &BillingService{db: db, ledger: ledger, outbox: outbox, cfg: cfg}
}

// ProcessFlightCompletionBilling bills one session end to end: rates,
// journal, payout enqueue. The flight session id is the journal's event id,
// so billing the same session twice is a no-op returning the original.
func (s *BillingService) ProcessFlightCompletionBilling(ctx context.Context, req FlightBillingRequest) (*FlightBillingResult, error) {
	billingRate, err := s.activeBillingRate(ctx, req.StudentID, req.InstructorID)
	if err != nil {
		return nil, err
	}
	payoutRate, err := s.activePayoutRate(ctx, req.InstructorID)
	if err != nil {
		return nil, err
	}

	studentCharge := hoursToCents(req.FlightHours, billingRate.FlightInstructionCents) +
		hoursToCents(req.GroundHours, billingRate.GroundInstructionCents) +
		req.AircraftRentalCents
	instructorPayout := hoursToCents(req.FlightHours, payoutRate.FlightInstructionCents) +
		hoursToCents(req.GroundHours, payoutRate.GroundInstructionCents)
	platformMargin := studentCharge - instructorPayout

	if studentCharge <= 0 {
		return nil, fmt.Errorf("flight session %s computes to a non-positive charge (%d cents)", req.FlightSessionID, studentCharge)
	}
	if platformMargin < 0 {
		return nil, fmt.Errorf("payout rate exceeds billing rate for instructor %s: margin would be %d cents", req.InstructorID, platformMargin)
	}

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

	meta := models.Metadata{
		"flight_hours":          req.FlightHours,
		"ground_hours":          req.GroundHours,
		"aircraft_rental_cents": req.AircraftRentalCents,
	}
	entries := []models.EntryInput{
		{
			WalletID:    studentWallet,
			AmountCents: -studentCharge,
			RefType:     "flight_session",
			RefID:       req.FlightSessionID,
			Description: "flight session charge",
			Metadata:    meta,
		},
		{
			WalletID:    instructorWallet,
			AmountCents: instructorPayout,
			RefType:     "flight_session",
			RefID:       req.FlightSessionID,
			Description: "instruction payout",
		},
		{
			WalletID:    platformWallet,
			AmountCents: platformMargin,
			RefType:     "flight_session",
			RefID:       req.FlightSessionID,
			Description: "platform margin and aircraft rental",
		},
	}

	alreadyBilled, err := s.ledger.findJournal(ctx, "flight_completion", req.FlightSessionID)
	if err != nil {
		return nil, err
	}

	journal, err := s.ledger.PostJournal(ctx, "flight_completion", req.FlightSessionID, s.cfg.Currency, entries)
	if err != nil {
		return nil, fmt.Errorf("failed to post billing journal: %w", err)
	}

	result := &FlightBillingResult{
		JournalID:             journal.ID,
		StudentChargeCents:    studentCharge,
		InstructorPayoutCents: instructorPayout,
		PlatformMarginCents:   platformMargin,
		AlreadyBilled:         alreadyBilled != nil,
	}

	if instructorPayout > 0 {
		outboxID, err := s.outbox.EnqueueInstructorTransfer(ctx, journal.ID, req.InstructorID, req.FlightSessionID, instructorPayout, payoutRate.InstantPayoutEnabled)
		if err != nil {
			// The journal committed; the payout intent can be re-enqueued
			// by an operator without re-billing the session.
			log.Printf("[BILLING] Journal %s posted but payout enqueue failed: %v", journal.ID, err)
		} else {
			result.OutboxID = outboxID
		}
	}

	log.Printf("[BILLING] Session %s billed: student -%d, instructor +%d, platform +%d cents",
		req.FlightSessionID, studentCharge, instructorPayout, platformMargin)
	return result, nil
}

// hoursToCents multiplies a fractional hour count by a cents-per-hour rate,
// rounding to the nearest cent.
func hoursToCents(hours float64, centsPerHour int64) int64 {
	return int64(math.Round(hours * float64(centsPerHour)))
}

func (s *BillingService) activeBillingRate(ctx context.Context, studentID, instructorID string) (*models.BillingRate, error) {
	var r models.BillingRate
	err := s.db.QueryRowContext(ctx, `
		SELECT student_id, instructor_id, flight_instruction_cents, ground_instruction_cents, effective_date, is_active
		FROM billing_rates
		WHERE student_id = $1 AND instructor_id = $2 AND is_active = TRUE AND effective_date <= $3
		ORDER BY effective_date DESC LIMIT 1`,
		studentID, instructorID, time.Now()).Scan(&r.StudentID, &r.InstructorID, &r.FlightInstructionCents, &r.GroundInstructionCents, &r.EffectiveDate, &r.IsActive)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: billing rate for student %s with instructor %s", ErrNoActiveRate, studentID, instructorID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch billing rate: %w", err)
	}
	return &r, nil
}

func (s *BillingService) activePayoutRate(ctx context.Context, instructorID string) (*models.PayoutRate, error) {
	var r models.PayoutRate
	err := s.db.QueryRowContext(ctx, `
		SELECT instructor_id, flight_instruction_cents, ground_instruction_cents, instant_payout_enabled, effective_date, is_active
		FROM instructor_payout_rates
		WHERE instructor_id = $1 AND is_active = TRUE AND effective_date <= $2
		ORDER BY effective_date DESC LIMIT 1`,
		instructorID, time.Now()).Scan(&r.InstructorID, &r.FlightInstructionCents, &r.GroundInstructionCents, &r.InstantPayoutEnabled, &r.EffectiveDate, &r.IsActive)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: payout rate for instructor %s", ErrNoActiveRate, instructorID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch payout rate: %w", err)
	}
	return &r, nil
}
