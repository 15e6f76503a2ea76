package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestHoursToCents(t *testing.T) {
	assert.Equal(t, int64(18000), hoursToCents(1.5, 12000))
	assert.Equal(t, int64(0), hoursToCents(0, 12000))
	// 1.1h at $65/h rounds to the nearest cent.
	assert.Equal(t, int64(7150), hoursToCents(1.1, 6500))
}

func TestBillingService_ProcessFlightCompletionBilling(t *testing.T) {
	ctx := context.Background()

	newFixture := func(t *testing.T) (*BillingService, sqlmock.Sqlmock, func()) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		ledger := NewLedgerService(db, nil, nil)
		outbox := NewOutboxService(db, &MockProcessor{}, nil, testOutboxConfig())
		service := NewBillingService(db, ledger, outbox, testOutboxConfig())
		return service, dbMock, func() { db.Close() }
	}

	expectRates := func(m sqlmock.Sqlmock, billingFlight, payoutFlight int64) {
		m.ExpectQuery("SELECT student_id, instructor_id, flight_instruction_cents").
			WillReturnRows(sqlmock.NewRows([]string{
				"student_id", "instructor_id", "flight_instruction_cents",
				"ground_instruction_cents", "effective_date", "is_active",
			}).AddRow("s-1", "inst-1", billingFlight, int64(6000), time.Now(), true))
		m.ExpectQuery("SELECT instructor_id, flight_instruction_cents").
			WillReturnRows(sqlmock.NewRows([]string{
				"instructor_id", "flight_instruction_cents", "ground_instruction_cents",
				"instant_payout_enabled", "effective_date", "is_active",
			}).AddRow("inst-1", payoutFlight, int64(4000), false, time.Now(), true))
	}

	expectWallet := func(m sqlmock.Sqlmock, walletID string) {
		m.ExpectQuery("SELECT id FROM wallets").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(walletID))
	}

	t.Run("posts the three-way split and enqueues the payout", func(t *testing.T) {
		service, dbMock, teardown := newFixture(t)
		defer teardown()

		expectRates(dbMock, 12000, 8000)
		expectWallet(dbMock, "w-student")
		expectWallet(dbMock, "w-instructor")
		expectWallet(dbMock, "w-platform")

		// Pre-check, then the idempotency lookup inside the journal post.
		dbMock.ExpectQuery("SELECT id, event_type, event_id, currency, created_at FROM journals").
			WillReturnError(sql.ErrNoRows)
		dbMock.ExpectQuery("SELECT id, event_type, event_id, currency, created_at FROM journals").
			WillReturnError(sql.ErrNoRows)
		dbMock.ExpectBegin()
		dbMock.ExpectExec("INSERT INTO journals").
			WillReturnResult(sqlmock.NewResult(1, 1))
		for i := 0; i < 3; i++ {
			dbMock.ExpectExec("INSERT INTO ledger_entries").
				WillReturnResult(sqlmock.NewResult(int64(i+1), 1))
		}
		for i := 0; i < 3; i++ {
			dbMock.ExpectExec("INSERT INTO wallet_balances").
				WillReturnResult(sqlmock.NewResult(0, 1))
		}
		dbMock.ExpectCommit()
		dbMock.ExpectExec("INSERT INTO payment_outbox").
			WillReturnResult(sqlmock.NewResult(1, 1))

		result, err := service.ProcessFlightCompletionBilling(ctx, FlightBillingRequest{
			FlightSessionID:     "fs-1",
			StudentID:           "s-1",
			InstructorID:        "inst-1",
			FlightHours:         1.5,
			GroundHours:         0.5,
			AircraftRentalCents: 5000,
		})
		assert.NoError(t, err)
		// 1.5h * 12000 + 0.5h * 6000 + 5000 rental = 26000 charge
		// 1.5h * 8000 + 0.5h * 4000 = 14000 payout, 12000 margin
		assert.Equal(t, int64(26000), result.StudentChargeCents)
		assert.Equal(t, int64(14000), result.InstructorPayoutCents)
		assert.Equal(t, int64(12000), result.PlatformMarginCents)
		assert.NotEmpty(t, result.OutboxID)
		assert.False(t, result.AlreadyBilled)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("no active billing rate fails the run", func(t *testing.T) {
		service, dbMock, teardown := newFixture(t)
		defer teardown()

		dbMock.ExpectQuery("SELECT student_id, instructor_id, flight_instruction_cents").
			WillReturnError(sql.ErrNoRows)

		_, err := service.ProcessFlightCompletionBilling(ctx, FlightBillingRequest{
			FlightSessionID: "fs-2",
			StudentID:       "s-1",
			InstructorID:    "inst-1",
			FlightHours:     1.0,
		})
		assert.ErrorIs(t, err, ErrNoActiveRate)
	})

	t.Run("payout rate above billing rate is rejected", func(t *testing.T) {
		service, dbMock, teardown := newFixture(t)
		defer teardown()

		expectRates(dbMock, 8000, 12000)

		_, err := service.ProcessFlightCompletionBilling(ctx, FlightBillingRequest{
			FlightSessionID: "fs-3",
			StudentID:       "s-1",
			InstructorID:    "inst-1",
			FlightHours:     1.0,
		})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "margin")
	})

	t.Run("re-billing the same session reuses the journal", func(t *testing.T) {
		service, dbMock, teardown := newFixture(t)
		defer teardown()

		expectRates(dbMock, 12000, 8000)
		expectWallet(dbMock, "w-student")
		expectWallet(dbMock, "w-instructor")
		expectWallet(dbMock, "w-platform")

		existing := sqlmock.NewRows([]string{"id", "event_type", "event_id", "currency", "created_at"}).
			AddRow("j-existing", "flight_completion", "fs-4", "usd", time.Now())
		dbMock.ExpectQuery("SELECT id, event_type, event_id, currency, created_at FROM journals").
			WillReturnRows(existing)
		dbMock.ExpectQuery("SELECT id, event_type, event_id, currency, created_at FROM journals").
			WillReturnRows(sqlmock.NewRows([]string{"id", "event_type", "event_id", "currency", "created_at"}).
				AddRow("j-existing", "flight_completion", "fs-4", "usd", time.Now()))
		dbMock.ExpectExec("INSERT INTO payment_outbox").
			WillReturnResult(sqlmock.NewResult(1, 1))

		result, err := service.ProcessFlightCompletionBilling(ctx, FlightBillingRequest{
			FlightSessionID: "fs-4",
			StudentID:       "s-1",
			InstructorID:    "inst-1",
			FlightHours:     1.5,
		})
		assert.NoError(t, err)
		assert.True(t, result.AlreadyBilled)
		assert.Equal(t, "j-existing", result.JournalID)
	})
}

func TestAdjustmentService_AdjustFlightSession(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ledger := NewLedgerService(db, nil, nil)
	outbox := NewOutboxService(db, &MockProcessor{}, nil, testOutboxConfig())
	service := NewAdjustmentService(ledger, outbox, testOutboxConfig())

	t.Run("refuses an adjustment that moves no money", func(t *testing.T) {
		_, err := service.AdjustFlightSession(context.Background(), AdjustmentRequest{
			AdjustmentID:    "adj-1",
			FlightSessionID: "fs-1",
			StudentID:       "s-1",
			InstructorID:    "inst-1",
			Reason:          "noop",
		})
		assert.Error(t, err)
	})

	t.Run("posts an offsetting journal for a partial refund", func(t *testing.T) {
		for _, w := range []string{"w-student", "w-instructor", "w-platform"} {
			dbMock.ExpectQuery("SELECT id FROM wallets").
				WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(w))
		}
		dbMock.ExpectQuery("SELECT id, event_type, event_id, currency, created_at FROM journals").
			WillReturnError(sql.ErrNoRows)
		dbMock.ExpectBegin()
		dbMock.ExpectExec("INSERT INTO journals").
			WillReturnResult(sqlmock.NewResult(1, 1))
		for i := 0; i < 3; i++ {
			dbMock.ExpectExec("INSERT INTO ledger_entries").
				WillReturnResult(sqlmock.NewResult(int64(i+1), 1))
		}
		for i := 0; i < 3; i++ {
			dbMock.ExpectExec("INSERT INTO wallet_balances").
				WillReturnResult(sqlmock.NewResult(0, 1))
		}
		dbMock.ExpectCommit()

		journal, err := service.AdjustFlightSession(context.Background(), AdjustmentRequest{
			AdjustmentID:          "adj-2",
			FlightSessionID:       "fs-1",
			StudentID:             "s-1",
			InstructorID:          "inst-1",
			StudentRefundCents:    3000,
			InstructorClawedCents: 2000,
			Reason:                "session cut short",
		})
		assert.NoError(t, err)
		assert.Equal(t, "flight_adjustment", journal.EventType)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}

func TestAdjustmentService_RecordTransferClawback(t *testing.T) {
	transferColumns := []string{
		"id", "outbox_id", "instructor_id", "stripe_transfer_id", "stripe_account_id",
		"amount_cents", "currency", "transfer_type", "status", "flight_session_id",
		"journal_id", "is_clawback_eligible", "clawback_window_ends_at",
		"failure_message", "settled_at", "created_at",
	}

	newFixture := func(t *testing.T) (*AdjustmentService, sqlmock.Sqlmock, func()) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		ledger := NewLedgerService(db, nil, nil)
		outbox := NewOutboxService(db, &MockProcessor{}, nil, testOutboxConfig())
		service := NewAdjustmentService(ledger, outbox, testOutboxConfig())
		return service, dbMock, func() { db.Close() }
	}

	t.Run("inside the window books the offsetting journal", func(t *testing.T) {
		service, dbMock, teardown := newFixture(t)
		defer teardown()

		windowEnd := time.Now().Add(24 * time.Hour)
		dbMock.ExpectQuery("SELECT id, outbox_id, instructor_id").
			WithArgs("tr_1").
			WillReturnRows(sqlmock.NewRows(transferColumns).AddRow(
				"t-1", "o-1", "inst-1", "tr_1", "acct_123",
				int64(9000), "usd", "standard", "paid", "fs-1",
				"j-1", true, windowEnd, nil, time.Now(), time.Now()))

		for _, w := range []string{"w-instructor", "w-platform"} {
			dbMock.ExpectQuery("SELECT id FROM wallets").
				WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(w))
		}
		dbMock.ExpectQuery("SELECT id, event_type, event_id, currency, created_at FROM journals").
			WillReturnError(sql.ErrNoRows)
		dbMock.ExpectBegin()
		dbMock.ExpectExec("INSERT INTO journals").
			WillReturnResult(sqlmock.NewResult(1, 1))
		dbMock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnResult(sqlmock.NewResult(1, 1))
		dbMock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnResult(sqlmock.NewResult(2, 1))
		dbMock.ExpectExec("INSERT INTO wallet_balances").
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectExec("INSERT INTO wallet_balances").
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectCommit()

		journal, err := service.RecordTransferClawback(context.Background(), "tr_1", "dp_1", "fraudulent", 9000)
		assert.NoError(t, err)
		assert.Equal(t, "charge_dispute", journal.EventType)
		assert.Equal(t, "dp_1", journal.EventID)
	})

	t.Run("outside the window refuses automatic clawback", func(t *testing.T) {
		service, dbMock, teardown := newFixture(t)
		defer teardown()

		windowEnd := time.Now().Add(-1 * time.Hour)
		dbMock.ExpectQuery("SELECT id, outbox_id, instructor_id").
			WithArgs("tr_2").
			WillReturnRows(sqlmock.NewRows(transferColumns).AddRow(
				"t-2", "o-2", "inst-1", "tr_2", "acct_123",
				int64(9000), "usd", "standard", "paid", "fs-2",
				"j-2", true, windowEnd, nil, time.Now(), time.Now()))

		_, err := service.RecordTransferClawback(context.Background(), "tr_2", "dp_2", "fraudulent", 9000)
		assert.ErrorIs(t, err, ErrClawbackWindowClosed)
	})

	t.Run("clawback larger than the transfer is rejected", func(t *testing.T) {
		service, dbMock, teardown := newFixture(t)
		defer teardown()

		windowEnd := time.Now().Add(24 * time.Hour)
		dbMock.ExpectQuery("SELECT id, outbox_id, instructor_id").
			WithArgs("tr_3").
			WillReturnRows(sqlmock.NewRows(transferColumns).AddRow(
				"t-3", "o-3", "inst-1", "tr_3", "acct_123",
				int64(9000), "usd", "standard", "paid", "fs-3",
				"j-3", true, windowEnd, nil, time.Now(), time.Now()))

		_, err := service.RecordTransferClawback(context.Background(), "tr_3", "dp_3", "fraudulent", 20000)
		assert.Error(t, err)
	})
}
