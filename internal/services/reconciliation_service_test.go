package services

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/flightdeck/backend/internal/payments"
)

func newReconciliationFixture(t *testing.T) (*ReconciliationService, sqlmock.Sqlmock, *MockProcessor, func()) {
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)

	processor := &MockProcessor{}
	ledger := NewLedgerService(db, nil, nil)
	alerts := NewAlertService(db)
	service := NewReconciliationService(db, ledger, processor, alerts)
	return service, dbMock, processor, func() { db.Close() }
}

func TestReconciliationService_ReconcileWalletBalances(t *testing.T) {
	t.Run("matching balances produce no mismatches", func(t *testing.T) {
		service, dbMock, _, teardown := newReconciliationFixture(t)
		defer teardown()

		dbMock.ExpectQuery("SELECT b.wallet_id, b.balance_cents").
			WillReturnRows(sqlmock.NewRows([]string{"wallet_id", "balance_cents", "sum"}).
				AddRow("w-1", int64(1000), int64(1000)).
				AddRow("w-2", int64(-500), int64(-500)))

		report, err := service.ReconcileWalletBalances(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, 2, report.WalletsChecked)
		assert.Empty(t, report.Mismatches)
	})

	t.Run("mismatch raises an alert and leaves data untouched", func(t *testing.T) {
		service, dbMock, _, teardown := newReconciliationFixture(t)
		defer teardown()

		dbMock.ExpectQuery("SELECT b.wallet_id, b.balance_cents").
			WillReturnRows(sqlmock.NewRows([]string{"wallet_id", "balance_cents", "sum"}).
				AddRow("w-drifted", int64(1000), int64(900)))
		dbMock.ExpectQuery("SELECT 1 FROM reserve_alerts").
			WithArgs("balance_mismatch").
			WillReturnError(sql.ErrNoRows)
		dbMock.ExpectExec("INSERT INTO reserve_alerts").
			WillReturnResult(sqlmock.NewResult(1, 1))

		report, err := service.ReconcileWalletBalances(context.Background())
		assert.NoError(t, err)
		assert.Len(t, report.Mismatches, 1)
		assert.Equal(t, "w-drifted", report.Mismatches[0].WalletID)
		assert.Equal(t, int64(1000), report.Mismatches[0].CachedCents)
		assert.Equal(t, int64(900), report.Mismatches[0].ComputedCents)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}

func TestReconciliationService_PerformDailyReconciliation(t *testing.T) {
	expectOwnerTotals := func(m sqlmock.Sqlmock, platform, students, instructors int64) {
		m.ExpectQuery("SELECT id FROM wallets").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("w-platform"))
		m.ExpectQuery("SELECT balance_cents FROM wallet_balances").
			WillReturnRows(sqlmock.NewRows([]string{"balance_cents"}).AddRow(platform))
		m.ExpectQuery("SELECT COALESCE").
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(students))
		m.ExpectQuery("SELECT COALESCE").
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(instructors))
	}

	t.Run("balanced ledger with matching cash", func(t *testing.T) {
		service, dbMock, processor, teardown := newReconciliationFixture(t)
		defer teardown()

		// Platform holds what students owe minus what instructors are due.
		expectOwnerTotals(dbMock, 300000, -100000, -200000)
		processor.On("Balance", mock.Anything).
			Return(&payments.Balance{AvailableCents: 300000, PendingCents: 0}, nil)
		dbMock.ExpectExec("INSERT INTO reserve_reconciliations").
			WillReturnResult(sqlmock.NewResult(1, 1))

		rec, err := service.PerformDailyReconciliation(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, "balanced", rec.Status)
		assert.Equal(t, int64(0), rec.LedgerSumCents)
		assert.Equal(t, int64(0), rec.DriftCents)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("drift beyond hard ceiling records critical error", func(t *testing.T) {
		service, dbMock, processor, teardown := newReconciliationFixture(t)
		defer teardown()

		expectOwnerTotals(dbMock, 300000, -100000, -200000)
		processor.On("Balance", mock.Anything).
			Return(&payments.Balance{AvailableCents: 250000, PendingCents: 0}, nil)
		dbMock.ExpectExec("INSERT INTO reserve_reconciliations").
			WillReturnResult(sqlmock.NewResult(1, 1))
		dbMock.ExpectQuery("SELECT 1 FROM reserve_alerts").
			WithArgs("drift_detected").
			WillReturnError(sql.ErrNoRows)
		dbMock.ExpectExec("INSERT INTO reserve_alerts").
			WillReturnResult(sqlmock.NewResult(1, 1))

		rec, err := service.PerformDailyReconciliation(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, "critical_error", rec.Status)
		assert.Equal(t, int64(50000), rec.DriftCents)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}
