package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"

	"github.com/flightdeck/backend/internal/models"
)

func TestLedgerService_PostJournal(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db, nil, nil)
	ctx := context.Background()

	t.Run("rejects empty journal", func(t *testing.T) {
		_, err := service.PostJournal(ctx, "flight_completion", "fs-1", "usd", nil)
		assert.ErrorIs(t, err, ErrEmptyJournal)
	})

	t.Run("rejects unbalanced entries", func(t *testing.T) {
		entries := []models.EntryInput{
			{WalletID: "w-student", AmountCents: -500, RefType: "flight_session"},
			{WalletID: "w-instructor", AmountCents: 400, RefType: "flight_session"},
		}
		_, err := service.PostJournal(ctx, "flight_completion", "fs-2", "usd", entries)
		assert.ErrorIs(t, err, ErrUnbalancedJournal)
		assert.Contains(t, err.Error(), "-100")
	})

	t.Run("posts balanced journal atomically", func(t *testing.T) {
		entries := []models.EntryInput{
			{WalletID: "w-student", AmountCents: -500, RefType: "flight_session", RefID: "fs-3"},
			{WalletID: "w-instructor", AmountCents: 500, RefType: "flight_session", RefID: "fs-3"},
		}

		mock.ExpectQuery("SELECT id, event_type, event_id, currency, created_at FROM journals").
			WithArgs("flight_completion", "fs-3").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO journals").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnResult(sqlmock.NewResult(2, 1))
		// Balance upserts happen in sorted wallet-id order.
		mock.ExpectExec("INSERT INTO wallet_balances").
			WithArgs("w-instructor", int64(500), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO wallet_balances").
			WithArgs("w-student", int64(-500), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		journal, err := service.PostJournal(ctx, "flight_completion", "fs-3", "usd", entries)
		assert.NoError(t, err)
		assert.NotEmpty(t, journal.ID)
		assert.Equal(t, "flight_completion", journal.EventType)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("re-posting same event returns existing journal", func(t *testing.T) {
		entries := []models.EntryInput{
			{WalletID: "w-student", AmountCents: -500, RefType: "flight_session"},
			{WalletID: "w-instructor", AmountCents: 500, RefType: "flight_session"},
		}

		mock.ExpectQuery("SELECT id, event_type, event_id, currency, created_at FROM journals").
			WithArgs("flight_completion", "fs-4").
			WillReturnRows(sqlmock.NewRows([]string{"id", "event_type", "event_id", "currency", "created_at"}).
				AddRow("existing-journal", "flight_completion", "fs-4", "usd", time.Now()))

		journal, err := service.PostJournal(ctx, "flight_completion", "fs-4", "usd", entries)
		assert.NoError(t, err)
		assert.Equal(t, "existing-journal", journal.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back when an entry insert fails", func(t *testing.T) {
		entries := []models.EntryInput{
			{WalletID: "w-student", AmountCents: -500, RefType: "flight_session"},
			{WalletID: "w-instructor", AmountCents: 500, RefType: "flight_session"},
		}

		mock.ExpectQuery("SELECT id, event_type, event_id, currency, created_at FROM journals").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO journals").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		_, err := service.PostJournal(ctx, "flight_completion", "fs-5", "usd", entries)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_WalletBalance(t *testing.T) {
	t.Run("cache hit skips the database", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewLedgerService(db, redisClient, nil)

		redisMock.ExpectGet("wallet:balance:w-1").SetVal("12345")

		cents, err := service.WalletBalance(context.Background(), "w-1")
		assert.NoError(t, err)
		assert.Equal(t, int64(12345), cents)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cache miss falls through to postgres and backfills", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewLedgerService(db, redisClient, nil)

		redisMock.ExpectGet("wallet:balance:w-2").RedisNil()
		mock.ExpectQuery("SELECT balance_cents FROM wallet_balances").
			WithArgs("w-2").
			WillReturnRows(sqlmock.NewRows([]string{"balance_cents"}).AddRow(int64(-700)))
		redisMock.ExpectSet("wallet:balance:w-2", "-700", balanceCacheTTL).SetVal("OK")

		cents, err := service.WalletBalance(context.Background(), "w-2")
		assert.NoError(t, err)
		assert.Equal(t, int64(-700), cents)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("untouched wallet reads as zero", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewLedgerService(db, nil, nil)

		mock.ExpectQuery("SELECT balance_cents FROM wallet_balances").
			WithArgs("w-new").
			WillReturnError(sql.ErrNoRows)

		cents, err := service.WalletBalance(context.Background(), "w-new")
		assert.NoError(t, err)
		assert.Equal(t, int64(0), cents)
	})
}

func TestLedgerService_GetOrCreateWallet(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db, nil, nil)
	ctx := context.Background()

	t.Run("returns existing wallet", func(t *testing.T) {
		studentID := "student-1"
		mock.ExpectQuery("SELECT id FROM wallets").
			WithArgs(models.WalletOwnerStudent, studentID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("w-existing"))

		id, err := service.GetOrCreateWallet(ctx, models.WalletOwnerStudent, &studentID)
		assert.NoError(t, err)
		assert.Equal(t, "w-existing", id)
	})

	t.Run("creates platform wallet with null owner", func(t *testing.T) {
		mock.ExpectQuery("SELECT id FROM wallets").
			WithArgs(models.WalletOwnerPlatform).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec("INSERT INTO wallets").
			WillReturnResult(sqlmock.NewResult(1, 1))

		id, err := service.GetOrCreateWallet(ctx, models.WalletOwnerPlatform, nil)
		assert.NoError(t, err)
		assert.NotEmpty(t, id)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_VerifyJournalBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db, nil, nil)

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("j-1").
		WillReturnRows(sqlmock.NewRows([]string{"sum", "count"}).AddRow(int64(0), 3))

	balanced, total, count, err := service.VerifyJournalBalance(context.Background(), "j-1")
	assert.NoError(t, err)
	assert.True(t, balanced)
	assert.Equal(t, int64(0), total)
	assert.Equal(t, 3, count)
}
