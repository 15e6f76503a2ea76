package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/flightdeck/backend/internal/audit"
	"github.com/flightdeck/backend/internal/events"
	"github.com/flightdeck/backend/internal/models"
)

const balanceCacheTTL = 30 * time.Second

// LedgerService is the source of truth for all money movement. A journal,
// its entries, and the balance increments for every touched wallet commit
// as one transaction or not at all.
type LedgerService struct {
	db        *sql.DB
	cache     *redis.Client
	publisher events.Publisher
	audit     *audit.Logger
}

func NewLedgerService(db *sql.DB, cache *redis.Client, publisher events.Publisher) *LedgerService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &LedgerService{
		db:        db,
		cache:     cache,
		publisher: publisher,
		audit:     audit.NewLogger(),
	}
}

// PostJournal writes a balanced set of entries atomically. (eventType,
// eventID) is the idempotency key: re-posting the same event returns the
// existing journal instead of creating a duplicate.
func (s *LedgerService) PostJournal(ctx context.Context, eventType, eventID, currency string, entries []models.EntryInput) (*models.Journal, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyJournal
	}

	var total int64
	for _, e := range entries {
		total += e.AmountCents
	}
	if total != 0 {
		return nil, fmt.Errorf("%w: total %d cents (must be 0)", ErrUnbalancedJournal, total)
	}

	if existing, err := s.findJournal(ctx, eventType, eventID); err != nil {
		return nil, err
	} else if existing != nil {
		log.Printf("[LEDGER] Duplicate journal event %s/%s, returning existing %s", eventType, eventID, existing.ID)
		return existing, nil
	}

	journal := &models.Journal{
		ID:        uuid.NewString(),
		EventType: eventType,
		EventID:   eventID,
		Currency:  currency,
		CreatedAt: time.Now(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO journals (id, event_type, event_id, currency, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		journal.ID, journal.EventType, journal.EventID, journal.Currency, journal.CreatedAt)
	if err != nil {
		// Lost a race with a concurrent post of the same event.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			if existing, ferr := s.findJournal(ctx, eventType, eventID); ferr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to insert journal: %w", err)
	}

	nets := make(map[string]int64)
	for _, e := range entries {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (journal_id, wallet_id, amount_cents, ref_type, ref_id, description, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			journal.ID, e.WalletID, e.AmountCents, e.RefType, e.RefID, e.Description, e.Metadata, journal.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to insert ledger entry: %w", err)
		}
		nets[e.WalletID] += e.AmountCents
	}

	// Apply balance increments in wallet-id order so concurrent journals
	// touching the same wallets cannot deadlock.
	walletIDs := make([]string, 0, len(nets))
	for id := range nets {
		walletIDs = append(walletIDs, id)
	}
	sort.Strings(walletIDs)

	for _, walletID := range walletIDs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO wallet_balances (wallet_id, balance_cents, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (wallet_id) DO UPDATE
			SET balance_cents = wallet_balances.balance_cents + EXCLUDED.balance_cents, updated_at = EXCLUDED.updated_at`,
			walletID, nets[walletID], time.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to update wallet balance: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit journal: %w", err)
	}

	s.audit.LogJournal(journal.ID, eventType, eventID, len(entries))
	s.invalidateBalances(ctx, walletIDs)

	if err := s.publisher.Publish(ctx, events.TopicJournalPosted, events.JournalPosted{
		JournalID:  journal.ID,
		EventType:  eventType,
		EventID:    eventID,
		EntryCount: len(entries),
		OccurredAt: journal.CreatedAt,
	}); err != nil {
		log.Printf("[LEDGER] Non-critical: failed to publish journal event: %v", err)
	}

	return journal, nil
}

func (s *LedgerService) findJournal(ctx context.Context, eventType, eventID string) (*models.Journal, error) {
	var j models.Journal
	err := s.db.QueryRowContext(ctx, `
		SELECT id, event_type, event_id, currency, created_at FROM journals
		WHERE event_type = $1 AND event_id = $2`,
		eventType, eventID).Scan(&j.ID, &j.EventType, &j.EventID, &j.Currency, &j.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up journal: %w", err)
	}
	return &j, nil
}

// GetOrCreateWallet returns the wallet id for an owner, creating it lazily.
// ownerID is nil only for the single platform wallet.
func (s *LedgerService) GetOrCreateWallet(ctx context.Context, ownerType models.WalletOwnerType, ownerID *string) (string, error) {
	id, err := s.lookupWallet(ctx, ownerType, ownerID)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}

	newID := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO wallets (id, owner_type, owner_id, created_at)
		VALUES ($1, $2, $3, $4)`,
		newID, ownerType, ownerID, time.Now())
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return s.lookupWallet(ctx, ownerType, ownerID)
		}
		return "", fmt.Errorf("failed to create wallet: %w", err)
	}
	return newID, nil
}

func (s *LedgerService) lookupWallet(ctx context.Context, ownerType models.WalletOwnerType, ownerID *string) (string, error) {
	var id string
	var err error
	if ownerID == nil {
		err = s.db.QueryRowContext(ctx,
			`SELECT id FROM wallets WHERE owner_type = $1 AND owner_id IS NULL`, ownerType).Scan(&id)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT id FROM wallets WHERE owner_type = $1 AND owner_id = $2`, ownerType, *ownerID).Scan(&id)
	}
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up wallet: %w", err)
	}
	return id, nil
}

// WalletBalance returns the cached balance in cents. Redis is consulted
// first; a miss falls through to Postgres. Absence of a balance row means
// the wallet has never been touched and reads as zero.
func (s *LedgerService) WalletBalance(ctx context.Context, walletID string) (int64, error) {
	key := balanceCacheKey(walletID)
	if s.cache != nil {
		if val, err := s.cache.Get(ctx, key).Result(); err == nil {
			if cents, perr := strconv.ParseInt(val, 10, 64); perr == nil {
				return cents, nil
			}
		}
	}

	var cents int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance_cents FROM wallet_balances WHERE wallet_id = $1`, walletID).Scan(&cents)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read wallet balance: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, strconv.FormatInt(cents, 10), balanceCacheTTL).Err(); err != nil {
			log.Printf("[LEDGER] Non-critical: balance cache set failed: %v", err)
		}
	}
	return cents, nil
}

func (s *LedgerService) PlatformBalance(ctx context.Context) (int64, error) {
	walletID, err := s.GetOrCreateWallet(ctx, models.WalletOwnerPlatform, nil)
	if err != nil {
		return 0, err
	}
	return s.WalletBalance(ctx, walletID)
}

func (s *LedgerService) StudentBalance(ctx context.Context, studentID string) (int64, error) {
	walletID, err := s.GetOrCreateWallet(ctx, models.WalletOwnerStudent, &studentID)
	if err != nil {
		return 0, err
	}
	return s.WalletBalance(ctx, walletID)
}

func (s *LedgerService) InstructorBalance(ctx context.Context, instructorID string) (int64, error) {
	walletID, err := s.GetOrCreateWallet(ctx, models.WalletOwnerInstructor, &instructorID)
	if err != nil {
		return 0, err
	}
	return s.WalletBalance(ctx, walletID)
}

// WalletEntries returns a page of a wallet's transaction history, newest
// first.
func (s *LedgerService) WalletEntries(ctx context.Context, walletID string, limit, offset int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, journal_id, wallet_id, amount_cents, ref_type, ref_id, description, metadata, created_at
		FROM ledger_entries WHERE wallet_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		walletID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.JournalID, &e.WalletID, &e.AmountCents, &e.RefType, &e.RefID, &e.Description, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// JournalEntries returns every entry of one journal.
func (s *LedgerService) JournalEntries(ctx context.Context, journalID string) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, journal_id, wallet_id, amount_cents, ref_type, ref_id, description, metadata, created_at
		FROM ledger_entries WHERE journal_id = $1 ORDER BY id`,
		journalID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch journal entries: %w", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.JournalID, &e.WalletID, &e.AmountCents, &e.RefType, &e.RefID, &e.Description, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// VerifyJournalBalance re-checks the zero-sum invariant for one journal.
func (s *LedgerService) VerifyJournalBalance(ctx context.Context, journalID string) (balanced bool, totalCents int64, entryCount int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0), COUNT(*) FROM ledger_entries WHERE journal_id = $1`,
		journalID).Scan(&totalCents, &entryCount)
	if err != nil {
		return false, 0, 0, fmt.Errorf("failed to verify journal: %w", err)
	}
	return totalCents == 0 && entryCount > 0, totalCents, entryCount, nil
}

func (s *LedgerService) invalidateBalances(ctx context.Context, walletIDs []string) {
	if s.cache == nil || len(walletIDs) == 0 {
		return
	}
	keys := make([]string, len(walletIDs))
	for i, id := range walletIDs {
		keys[i] = balanceCacheKey(id)
	}
	if err := s.cache.Del(ctx, keys...).Err(); err != nil {
		log.Printf("[LEDGER] Non-critical: balance cache invalidation failed: %v", err)
	}
}

func balanceCacheKey(walletID string) string {
	return "wallet:balance:" + walletID
}
