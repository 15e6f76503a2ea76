package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/flightdeck/backend/internal/audit"
	"github.com/flightdeck/backend/internal/config"
	"github.com/flightdeck/backend/internal/models"
	"github.com/flightdeck/backend/internal/payments"
)

const reserveSnapshotKey = "reserve:status"
const reserveSnapshotTTL = 60 * time.Second

type ReserveHealth string

const (
	ReserveHealthy  ReserveHealth = "healthy"
	ReserveWarning  ReserveHealth = "warning"
	ReserveCritical ReserveHealth = "critical"
)

// ReserveStatus is the result of one platform reserve check. The ledger is
// the source of truth for the reserve figure; the processor balance is
// compared against it for drift, never summed into it.
type ReserveStatus struct {
	CurrentReserveCents  int64         `json:"current_reserve_cents"`
	MinimumRequiredCents int64         `json:"minimum_required_cents"`
	Status               ReserveHealth `json:"status"`
	ShouldBlockTransfers bool          `json:"should_block_transfers"`
	Message              string        `json:"message"`
	DriftCents           int64         `json:"drift_cents"`
	CheckedAt            time.Time     `json:"checked_at"`
}

// ReserveService compares the platform wallet against the processor's
// reported cash position and raises deduplicated alerts.
type ReserveService struct {
	ledger    *LedgerService
	processor payments.Client
	alerts    *AlertService
	cache     *redis.Client
	cfg       *config.ReserveConfig
	audit     *audit.Logger
}

func NewReserveService(ledger *LedgerService, processor payments.Client, alerts *AlertService, cache *redis.Client, cfg *config.ReserveConfig) *ReserveService {
	if cfg == nil {
		cfg = config.LoadReserveConfig()
	}
	return &ReserveService{
		ledger:    ledger,
		processor: processor,
		alerts:    alerts,
		cache:     cache,
		cfg:       cfg,
		audit:     audit.NewLogger(),
	}
}

// CheckPlatformReserve reads the platform's ledger balance and the
// processor balance, classifies reserve health, and persists alerts.
// should_block_transfers is true only in the critical case.
func (s *ReserveService) CheckPlatformReserve(ctx context.Context) (*ReserveStatus, error) {
	platformCents, err := s.ledger.PlatformBalance(ctx)
	if err != nil {
		return nil, err
	}

	balance, err := s.processor.Balance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query processor balance: %w", err)
	}

	drift := platformCents - balance.AvailableCents
	absDrift := drift
	if absDrift < 0 {
		absDrift = -absDrift
	}

	status := &ReserveStatus{
		CurrentReserveCents:  platformCents,
		MinimumRequiredCents: s.cfg.MinimumReserveCents,
		Status:               ReserveHealthy,
		Message:              "platform reserve is healthy",
		DriftCents:           drift,
		CheckedAt:            time.Now(),
	}

	if absDrift > s.cfg.DriftWarningCents {
		severity := models.SeverityWarning
		if absDrift > s.cfg.DriftCriticalCents {
			severity = models.SeverityCritical
		}
		s.audit.LogDrift(platformCents, balance.AvailableCents, drift)
		msg := fmt.Sprintf("reserve drift: platform ledger shows %d cents, processor shows %d cents, drift %d cents",
			platformCents, balance.AvailableCents, drift)
		if _, aerr := s.alerts.CreateAlert(ctx, models.AlertDriftDetected, severity, msg, platformCents, drift, s.cfg.DriftWarningCents); aerr != nil {
			log.Printf("[RESERVE] Non-critical: failed to persist drift alert: %v", aerr)
		}
	}

	switch {
	case platformCents < s.cfg.CriticalThresholdCents || absDrift > s.cfg.DriftCriticalCents:
		status.Status = ReserveCritical
		status.ShouldBlockTransfers = s.cfg.BlockTransfersWhenCritical
		status.Message = fmt.Sprintf("CRITICAL: platform reserve at %d cents (threshold %d), drift %d cents",
			platformCents, s.cfg.CriticalThresholdCents, drift)
		if _, aerr := s.alerts.CreateAlert(ctx, models.AlertCriticalThreshold, models.SeverityCritical, status.Message, platformCents, drift, s.cfg.CriticalThresholdCents); aerr != nil {
			log.Printf("[RESERVE] Non-critical: failed to persist critical alert: %v", aerr)
		}
	case platformCents < s.cfg.WarningThresholdCents || absDrift > s.cfg.DriftWarningCents:
		status.Status = ReserveWarning
		status.Message = fmt.Sprintf("WARNING: platform reserve at %d cents (threshold %d), drift %d cents",
			platformCents, s.cfg.WarningThresholdCents, drift)
		if _, aerr := s.alerts.CreateAlert(ctx, models.AlertWarningThreshold, models.SeverityWarning, status.Message, platformCents, drift, s.cfg.WarningThresholdCents); aerr != nil {
			log.Printf("[RESERVE] Non-critical: failed to persist warning alert: %v", aerr)
		}
	}

	s.storeSnapshot(ctx, status)
	return status, nil
}

// TransfersBlocked is the fast-path question the payout worker asks each
// cycle. It serves the last snapshot when fresh and only falls back to a
// full check when the cache is cold.
func (s *ReserveService) TransfersBlocked(ctx context.Context) bool {
	if snap := s.loadSnapshot(ctx); snap != nil {
		return snap.ShouldBlockTransfers
	}
	status, err := s.CheckPlatformReserve(ctx)
	if err != nil {
		// Fail open: a monitoring outage must not silently freeze payouts.
		log.Printf("[RESERVE] Check failed, not blocking transfers: %v", err)
		return false
	}
	return status.ShouldBlockTransfers
}

func (s *ReserveService) storeSnapshot(ctx context.Context, status *ReserveStatus) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(status)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, reserveSnapshotKey, data, reserveSnapshotTTL).Err(); err != nil {
		log.Printf("[RESERVE] Non-critical: snapshot cache set failed: %v", err)
	}
}

func (s *ReserveService) loadSnapshot(ctx context.Context) *ReserveStatus {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.Get(ctx, reserveSnapshotKey).Bytes()
	if err != nil {
		return nil
	}
	var status ReserveStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil
	}
	return &status
}
