package config

import (
	"os"
	"strconv"
	"time"
)

// ReserveConfig controls the platform cash-reserve monitor. All amounts in
// cents. Transfers are only blocked in the critical case.
type ReserveConfig struct {
	MinimumReserveCents        int64
	WarningThresholdCents      int64
	CriticalThresholdCents     int64
	DriftWarningCents          int64
	DriftCriticalCents         int64
	BlockTransfersWhenCritical bool
}

func LoadReserveConfig() *ReserveConfig {
	return &ReserveConfig{
		MinimumReserveCents:        getEnvAsInt64("RESERVE_MINIMUM_CENTS", 100000),
		WarningThresholdCents:      getEnvAsInt64("RESERVE_WARNING_CENTS", 250000),
		CriticalThresholdCents:     getEnvAsInt64("RESERVE_CRITICAL_CENTS", 100000),
		DriftWarningCents:          getEnvAsInt64("RESERVE_DRIFT_WARNING_CENTS", 1000),
		DriftCriticalCents:         getEnvAsInt64("RESERVE_DRIFT_CRITICAL_CENTS", 10000),
		BlockTransfersWhenCritical: getEnvAsBool("RESERVE_BLOCK_WHEN_CRITICAL", true),
	}
}

// CreditConfig holds the classification bands for student credit usage.
// Band edges are percentages of the (negative) credit limit.
type CreditConfig struct {
	DefaultLimitCents   int64
	WarningThresholdPct float64
	UrgentThresholdPct  float64
	EscalatedLimitCents int64
}

func LoadCreditConfig() *CreditConfig {
	return &CreditConfig{
		DefaultLimitCents:   getEnvAsInt64("CREDIT_DEFAULT_LIMIT_CENTS", -20000),
		WarningThresholdPct: getEnvAsFloat("CREDIT_WARNING_PCT", 80.0),
		UrgentThresholdPct:  getEnvAsFloat("CREDIT_URGENT_PCT", 95.0),
		EscalatedLimitCents: getEnvAsInt64("CREDIT_ESCALATED_LIMIT_CENTS", -50000),
	}
}

// OutboxConfig tunes the payout worker.
type OutboxConfig struct {
	MaxAttempts    int
	PollInterval   time.Duration
	BatchSize      int
	ProcessTimeout time.Duration
	ClawbackWindow time.Duration
	Currency       string
}

func LoadOutboxConfig() *OutboxConfig {
	return &OutboxConfig{
		MaxAttempts:    getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 5),
		PollInterval:   getEnvAsDuration("OUTBOX_POLL_INTERVAL", 30*time.Second),
		BatchSize:      getEnvAsInt("OUTBOX_BATCH_SIZE", 20),
		ProcessTimeout: getEnvAsDuration("OUTBOX_PROCESS_TIMEOUT", 30*time.Second),
		ClawbackWindow: getEnvAsDuration("CLAWBACK_WINDOW", 72*time.Hour),
		Currency:       getEnv("PAYOUT_CURRENCY", "usd"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if floatVal, err := strconv.ParseFloat(val, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
