package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/flightdeck/backend/internal/models"
)

// AlertService owns alert state. Delivery (email/push) belongs to the
// external notification collaborator consuming these rows.
type AlertService struct {
	db *sql.DB
}

func NewAlertService(db *sql.DB) *AlertService {
	return &AlertService{db: db}
}

// CreateAlert persists an alert unless an unacknowledged one of the same
// type already exists. Repeated checks while an operator has not yet acted
// must not pile up duplicate rows.
func (s *AlertService) CreateAlert(ctx context.Context, alertType string, severity models.AlertSeverity, message string, platformBalanceCents, driftCents, thresholdCents int64) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM reserve_alerts WHERE alert_type = $1 AND acknowledged = FALSE LIMIT 1`,
		alertType).Scan(&exists)
	if err == nil {
		log.Printf("[ALERT] Unacknowledged %s alert already open, skipping", alertType)
		return false, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("failed to check for open alert: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reserve_alerts (id, alert_type, severity, message, platform_balance_cents, drift_cents, threshold_cents, acknowledged, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)`,
		uuid.NewString(), alertType, severity, message, platformBalanceCents, driftCents, thresholdCents, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to insert alert: %w", err)
	}

	log.Printf("[ALERT] %s %s: %s", severity, alertType, message)
	return true, nil
}

// GetUnacknowledgedAlerts returns open alerts, newest first.
func (s *AlertService) GetUnacknowledgedAlerts(ctx context.Context) ([]models.ReserveAlert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, alert_type, severity, message, platform_balance_cents, drift_cents, threshold_cents, acknowledged, acknowledged_by, acknowledged_at, resolution_notes, created_at
		FROM reserve_alerts WHERE acknowledged = FALSE
		ORDER BY created_at DESC LIMIT 20`)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.ReserveAlert
	for rows.Next() {
		var a models.ReserveAlert
		if err := rows.Scan(&a.ID, &a.AlertType, &a.Severity, &a.Message, &a.PlatformBalanceCents, &a.DriftCents, &a.ThresholdCents, &a.Acknowledged, &a.AcknowledgedBy, &a.AcknowledgedAt, &a.ResolutionNotes, &a.CreatedAt); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// AcknowledgeAlert marks an alert handled by an operator.
func (s *AlertService) AcknowledgeAlert(ctx context.Context, alertID, userID, notes string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reserve_alerts
		SET acknowledged = TRUE, acknowledged_by = $2, acknowledged_at = $3, resolution_notes = $4
		WHERE id = $1 AND acknowledged = FALSE`,
		alertID, userID, time.Now(), notes)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("alert %s not found or already acknowledged", alertID)
	}
	return nil
}
