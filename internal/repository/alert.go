package repository

import (
	"context"
	"time"

	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// AlertRepository manages alerts
type AlertRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewAlertRepository creates a new AlertRepository
func NewAlertRepository(db *pgxpool.Pool, logger *zap.Logger) *AlertRepository {
	return &AlertRepository{
		db:     db,
		logger: logger,
	}
}

const alertColumns = `
	id, user_id, session_id, alert_type, severity, title, message,
	data_type, data_reference, is_acknowledged, acknowledged_by, acknowledged_at,
	is_resolved, resolved_at, created_at`

// severityOrder ranks severities for ORDER BY
const severityOrder = `
	CASE severity
		WHEN 'critical' THEN 4
		WHEN 'high' THEN 3
		WHEN 'medium' THEN 2
		WHEN 'low' THEN 1
		ELSE 0
	END`

// Create inserts an alert
func (r *AlertRepository) Create(ctx context.Context, alert *model.Alert) error {
	query := `
		INSERT INTO alerts (` + alertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := conn(ctx, r.db).Exec(ctx, query,
		alert.ID,
		alert.UserID,
		alert.SessionID,
		alert.Type,
		alert.Severity,
		alert.Title,
		alert.Message,
		nullableString(alert.DataType),
		alert.DataReference,
		alert.Acknowledged,
		alert.AcknowledgedBy,
		alert.AcknowledgedAt,
		alert.Resolved,
		alert.ResolvedAt,
		alert.CreatedAt,
	)
	if err != nil {
		r.logger.Error("failed to create alert",
			zap.Error(err),
			zap.String("user_id", alert.UserID),
			zap.String("alert_type", string(alert.Type)),
		)
		return storageError("create alert", err)
	}

	return nil
}

// GetByID retrieves an alert by ID
func (r *AlertRepository) GetByID(ctx context.Context, alertID string) (*model.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`

	alert, err := scanAlert(conn(ctx, r.db).QueryRow(ctx, query, alertID))
	if err == pgx.ErrNoRows {
		return nil, model.NotFound("alert", alertID)
	}
	if err != nil {
		r.logger.Error("failed to get alert", zap.Error(err), zap.String("alert_id", alertID))
		return nil, storageError("get alert", err)
	}

	return alert, nil
}

// Acknowledge marks an alert acknowledged. Re-acknowledging overwrites the acknowledger and timestamp.
func (r *AlertRepository) Acknowledge(ctx context.Context, alertID, acknowledgedBy string, at time.Time) (*model.Alert, error) {
	query := `
		UPDATE alerts
		SET is_acknowledged = TRUE, acknowledged_by = $1, acknowledged_at = $2
		WHERE id = $3
		RETURNING ` + alertColumns

	alert, err := scanAlert(conn(ctx, r.db).QueryRow(ctx, query, acknowledgedBy, at, alertID))
	if err == pgx.ErrNoRows {
		return nil, model.NotFound("alert", alertID)
	}
	if err != nil {
		r.logger.Error("failed to acknowledge alert", zap.Error(err), zap.String("alert_id", alertID))
		return nil, storageError("acknowledge alert", err)
	}

	return alert, nil
}

// Resolve marks an alert resolved
func (r *AlertRepository) Resolve(ctx context.Context, alertID string, at time.Time) (*model.Alert, error) {
	query := `
		UPDATE alerts
		SET is_resolved = TRUE, resolved_at = $1
		WHERE id = $2
		RETURNING ` + alertColumns

	alert, err := scanAlert(conn(ctx, r.db).QueryRow(ctx, query, at, alertID))
	if err == pgx.ErrNoRows {
		return nil, model.NotFound("alert", alertID)
	}
	if err != nil {
		r.logger.Error("failed to resolve alert", zap.Error(err), zap.String("alert_id", alertID))
		return nil, storageError("resolve alert", err)
	}

	return alert, nil
}

// ListUnacknowledged lists unacknowledged alerts, most severe first, then newest first
func (r *AlertRepository) ListUnacknowledged(ctx context.Context, filter model.AlertFilter) ([]model.Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE user_id = $1
		  AND NOT is_acknowledged
		  AND ($2::uuid IS NULL OR session_id = $2::uuid)
		ORDER BY ` + severityOrder + ` DESC, created_at DESC
	`

	rows, err := conn(ctx, r.db).Query(ctx, query, filter.UserID, filter.SessionID)
	if err != nil {
		r.logger.Error("failed to list unacknowledged alerts", zap.Error(err), zap.String("user_id", filter.UserID))
		return nil, storageError("list unacknowledged alerts", err)
	}
	defer rows.Close()

	alerts := []model.Alert{}
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			r.logger.Error("failed to scan alert", zap.Error(err))
			return nil, storageError("scan alert", err)
		}
		alerts = append(alerts, *alert)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("error iterating alerts", zap.Error(err))
		return nil, storageError("iterate alerts", err)
	}

	return alerts, nil
}

// ListBySession lists every alert raised in a session, newest first
func (r *AlertRepository) ListBySession(ctx context.Context, sessionID string) ([]model.Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE session_id = $1
		ORDER BY created_at DESC
	`

	rows, err := conn(ctx, r.db).Query(ctx, query, sessionID)
	if err != nil {
		r.logger.Error("failed to list session alerts", zap.Error(err), zap.String("session_id", sessionID))
		return nil, storageError("list session alerts", err)
	}
	defer rows.Close()

	alerts := []model.Alert{}
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			r.logger.Error("failed to scan alert", zap.Error(err))
			return nil, storageError("scan alert", err)
		}
		alerts = append(alerts, *alert)
	}

	if err := rows.Err(); err != nil {
		return nil, storageError("iterate alerts", err)
	}

	return alerts, nil
}

func scanAlert(row pgx.Row) (*model.Alert, error) {
	var (
		alert    model.Alert
		dataType *string
	)
	err := row.Scan(
		&alert.ID,
		&alert.UserID,
		&alert.SessionID,
		&alert.Type,
		&alert.Severity,
		&alert.Title,
		&alert.Message,
		&dataType,
		&alert.DataReference,
		&alert.Acknowledged,
		&alert.AcknowledgedBy,
		&alert.AcknowledgedAt,
		&alert.Resolved,
		&alert.ResolvedAt,
		&alert.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if dataType != nil {
		alert.DataType = *dataType
	}
	return &alert, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
