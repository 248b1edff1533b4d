package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// SessionRepository manages monitoring sessions
type SessionRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(db *pgxpool.Pool, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{
		db:     db,
		logger: logger,
	}
}

const sessionColumns = `
	id, user_id, provider_id, session_type, status,
	started_at, ended_at, parameters, alert_thresholds, notes,
	created_at, updated_at`

// Create inserts a new session. A second active session for the same user
// violates idx_monitoring_sessions_one_active and yields model.ErrConflict.
func (r *SessionRepository) Create(ctx context.Context, session *model.MonitoringSession) error {
	params, err := json.Marshal(nonNilParams(session.Parameters))
	if err != nil {
		return fmt.Errorf("failed to encode session parameters: %w", err)
	}
	thresholds, err := encodeThresholds(session.Thresholds)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO monitoring_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = conn(ctx, r.db).Exec(ctx, query,
		session.ID,
		session.UserID,
		session.ProviderID,
		session.Type,
		session.Status,
		session.StartedAt,
		session.EndedAt,
		params,
		thresholds,
		session.Notes,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("failed to create monitoring session",
			zap.Error(err),
			zap.String("user_id", session.UserID),
		)
		return storageError("create monitoring session", err)
	}

	return nil
}

// GetByID retrieves a session by ID
func (r *SessionRepository) GetByID(ctx context.Context, sessionID string) (*model.MonitoringSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM monitoring_sessions WHERE id = $1`

	session, err := scanSession(conn(ctx, r.db).QueryRow(ctx, query, sessionID))
	if err == pgx.ErrNoRows {
		return nil, model.NotFound("monitoring session", sessionID)
	}
	if err != nil {
		r.logger.Error("failed to get monitoring session", zap.Error(err), zap.String("session_id", sessionID))
		return nil, storageError("get monitoring session", err)
	}

	return session, nil
}

// LockByID reads a session with a share lock, so UpdateStatus waits for the caller's transaction
func (r *SessionRepository) LockByID(ctx context.Context, sessionID string) (*model.MonitoringSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM monitoring_sessions WHERE id = $1 FOR SHARE`

	session, err := scanSession(conn(ctx, r.db).QueryRow(ctx, query, sessionID))
	if err == pgx.ErrNoRows {
		return nil, model.NotFound("monitoring session", sessionID)
	}
	if err != nil {
		r.logger.Error("failed to lock monitoring session", zap.Error(err), zap.String("session_id", sessionID))
		return nil, storageError("lock monitoring session", err)
	}

	return session, nil
}

// GetActiveByUserID returns the most recently created active session, or nil when there is none
func (r *SessionRepository) GetActiveByUserID(ctx context.Context, userID string) (*model.MonitoringSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM monitoring_sessions
		WHERE user_id = $1 AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1
	`

	session, err := scanSession(conn(ctx, r.db).QueryRow(ctx, query, userID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("failed to get active monitoring session", zap.Error(err), zap.String("user_id", userID))
		return nil, storageError("get active monitoring session", err)
	}

	return session, nil
}

// ListByUserID lists a user's sessions, newest first
func (r *SessionRepository) ListByUserID(ctx context.Context, userID string) ([]model.MonitoringSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM monitoring_sessions
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := conn(ctx, r.db).Query(ctx, query, userID)
	if err != nil {
		r.logger.Error("failed to list monitoring sessions", zap.Error(err), zap.String("user_id", userID))
		return nil, storageError("list monitoring sessions", err)
	}
	defer rows.Close()

	var sessions []model.MonitoringSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			r.logger.Error("failed to scan monitoring session", zap.Error(err))
			return nil, storageError("scan monitoring session", err)
		}
		sessions = append(sessions, *session)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("error iterating monitoring sessions", zap.Error(err))
		return nil, storageError("iterate monitoring sessions", err)
	}

	return sessions, nil
}

// UpdateStatus sets the session status and end time
func (r *SessionRepository) UpdateStatus(ctx context.Context, sessionID string, status model.SessionStatus, endedAt *time.Time) error {
	query := `
		UPDATE monitoring_sessions
		SET status = $1, ended_at = $2, updated_at = NOW()
		WHERE id = $3
	`

	result, err := conn(ctx, r.db).Exec(ctx, query, status, endedAt, sessionID)
	if err != nil {
		r.logger.Error("failed to update monitoring session status",
			zap.Error(err),
			zap.String("session_id", sessionID),
			zap.String("status", string(status)),
		)
		return storageError("update monitoring session status", err)
	}

	if result.RowsAffected() == 0 {
		return model.NotFound("monitoring session", sessionID)
	}

	return nil
}

// UpdateThresholds replaces the session's alert threshold configuration
func (r *SessionRepository) UpdateThresholds(ctx context.Context, sessionID string, thresholds model.ThresholdConfig) error {
	encoded, err := encodeThresholds(thresholds)
	if err != nil {
		return err
	}

	query := `
		UPDATE monitoring_sessions
		SET alert_thresholds = $1, updated_at = NOW()
		WHERE id = $2
	`

	result, err := conn(ctx, r.db).Exec(ctx, query, encoded, sessionID)
	if err != nil {
		r.logger.Error("failed to update alert thresholds", zap.Error(err), zap.String("session_id", sessionID))
		return storageError("update alert thresholds", err)
	}

	if result.RowsAffected() == 0 {
		return model.NotFound("monitoring session", sessionID)
	}

	return nil
}

func scanSession(row pgx.Row) (*model.MonitoringSession, error) {
	var (
		session    model.MonitoringSession
		params     []byte
		thresholds []byte
	)
	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.ProviderID,
		&session.Type,
		&session.Status,
		&session.StartedAt,
		&session.EndedAt,
		&params,
		&thresholds,
		&session.Notes,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(params) > 0 {
		if err := json.Unmarshal(params, &session.Parameters); err != nil {
			return nil, fmt.Errorf("failed to decode session parameters: %w", err)
		}
	}
	if len(thresholds) > 0 {
		if err := json.Unmarshal(thresholds, &session.Thresholds); err != nil {
			return nil, fmt.Errorf("failed to decode alert thresholds: %w", err)
		}
	}

	return &session, nil
}

func encodeThresholds(cfg model.ThresholdConfig) ([]byte, error) {
	if cfg == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode alert thresholds: %w", err)
	}
	return b, nil
}

func nonNilParams(p map[string]interface{}) map[string]interface{} {
	if p == nil {
		return map[string]interface{}{}
	}
	return p
}
