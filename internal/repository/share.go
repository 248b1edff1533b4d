package repository

import (
	"context"
	"time"

	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ShareRepository manages provider data shares
type ShareRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewShareRepository creates a new ShareRepository
func NewShareRepository(db *pgxpool.Pool, logger *zap.Logger) *ShareRepository {
	return &ShareRepository{
		db:     db,
		logger: logger,
	}
}

const shareColumns = `
	id, user_id, provider_address, data_types, access_level,
	start_date, end_date, is_active, token_hash, last_accessed_at,
	created_at, updated_at`

// Create inserts a data share
func (r *ShareRepository) Create(ctx context.Context, share *model.DataShare) error {
	query := `
		INSERT INTO data_shares (` + shareColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := conn(ctx, r.db).Exec(ctx, query,
		share.ID,
		share.UserID,
		share.ProviderAddress,
		share.DataTypes,
		share.AccessLevel,
		share.StartDate,
		share.EndDate,
		share.Active,
		share.TokenHash,
		share.LastAccessedAt,
		share.CreatedAt,
		share.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("failed to create data share", zap.Error(err), zap.String("user_id", share.UserID))
		return storageError("create data share", err)
	}

	return nil
}

// GetByID retrieves a share by ID
func (r *ShareRepository) GetByID(ctx context.Context, shareID string) (*model.DataShare, error) {
	query := `SELECT ` + shareColumns + ` FROM data_shares WHERE id = $1`

	share, err := scanShare(conn(ctx, r.db).QueryRow(ctx, query, shareID))
	if err == pgx.ErrNoRows {
		return nil, model.NotFound("data share", shareID)
	}
	if err != nil {
		r.logger.Error("failed to get data share", zap.Error(err), zap.String("share_id", shareID))
		return nil, storageError("get data share", err)
	}

	return share, nil
}

// GetByTokenHash retrieves a share by the SHA-256 hash of its access token
func (r *ShareRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*model.DataShare, error) {
	query := `SELECT ` + shareColumns + ` FROM data_shares WHERE token_hash = $1`

	share, err := scanShare(conn(ctx, r.db).QueryRow(ctx, query, tokenHash))
	if err == pgx.ErrNoRows {
		return nil, model.NotFound("data share", "for token")
	}
	if err != nil {
		r.logger.Error("failed to get data share by token", zap.Error(err))
		return nil, storageError("get data share by token", err)
	}

	return share, nil
}

// ListByUserID lists a user's shares, newest first
func (r *ShareRepository) ListByUserID(ctx context.Context, userID string) ([]model.DataShare, error) {
	query := `
		SELECT ` + shareColumns + `
		FROM data_shares
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := conn(ctx, r.db).Query(ctx, query, userID)
	if err != nil {
		r.logger.Error("failed to list data shares", zap.Error(err), zap.String("user_id", userID))
		return nil, storageError("list data shares", err)
	}
	defer rows.Close()

	shares := []model.DataShare{}
	for rows.Next() {
		share, err := scanShare(rows)
		if err != nil {
			r.logger.Error("failed to scan data share", zap.Error(err))
			return nil, storageError("scan data share", err)
		}
		shares = append(shares, *share)
	}

	if err := rows.Err(); err != nil {
		return nil, storageError("iterate data shares", err)
	}

	return shares, nil
}

// Deactivate clears the active flag
func (r *ShareRepository) Deactivate(ctx context.Context, shareID string) error {
	query := `UPDATE data_shares SET is_active = FALSE, updated_at = NOW() WHERE id = $1`

	result, err := conn(ctx, r.db).Exec(ctx, query, shareID)
	if err != nil {
		r.logger.Error("failed to deactivate data share", zap.Error(err), zap.String("share_id", shareID))
		return storageError("deactivate data share", err)
	}
	if result.RowsAffected() == 0 {
		return model.NotFound("data share", shareID)
	}

	return nil
}

// TouchAccess records when the share was last used
func (r *ShareRepository) TouchAccess(ctx context.Context, shareID string, at time.Time) error {
	query := `UPDATE data_shares SET last_accessed_at = $1 WHERE id = $2`

	if _, err := conn(ctx, r.db).Exec(ctx, query, at, shareID); err != nil {
		r.logger.Error("failed to record data share access", zap.Error(err), zap.String("share_id", shareID))
		return storageError("record data share access", err)
	}

	return nil
}

func scanShare(row pgx.Row) (*model.DataShare, error) {
	var share model.DataShare
	err := row.Scan(
		&share.ID,
		&share.UserID,
		&share.ProviderAddress,
		&share.DataTypes,
		&share.AccessLevel,
		&share.StartDate,
		&share.EndDate,
		&share.Active,
		&share.TokenHash,
		&share.LastAccessedAt,
		&share.CreatedAt,
		&share.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &share, nil
}
