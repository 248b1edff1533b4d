package repository

import (
	"context"

	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ReportRepository manages generated session report metadata
type ReportRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewReportRepository creates a new ReportRepository
func NewReportRepository(db *pgxpool.Pool, logger *zap.Logger) *ReportRepository {
	return &ReportRepository{
		db:     db,
		logger: logger,
	}
}

// Save inserts report metadata
func (r *ReportRepository) Save(ctx context.Context, report *model.Report) error {
	query := `
		INSERT INTO session_reports (id, user_id, session_id, file_url, generated_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := conn(ctx, r.db).Exec(ctx, query,
		report.ID,
		report.UserID,
		report.SessionID,
		report.FileURL,
		report.GeneratedAt,
	)
	if err != nil {
		r.logger.Error("failed to save report", zap.Error(err), zap.String("session_id", report.SessionID))
		return storageError("save report", err)
	}

	return nil
}

// GetByID retrieves report metadata by ID
func (r *ReportRepository) GetByID(ctx context.Context, reportID string) (*model.Report, error) {
	query := `
		SELECT id, user_id, session_id, file_url, generated_at
		FROM session_reports
		WHERE id = $1
	`

	var report model.Report
	err := conn(ctx, r.db).QueryRow(ctx, query, reportID).Scan(
		&report.ID,
		&report.UserID,
		&report.SessionID,
		&report.FileURL,
		&report.GeneratedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, model.NotFound("report", reportID)
	}
	if err != nil {
		r.logger.Error("failed to get report", zap.Error(err), zap.String("report_id", reportID))
		return nil, storageError("get report", err)
	}

	return &report, nil
}
