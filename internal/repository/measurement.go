package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// MeasurementRepository persists measurement points. Points are append-only.
type MeasurementRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewMeasurementRepository creates a new MeasurementRepository
func NewMeasurementRepository(db *pgxpool.Pool, logger *zap.Logger) *MeasurementRepository {
	return &MeasurementRepository{
		db:     db,
		logger: logger,
	}
}

// Save inserts a measurement point
func (r *MeasurementRepository) Save(ctx context.Context, point *model.MeasurementPoint) error {
	value, err := model.EncodeValue(point.Value)
	if err != nil {
		return fmt.Errorf("failed to encode measurement value: %w", err)
	}

	query := `
		INSERT INTO measurement_points (
			id, user_id, session_id, data_type, value,
			unit, device_source, is_critical, measured_at, processed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = conn(ctx, r.db).Exec(ctx, query,
		point.ID,
		point.UserID,
		point.SessionID,
		point.DataType,
		value,
		point.Unit,
		point.DeviceSource,
		point.IsCritical,
		point.MeasuredAt,
		point.ProcessedAt,
	)
	if err != nil {
		r.logger.Error("failed to save measurement point",
			zap.Error(err),
			zap.String("user_id", point.UserID),
			zap.String("data_type", point.DataType),
		)
		return storageError("save measurement point", err)
	}

	return nil
}

// List returns measurements matching filter, newest first by measured_at
func (r *MeasurementRepository) List(ctx context.Context, filter model.MeasurementFilter) ([]model.MeasurementPoint, error) {
	var (
		conds = []string{"user_id = $1"}
		args  = []any{filter.UserID}
	)
	if filter.SessionID != nil {
		args = append(args, *filter.SessionID)
		conds = append(conds, fmt.Sprintf("session_id = $%d", len(args)))
	}
	if len(filter.DataTypes) > 0 {
		args = append(args, filter.DataTypes)
		conds = append(conds, fmt.Sprintf("data_type = ANY($%d)", len(args)))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		conds = append(conds, fmt.Sprintf("measured_at >= $%d", len(args)))
	}
	args = append(args, filter.Limit)

	query := fmt.Sprintf(`
		SELECT
			id, user_id, session_id, data_type, value,
			unit, device_source, is_critical, measured_at, processed_at
		FROM measurement_points
		WHERE %s
		ORDER BY measured_at DESC, processed_at DESC
		LIMIT $%d
	`, strings.Join(conds, " AND "), len(args))

	rows, err := conn(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to list measurement points", zap.Error(err), zap.String("user_id", filter.UserID))
		return nil, storageError("list measurement points", err)
	}
	defer rows.Close()

	points := []model.MeasurementPoint{}
	for rows.Next() {
		point, err := scanMeasurement(rows)
		if err != nil {
			r.logger.Error("failed to scan measurement point", zap.Error(err))
			return nil, storageError("scan measurement point", err)
		}
		points = append(points, *point)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("error iterating measurement points", zap.Error(err))
		return nil, storageError("iterate measurement points", err)
	}

	return points, nil
}

func scanMeasurement(row pgx.Row) (*model.MeasurementPoint, error) {
	var (
		point model.MeasurementPoint
		value []byte
	)
	err := row.Scan(
		&point.ID,
		&point.UserID,
		&point.SessionID,
		&point.DataType,
		&value,
		&point.Unit,
		&point.DeviceSource,
		&point.IsCritical,
		&point.MeasuredAt,
		&point.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}

	point.Value, err = model.ParseValue(value)
	if err != nil {
		return nil, fmt.Errorf("failed to decode measurement value: %w", err)
	}

	return &point, nil
}
