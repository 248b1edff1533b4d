package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/audit"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/security"
	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/model"
	"github.com/oapi-codegen/runtime/types"
	"go.uber.org/zap"
)

// SharingConfig tunes the data sharing service
type SharingConfig struct {
	DefaultDurationDays int
	MaxDurationDays     int
	DefaultQueryLimit   int
	MaxQueryLimit       int
}

// DefaultSharingConfig returns the settings used when none are configured
func DefaultSharingConfig() SharingConfig {
	return SharingConfig{
		DefaultDurationDays: 30,
		MaxDurationDays:     365,
		DefaultQueryLimit:   100,
		MaxQueryLimit:       1000,
	}
}

// CreateShareInput is the input for granting a provider access
type CreateShareInput struct {
	UserID          string
	ProviderAddress string
	DataTypes       []string
	AccessLevel     model.AccessLevel
	StartDate       time.Time
	EndDate         *time.Time
}

// ShareGrant is a created share together with its access token.
// The token is only available here; storage keeps its hash.
type ShareGrant struct {
	Share       *model.DataShare `json:"share"`
	AccessToken string           `json:"access_token"`
}

// SharingService grants, lists, revokes and serves provider data shares
type SharingService struct {
	shares       ShareRepositoryInterface
	measurements MeasurementRepositoryInterface
	encryptor    *security.Encryptor
	audit        AuditLogger
	cfg          SharingConfig
	logger       *zap.Logger
	now          func() time.Time
}

// NewSharingService creates a new SharingService. With a nil encryptor
// provider addresses are stored in clear text.
func NewSharingService(
	shares ShareRepositoryInterface,
	measurements MeasurementRepositoryInterface,
	encryptor *security.Encryptor,
	auditLogger AuditLogger,
	cfg SharingConfig,
	logger *zap.Logger,
) *SharingService {
	defaults := DefaultSharingConfig()
	if cfg.DefaultDurationDays <= 0 {
		cfg.DefaultDurationDays = defaults.DefaultDurationDays
	}
	if cfg.MaxDurationDays <= 0 {
		cfg.MaxDurationDays = defaults.MaxDurationDays
	}
	if cfg.DefaultQueryLimit <= 0 {
		cfg.DefaultQueryLimit = defaults.DefaultQueryLimit
	}
	if cfg.MaxQueryLimit <= 0 {
		cfg.MaxQueryLimit = defaults.MaxQueryLimit
	}

	return &SharingService{
		shares:       shares,
		measurements: measurements,
		encryptor:    encryptor,
		audit:        auditLogger,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
}

// CreateDataShare shares dataTypes with a provider for durationDays starting now.
// A zero duration uses the configured default.
func (s *SharingService) CreateDataShare(ctx context.Context, userID, providerAddress string, dataTypes []string, durationDays int) (*ShareGrant, error) {
	if durationDays == 0 {
		durationDays = s.cfg.DefaultDurationDays
	}
	if durationDays < 0 || durationDays > s.cfg.MaxDurationDays {
		return nil, model.NewValidationError("duration_days", "duration must be between 1 and %d days", s.cfg.MaxDurationDays)
	}

	start := s.now()
	end := start.AddDate(0, 0, durationDays)
	return s.CreateShare(ctx, CreateShareInput{
		UserID:          userID,
		ProviderAddress: providerAddress,
		DataTypes:       dataTypes,
		AccessLevel:     model.AccessReadOnly,
		StartDate:       start,
		EndDate:         &end,
	})
}

// CreateShare validates and stores a share with a fresh access token
func (s *SharingService) CreateShare(ctx context.Context, in CreateShareInput) (*ShareGrant, error) {
	if in.UserID == "" {
		return nil, model.NewValidationError("user_id", "user ID is required")
	}
	provider := strings.TrimSpace(in.ProviderAddress)
	if _, err := types.Email(provider).MarshalJSON(); err != nil {
		return nil, model.NewValidationError("provider_address", "provider address must be an email address")
	}
	dataTypes, err := normalizeDataTypes(in.DataTypes)
	if err != nil {
		return nil, err
	}
	if in.AccessLevel == "" {
		in.AccessLevel = model.AccessReadOnly
	}
	if !in.AccessLevel.Valid() {
		return nil, model.NewValidationError("access_level", "unknown access level %q", in.AccessLevel)
	}
	if in.StartDate.IsZero() {
		in.StartDate = s.now()
	}
	if in.EndDate != nil && in.EndDate.Before(in.StartDate) {
		return nil, model.NewValidationError("end_date", "end date is before start date")
	}

	token, hash, err := security.NewAccessToken()
	if err != nil {
		return nil, err
	}

	stored := provider
	if s.encryptor != nil {
		stored, err = s.encryptor.Seal(provider, in.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt provider address: %w", err)
		}
	}

	now := s.now()
	share := &model.DataShare{
		ID:              uuid.New().String(),
		UserID:          in.UserID,
		ProviderAddress: stored,
		DataTypes:       dataTypes,
		AccessLevel:     in.AccessLevel,
		StartDate:       in.StartDate,
		EndDate:         in.EndDate,
		Active:          true,
		TokenHash:       hash,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.shares.Create(ctx, share); err != nil {
		return nil, fmt.Errorf("failed to create data share: %w", err)
	}

	s.auditLog(ctx, in.UserID, audit.OperationCreate, share.ID, map[string]interface{}{
		"data_types":   dataTypes,
		"access_level": string(share.AccessLevel),
	})
	s.logger.Info("data share created",
		zap.String("share_id", share.ID),
		zap.String("user_id", share.UserID),
		zap.Strings("data_types", dataTypes),
	)

	share.ProviderAddress = provider
	return &ShareGrant{Share: share, AccessToken: token}, nil
}

// IsValid reports whether share grants access at now
func (s *SharingService) IsValid(share *model.DataShare, now time.Time) bool {
	return share.IsValid(now)
}

// Revoke deactivates a share. Only its owner may revoke it.
func (s *SharingService) Revoke(ctx context.Context, shareID, userID string) (*model.DataShare, error) {
	if err := validateID("share_id", shareID); err != nil {
		return nil, err
	}

	share, err := s.shares.GetByID(ctx, shareID)
	if err != nil {
		return nil, fmt.Errorf("failed to get data share: %w", err)
	}
	if share.UserID != userID {
		return nil, fmt.Errorf("share %s: %w", shareID, model.ErrForbidden)
	}

	if share.Active {
		if err := s.shares.Deactivate(ctx, shareID); err != nil {
			return nil, fmt.Errorf("failed to revoke data share: %w", err)
		}
		share.Active = false
		share.UpdatedAt = s.now()

		s.auditLog(ctx, userID, audit.OperationUpdate, shareID, map[string]interface{}{
			"action": "revoke",
		})
		s.logger.Info("data share revoked",
			zap.String("share_id", shareID),
			zap.String("user_id", userID),
		)
	}

	return s.reveal(share), nil
}

// ListShares returns the user's shares, newest first
func (s *SharingService) ListShares(ctx context.Context, userID string) ([]model.DataShare, error) {
	if userID == "" {
		return nil, model.NewValidationError("user_id", "user ID is required")
	}

	shares, err := s.shares.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list data shares: %w", err)
	}
	for i := range shares {
		shares[i] = *s.reveal(&shares[i])
	}
	return shares, nil
}

// AccessSharedMeasurements serves a provider holding token. Unknown, revoked
// and expired tokens all fail with model.ErrForbidden, as do data types the
// share does not cover.
func (s *SharingService) AccessSharedMeasurements(ctx context.Context, token string, q MeasurementQuery) (*model.DataShare, []model.MeasurementPoint, error) {
	if token == "" {
		return nil, nil, model.NewValidationError("token", "access token is required")
	}

	share, err := s.shares.GetByTokenHash(ctx, security.HashToken(token))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, nil, fmt.Errorf("unknown access token: %w", model.ErrForbidden)
		}
		return nil, nil, fmt.Errorf("failed to resolve access token: %w", err)
	}

	now := s.now()
	if !share.IsValid(now) {
		return nil, nil, fmt.Errorf("share %s is not valid: %w", share.ID, model.ErrForbidden)
	}

	dataTypes := q.DataTypes
	if len(dataTypes) == 0 {
		dataTypes = share.DataTypes
	}
	for _, dt := range dataTypes {
		if !share.Covers(dt) {
			return nil, nil, fmt.Errorf("share %s does not cover %s: %w", share.ID, dt, model.ErrForbidden)
		}
	}

	points, err := s.measurements.List(ctx, model.MeasurementFilter{
		UserID:    share.UserID,
		DataTypes: dataTypes,
		Since:     q.Since,
		Limit:     clampLimit(q.Limit, s.cfg.DefaultQueryLimit, s.cfg.MaxQueryLimit),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list shared measurements: %w", err)
	}

	if err := s.shares.TouchAccess(ctx, share.ID, now); err != nil {
		s.logger.Warn("failed to record share access", zap.Error(err), zap.String("share_id", share.ID))
	}
	share.LastAccessedAt = &now

	s.auditLog(ctx, share.UserID, audit.OperationRead, share.ID, map[string]interface{}{
		"action":     "provider_access",
		"data_types": dataTypes,
		"count":      len(points),
	})

	return s.reveal(share), points, nil
}

// reveal decrypts the provider address for display
func (s *SharingService) reveal(share *model.DataShare) *model.DataShare {
	if s.encryptor == nil {
		return share
	}
	plain, err := s.encryptor.Open(share.ProviderAddress, share.UserID)
	if err != nil {
		s.logger.Warn("failed to decrypt provider address", zap.Error(err), zap.String("share_id", share.ID))
		return share
	}
	share.ProviderAddress = plain
	return share
}

func (s *SharingService) auditLog(ctx context.Context, actor string, op audit.Operation, shareID string, extra map[string]interface{}) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, audit.Entry{
		Actor:      actor,
		Operation:  op,
		Resource:   audit.ResourceDataShare,
		ResourceID: shareID,
		Details:    extra,
	})
	if err != nil {
		s.logger.Warn("failed to write audit log", zap.Error(err), zap.String("share_id", shareID))
	}
}

// normalizeDataTypes validates and deduplicates shared data types, keeping order
func normalizeDataTypes(in []string) ([]string, error) {
	if len(in) == 0 {
		return nil, model.NewValidationError("data_types", "at least one data type is required")
	}

	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, dt := range in {
		dt = strings.TrimSpace(dt)
		if !dataTypePattern.MatchString(dt) {
			return nil, model.NewValidationError("data_types", "invalid data type %q", dt)
		}
		if seen[dt] {
			continue
		}
		seen[dt] = true
		out = append(out, dt)
	}
	return out, nil
}
