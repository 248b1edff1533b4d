package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/audit"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/azure"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/pdf"
	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/model"
	"go.uber.org/zap"
)

// reportMeasurementLimit bounds how many points a session report reads
const reportMeasurementLimit = 1000

// ReportService renders session reports and keeps them in blob storage
type ReportService struct {
	sessions     SessionRepositoryInterface
	measurements MeasurementRepositoryInterface
	alerts       AlertRepositoryInterface
	reports      ReportRepositoryInterface
	blobs        azure.ReportStore
	pdfGen       *pdf.PDFGenerator
	audit        AuditLogger
	logger       *zap.Logger
	now          func() time.Time
}

// NewReportService creates a new ReportService
func NewReportService(
	sessions SessionRepositoryInterface,
	measurements MeasurementRepositoryInterface,
	alerts AlertRepositoryInterface,
	reports ReportRepositoryInterface,
	blobs azure.ReportStore,
	pdfGen *pdf.PDFGenerator,
	auditLogger AuditLogger,
	logger *zap.Logger,
) *ReportService {
	return &ReportService{
		sessions:     sessions,
		measurements: measurements,
		alerts:       alerts,
		reports:      reports,
		blobs:        blobs,
		pdfGen:       pdfGen,
		audit:        auditLogger,
		logger:       logger,
		now:          time.Now,
	}
}

// GenerateSessionReport renders a PDF for the session, uploads it and records it.
// requesterID must own the session or be its provider.
func (s *ReportService) GenerateSessionReport(ctx context.Context, sessionID, requesterID string) (*model.Report, error) {
	if err := validateID("session_id", sessionID); err != nil {
		return nil, err
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get monitoring session: %w", err)
	}
	if err := AuthorizeSession(session, requesterID); err != nil {
		return nil, err
	}

	points, err := s.measurements.List(ctx, model.MeasurementFilter{
		UserID:    session.UserID,
		SessionID: &session.ID,
		Limit:     reportMeasurementLimit,
	})
	if err != nil {
		s.logger.Error("failed to get measurements for report",
			zap.Error(err),
			zap.String("session_id", sessionID),
		)
		return nil, fmt.Errorf("failed to get measurements: %w", err)
	}

	alerts, err := s.alerts.ListBySession(ctx, session.ID)
	if err != nil {
		s.logger.Error("failed to get alerts for report",
			zap.Error(err),
			zap.String("session_id", sessionID),
		)
		return nil, fmt.Errorf("failed to get alerts: %w", err)
	}

	pdfBytes, err := s.pdfGen.Generate(&pdf.ReportData{
		Session:      session,
		Measurements: points,
		Alerts:       alerts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}

	report := &model.Report{
		ID:          uuid.New().String(),
		UserID:      session.UserID,
		SessionID:   session.ID,
		GeneratedAt: s.now(),
	}
	report.FileURL, err = s.blobs.Put(ctx, azure.ReportKey{
		UserID:    report.UserID,
		SessionID: report.SessionID,
		ReportID:  report.ID,
	}, pdfBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to upload PDF: %w", err)
	}

	if err := s.reports.Save(ctx, report); err != nil {
		// The record is the only way to reach the blob, so drop it
		if delErr := s.blobs.Delete(ctx, report.FileURL); delErr != nil {
			s.logger.Warn("failed to remove orphaned report blob",
				zap.Error(delErr),
				zap.String("blob_path", report.FileURL),
			)
		}
		return nil, fmt.Errorf("failed to save report record: %w", err)
	}

	s.auditLog(ctx, requesterID, audit.OperationCreate, report.ID)
	s.logger.Info("session report generated",
		zap.String("report_id", report.ID),
		zap.String("session_id", session.ID),
		zap.Int("size_bytes", len(pdfBytes)),
	)

	return report, nil
}

// GetReport returns a report's metadata and PDF. requesterID must own the report.
func (s *ReportService) GetReport(ctx context.Context, reportID, requesterID string) (*model.Report, []byte, error) {
	if err := validateID("report_id", reportID); err != nil {
		return nil, nil, err
	}

	report, err := s.reports.GetByID(ctx, reportID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get report record: %w", err)
	}
	if report.UserID != requesterID {
		return nil, nil, fmt.Errorf("report %s: %w", reportID, model.ErrForbidden)
	}

	pdfBytes, err := s.blobs.Get(ctx, report.FileURL)
	if err != nil {
		s.logger.Error("failed to download PDF from blob storage",
			zap.Error(err),
			zap.String("report_id", reportID),
			zap.String("blob_path", report.FileURL),
		)
		return nil, nil, fmt.Errorf("failed to download PDF: %w", err)
	}

	s.auditLog(ctx, requesterID, audit.OperationRead, report.ID)
	return report, pdfBytes, nil
}

func (s *ReportService) auditLog(ctx context.Context, actor string, op audit.Operation, reportID string) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, audit.Entry{
		Actor:      actor,
		Operation:  op,
		Resource:   audit.ResourceReport,
		ResourceID: reportID,
	})
	if err != nil {
		s.logger.Warn("failed to write audit log", zap.Error(err), zap.String("report_id", reportID))
	}
}
