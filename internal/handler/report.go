package handler

import (
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/service"
	"go.uber.org/zap"
)

// ReportHandler serves session report generation and download
type ReportHandler struct {
	reports *service.ReportService
	logger  *zap.Logger
}

// NewReportHandler creates a new ReportHandler
func NewReportHandler(reports *service.ReportService, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{reports: reports, logger: logger}
}

// GenerateSessionReport handles POST /sessions/:id/report
func (h *ReportHandler) GenerateSessionReport(c *gin.Context) {
	report, err := h.reports.GenerateSessionReport(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		respondError(c, h.logger, "Failed to generate report", err)
		return
	}

	c.Header("Location", "/api/v1/reports/"+report.ID)
	c.JSON(http.StatusCreated, report)
}

// GetReport handles GET /reports/:id and streams the PDF as an attachment
func (h *ReportHandler) GetReport(c *gin.Context) {
	report, doc, err := h.reports.GetReport(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		respondError(c, h.logger, "Failed to get report", err)
		return
	}

	filename := fmt.Sprintf("session-report-%s-%s.pdf", report.GeneratedAt.UTC().Format("20060102"), report.ID)
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	c.Header("Content-Length", strconv.Itoa(len(doc)))
	c.Header("Cache-Control", "private, no-store")
	c.Data(http.StatusOK, "application/pdf", doc)
}
