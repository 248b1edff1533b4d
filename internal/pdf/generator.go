package pdf

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/model"
	"github.com/jung-kurt/gofpdf"
	"go.uber.org/zap"
)

// maxMeasurementRows caps the measurement table; the summary still covers every point
const maxMeasurementRows = 50

// PDFGenerator renders monitoring session reports
type PDFGenerator struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewPDFGenerator creates a new PDFGenerator
func NewPDFGenerator(logger *zap.Logger) *PDFGenerator {
	return &PDFGenerator{
		logger: logger,
		now:    time.Now,
	}
}

// ReportData contains everything printed in a session report
type ReportData struct {
	Session      *model.MonitoringSession
	Measurements []model.MeasurementPoint
	Alerts       []model.Alert
}

// Generate creates a PDF report for a monitoring session
func (g *PDFGenerator) Generate(data *ReportData) ([]byte, error) {
	if data == nil || data.Session == nil {
		return nil, fmt.Errorf("session is required")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	g.addTitle(pdf, data.Session)
	g.addThresholds(pdf, data.Session.Thresholds)
	g.addSummary(pdf, data.Measurements)
	g.addMeasurements(pdf, data.Measurements)
	g.addAlerts(pdf, data.Alerts)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		g.logger.Error("failed to generate PDF", zap.Error(err))
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}

	g.logger.Info("session report rendered",
		zap.String("session_id", data.Session.ID),
		zap.Int("measurements", len(data.Measurements)),
		zap.Int("alerts", len(data.Alerts)),
		zap.Int("size_bytes", buf.Len()),
	)

	return buf.Bytes(), nil
}

func (g *PDFGenerator) addTitle(pdf *gofpdf.Fpdf, session *model.MonitoringSession) {
	pdf.SetFont("Arial", "B", 20)
	pdf.CellFormat(0, 10, "Remote Monitoring Report", "", 1, "C", false, 0, "")
	pdf.Ln(5)

	ended := "ongoing"
	if session.EndedAt != nil {
		ended = session.EndedAt.Format("2006-01-02 15:04")
	}

	pdf.SetFont("Arial", "", 12)
	line(pdf, 8, "Patient: %s", session.UserID)
	line(pdf, 8, "Session: %s (%s, %s)", session.ID, session.Type, session.Status)
	line(pdf, 8, "Period: %s to %s", session.StartedAt.Format("2006-01-02 15:04"), ended)
	if session.Notes != nil && *session.Notes != "" {
		line(pdf, 8, "Notes: %s", *session.Notes)
	}
	line(pdf, 8, "Generated: %s", g.now().Format("2006-01-02 15:04"))
	pdf.Ln(10)
}

func (g *PDFGenerator) addSectionHeader(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Arial", "B", 14)
	pdf.SetFillColor(230, 230, 230)
	pdf.CellFormat(0, 10, title, "", 1, "L", true, 0, "")
	pdf.Ln(3)
	pdf.SetFont("Arial", "", 10)
}

func (g *PDFGenerator) addThresholds(pdf *gofpdf.Fpdf, thresholds model.ThresholdConfig) {
	g.addSectionHeader(pdf, "Alert Thresholds")

	if len(thresholds) == 0 {
		line(pdf, 8, "No thresholds configured. Measurements in this session never raise alerts.")
		pdf.Ln(5)
		return
	}

	for _, dataType := range sortedKeys(thresholds) {
		line(pdf, 6, "%s: %s", dataType, describeThreshold(thresholds[dataType]))
	}
	pdf.Ln(5)
}

type typeSummary struct {
	count    int
	critical int
	min      float64
	max      float64
}

func (g *PDFGenerator) addSummary(pdf *gofpdf.Fpdf, points []model.MeasurementPoint) {
	g.addSectionHeader(pdf, "Measurement Summary")

	if len(points) == 0 {
		line(pdf, 8, "No measurements recorded during this session.")
		pdf.Ln(5)
		return
	}

	summaries := make(map[string]*typeSummary)
	for _, p := range points {
		s, ok := summaries[p.DataType]
		if !ok {
			s = &typeSummary{min: math.Inf(1), max: math.Inf(-1)}
			summaries[p.DataType] = s
		}
		s.count++
		if p.IsCritical {
			s.critical++
		}
		if v, ok := p.Value.(model.ScalarValue); ok {
			s.min = math.Min(s.min, float64(v))
			s.max = math.Max(s.max, float64(v))
		}
	}

	for _, dataType := range sortedKeys(summaries) {
		s := summaries[dataType]
		text := fmt.Sprintf("%s: %d readings, %d critical", dataType, s.count, s.critical)
		if !math.IsInf(s.min, 1) {
			text += fmt.Sprintf(", range %g to %g", s.min, s.max)
		}
		line(pdf, 6, "%s", text)
	}
	pdf.Ln(5)
}

func (g *PDFGenerator) addMeasurements(pdf *gofpdf.Fpdf, points []model.MeasurementPoint) {
	g.addSectionHeader(pdf, "Measurements")

	if len(points) == 0 {
		line(pdf, 8, "No measurements recorded.")
		pdf.Ln(5)
		return
	}

	rows := points
	if len(rows) > maxMeasurementRows {
		rows = rows[:maxMeasurementRows]
	}

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(45, 6, "Measured", "B", 0, "L", false, 0, "")
	pdf.CellFormat(45, 6, "Type", "B", 0, "L", false, 0, "")
	pdf.CellFormat(45, 6, "Value", "B", 0, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Critical", "B", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)

	for _, p := range rows {
		value := model.FormatValue(p.Value)
		if p.Unit != nil {
			value += " " + *p.Unit
		}
		critical := ""
		if p.IsCritical {
			critical = "yes"
		}
		pdf.CellFormat(45, 5, p.MeasuredAt.Format("2006-01-02 15:04"), "", 0, "L", false, 0, "")
		pdf.CellFormat(45, 5, p.DataType, "", 0, "L", false, 0, "")
		pdf.CellFormat(45, 5, value, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 5, critical, "", 1, "L", false, 0, "")
	}

	if len(points) > len(rows) {
		pdf.Ln(2)
		line(pdf, 5, "%d older measurements not shown.", len(points)-len(rows))
	}
	pdf.Ln(5)
}

func (g *PDFGenerator) addAlerts(pdf *gofpdf.Fpdf, alerts []model.Alert) {
	g.addSectionHeader(pdf, "Alerts")

	if len(alerts) == 0 {
		line(pdf, 8, "No alerts raised during this session.")
		pdf.Ln(5)
		return
	}

	for _, a := range alerts {
		pdf.SetFont("Arial", "B", 10)
		line(pdf, 6, "%s [%s] %s", a.CreatedAt.Format("2006-01-02 15:04"), a.Severity, a.Title)
		pdf.SetFont("Arial", "", 10)
		if a.Message != "" {
			line(pdf, 5, "  %s", a.Message)
		}
		switch {
		case a.Acknowledged && a.AcknowledgedBy != nil && a.AcknowledgedAt != nil:
			line(pdf, 5, "  Acknowledged by %s at %s", *a.AcknowledgedBy, a.AcknowledgedAt.Format("2006-01-02 15:04"))
		case a.Acknowledged:
			line(pdf, 5, "  Acknowledged")
		default:
			line(pdf, 5, "  Not acknowledged")
		}
		pdf.Ln(2)
	}
	pdf.Ln(5)
}

func line(pdf *gofpdf.Fpdf, height float64, format string, args ...interface{}) {
	pdf.CellFormat(0, height, fmt.Sprintf(format, args...), "", 1, "L", false, 0, "")
}

func describeThreshold(t model.Threshold) string {
	switch th := t.(type) {
	case model.RangeThreshold:
		return fmt.Sprintf("min %s, max %s", bound(th.Min), bound(th.Max))
	case model.BloodPressureThreshold:
		return fmt.Sprintf("systolic %s to %s, diastolic %s to %s",
			bound(th.SystolicMin), bound(th.SystolicMax), bound(th.DiastolicMin), bound(th.DiastolicMax))
	case model.FloorThreshold:
		return fmt.Sprintf("min %s", bound(th.Min))
	}
	return "unrecognised"
}

func bound(b *float64) string {
	if b == nil {
		return "-"
	}
	return fmt.Sprintf("%g", *b)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
