package export

import (
	"context"
	"fmt"
	"strings"
	"time"

	"peritaje/api/internal/appraisal"
	"peritaje/api/internal/logger"
	"peritaje/api/internal/store"
)

// PDFRenderer turns a rendered HTML page into PDF bytes.
type PDFRenderer interface {
	RenderPDF(ctx context.Context, html string) ([]byte, error)
}

// Archiver persists generated reports.
type Archiver interface {
	Store(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Service provides report export functionality
type Service struct {
	renderer PDFRenderer
	archive  Archiver
	log      *logger.Logger
	now      func() time.Time
}

// NewService creates a new export service. archive may be nil.
func NewService(renderer PDFRenderer, archive Archiver, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{renderer: renderer, archive: archive, log: log, now: time.Now}
}

// ReportPDF normalizes an arbitrary appraisal payload and renders it.
func (s *Service) ReportPDF(ctx context.Context, payload map[string]any) (*Result, error) {
	canonical := appraisal.Normalize(payload)
	data, err := s.render(ctx, appraisal.BuildReport(canonical))
	if err != nil {
		return nil, err
	}
	return &Result{Data: data, Filename: ReportFilename, MimeType: "application/pdf"}, nil
}

// RecordPDF renders a stored record and archives the PDF when an archive is
// configured. Archive failures are logged, never returned.
func (s *Service) RecordPDF(ctx context.Context, record store.AppraisalResult) (*Result, error) {
	report := appraisal.BuildReport(record.AppraisalData)
	data, err := s.render(ctx, report)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Data:     data,
		Filename: recordFilename(report, record.ID),
		MimeType: "application/pdf",
	}

	if s.archive != nil {
		key := ArchiveKey(record.Owner(), record.ID)
		if _, err := s.archive.Store(ctx, key, data, result.MimeType); err != nil {
			s.log.Warn("export: archive report", "record_id", record.ID, "error", err)
		} else {
			s.log.Debug("export: archived report", "record_id", record.ID, "key", key)
		}
	}
	return result, nil
}

func (s *Service) render(ctx context.Context, report appraisal.Report) ([]byte, error) {
	if s.renderer == nil {
		return nil, ErrPDFDependencyMissing
	}
	html, err := RenderReportHTML(TemplateData{
		Title:       reportTitle(report),
		Report:      report,
		GeneratedAt: s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	return s.renderer.RenderPDF(ctx, html)
}

func reportTitle(report appraisal.Report) string {
	city := strings.TrimSpace(report.BasicInfo.City)
	if city == "" || city == "N/A" {
		return "Peritaje inmobiliario"
	}
	return "Peritaje inmobiliario - " + city
}

func recordFilename(report appraisal.Report, recordID string) string {
	name := report.BasicInfo.RequestID
	if name == "" {
		name = recordID
	}
	return sanitizeFilename("peritaje "+name) + ".pdf"
}
