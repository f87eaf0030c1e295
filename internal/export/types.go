// Package export renders appraisal reports to PDF and archives them.
package export

import (
	"errors"
)

// ReportFilename is the attachment name used for ad-hoc report downloads.
const ReportFilename = "peritaje-inmobiliario.pdf"

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrArchiveUnavailable indicates no object store is configured for archiving.
	ErrArchiveUnavailable = errors.New("export archive unavailable")
)
