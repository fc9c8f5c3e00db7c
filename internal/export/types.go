// Package export renders disclosure submissions into downloadable
// PDF, DOCX, and CSV documents.
package export

import (
	"encoding/json"
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatCSV  Format = "csv"
)

// Request contains parameters for an export operation. SubmissionID is
// used for single-report formats (pdf, docx); TemplateID for csv, which
// exports every submission of the template.
type Request struct {
	OrganizationID string
	SubmissionID   string
	TemplateID     string
	Format         Format
}

// SubmissionInfo holds the submission data needed for export
type SubmissionInfo struct {
	ID            string
	TemplateID    string
	CaseReference string
	SubmittedAt   time.Time
	Answers       json.RawMessage
}

// TemplateInfo holds the template metadata needed for export
type TemplateInfo struct {
	ID             string
	Name           string
	DisclosureType string
	Language       string
	Version        int
	Schema         json.RawMessage
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrContentUnavailable indicates submission content could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
