package core

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/rosterimport/internal/logging"
)

// Default limits, overridden from configuration.
const (
	DefaultMaxFileSize       = 5 << 20
	DefaultPreviewRowLimit   = 1000
	DefaultPreviewSampleSize = 10
	DefaultImportTimeout     = 5 * time.Minute
)

// Options tunes the Service.
type Options struct {
	MaxFileSize       int64
	PreviewRowLimit   int
	PreviewSampleSize int
	ImportTimeout     time.Duration
	MaxConcurrent     int
	MaxWait           time.Duration

	// Now defaults to time.Now; tests pin it.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.PreviewRowLimit <= 0 {
		o.PreviewRowLimit = DefaultPreviewRowLimit
	}
	if o.PreviewSampleSize <= 0 {
		o.PreviewSampleSize = DefaultPreviewSampleSize
	}
	if o.ImportTimeout <= 0 {
		o.ImportTimeout = DefaultImportTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Upload is a file handed to Preview or Commit.
type Upload struct {
	FileName    string
	ContentType string
	Data        []byte
	// Actor identifies who submitted the file, for the audit trail.
	Actor string
}

// PreviewSummary counts every processed row exactly once:
// ValidRows + InvalidRows + SkippedRows == ProcessedRows.
type PreviewSummary struct {
	TotalRows     int  `json:"totalRows"`
	ProcessedRows int  `json:"processedRows"`
	ValidRows     int  `json:"validRows"`
	InvalidRows   int  `json:"invalidRows"`
	SkippedRows   int  `json:"skippedRows"`
	Limited       bool `json:"limited"`
}

// PreviewResponse is the read-only verdict on a file.
type PreviewResponse struct {
	Success          bool           `json:"success"`
	Summary          PreviewSummary `json:"summary"`
	Preview          []CandidateRow `json:"preview"`
	ValidationErrors []ImportError  `json:"validationErrors"`
	ParseErrors      []ImportError  `json:"parseErrors,omitempty"`
	CanImport        bool           `json:"canImport"`
}

// CommitSummary holds commit counts. DurationMs is zero when the commit was
// refused at validation.
type CommitSummary struct {
	TotalRows    int   `json:"totalRows"`
	SuccessCount int   `json:"successCount"`
	FailureCount int   `json:"failureCount"`
	DurationMs   int64 `json:"durationMs,omitempty"`
}

// CommitResponse reports a commit. Imported is false when validation
// refused the file and nothing was written.
type CommitResponse struct {
	Success              bool          `json:"success"`
	Imported             bool          `json:"imported"`
	Summary              CommitSummary `json:"summary"`
	ValidationErrors     []ImportError `json:"validationErrors,omitempty"`
	ParseErrors          []ImportError `json:"parseErrors,omitempty"`
	Errors               []ImportError `json:"errors,omitempty"`
	SuccessfulRowNumbers []int         `json:"successfulRowNumbers,omitempty"`
	FailedRowNumbers     []int         `json:"failedRowNumbers,omitempty"`
	CompletedAt          *time.Time    `json:"completedAt,omitempty"`
	Warnings             []ImportError `json:"warnings,omitempty"`
}

// Service sequences parsing, validation and writing for roster imports.
// It holds no per-import state: every call starts from the raw file.
type Service struct {
	store   Store
	writer  *Writer
	limiter *ImportLimiter
	opts    Options
}

// NewService creates a Service over store.
func NewService(store Store, opts Options) *Service {
	opts = opts.withDefaults()
	w := NewWriter(store)
	w.now = opts.Now
	return &Service{
		store:   store,
		writer:  w,
		limiter: NewImportLimiter(opts.MaxConcurrent, opts.MaxWait),
		opts:    opts,
	}
}

// Limiter exposes the commit limiter for shutdown draining and health.
func (s *Service) Limiter() *ImportLimiter {
	return s.limiter
}

// Preview parses and validates a file without writing anything.
// Calling it twice with the same file and tenant state gives the same result.
func (s *Service) Preview(ctx context.Context, tenantID uuid.UUID, u Upload) (*PreviewResponse, error) {
	log := logging.WithFields(ctx, "file", u.FileName, "bytes", len(u.Data))

	kind, err := s.checkUpload(u)
	if err != nil {
		return nil, err
	}

	parsed, err := parseUpload(u, kind)
	if err != nil {
		return nil, err
	}

	processed := parsed.TotalRows
	limited := false
	if processed > s.opts.PreviewRowLimit {
		parsed = truncateResult(parsed, s.opts.PreviewRowLimit)
		processed = s.opts.PreviewRowLimit
		limited = true
	}

	snap, err := s.store.ReferenceSnapshot(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load reference data: %w", err)
	}
	snap.AcademicYearName = ""

	v := ValidateFile(parsed.Rows, parsed.Rejected, snap, s.opts.Now())

	summary := PreviewSummary{
		TotalRows:     parsed.TotalRows,
		ProcessedRows: processed,
		ValidRows:     v.ValidCount,
		InvalidRows:   v.InvalidCount + len(parsed.RejectedRows),
		SkippedRows:   len(parsed.SkippedRows),
		Limited:       limited,
	}

	sample := parsed.Rows
	if len(sample) > s.opts.PreviewSampleSize {
		sample = sample[:s.opts.PreviewSampleSize]
	}

	log.Info("preview complete",
		"total", summary.TotalRows,
		"valid", summary.ValidRows,
		"invalid", summary.InvalidRows,
		"skipped", summary.SkippedRows,
		"limited", limited,
	)

	return &PreviewResponse{
		Success:          true,
		Summary:          summary,
		Preview:          nonNilRows(sample),
		ValidationErrors: nonNilErrors(v.Errors()),
		ParseErrors:      parsed.Errors,
		CanImport:        summary.InvalidRows == 0 && summary.SkippedRows == 0 && summary.ValidRows > 0,
	}, nil
}

// Commit re-parses and re-validates the whole file against fresh reference
// data, then writes the rows if no row carries an ERROR. Row write failures
// are reported in the response; the call errors only on context errors or
// a failed batch.
func (s *Service) Commit(ctx context.Context, tenantID, academicYearID uuid.UUID, u Upload) (*CommitResponse, error) {
	log := logging.WithFields(ctx,
		"file", u.FileName,
		"bytes", len(u.Data),
		"academic_year_id", academicYearID,
	)

	kind, err := s.checkUpload(u)
	if err != nil {
		return nil, err
	}

	if academicYearID == uuid.Nil {
		return nil, ErrMissingAcademicYear
	}

	year, err := s.store.FindAcademicYear(ctx, tenantID, academicYearID)
	if err != nil {
		return nil, fmt.Errorf("find academic year: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.ImportTimeout)
	defer cancel()

	if err := s.limiter.Acquire(ctx); err != nil {
		log.Warn("commit rejected by limiter", "error", err)
		return nil, err
	}
	defer s.limiter.Release()

	parsed, err := parseUpload(u, kind)
	if err != nil {
		return nil, err
	}

	snap, err := s.store.ReferenceSnapshot(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load reference data: %w", err)
	}
	snap.AcademicYearName = year.Name

	v := ValidateFile(parsed.Rows, parsed.Rejected, snap, s.opts.Now())

	if len(parsed.BlockingErrors()) > 0 || v.HasErrors() {
		failed := v.InvalidCount + len(parsed.RejectedRows) + len(parsed.SkippedRows)
		log.Info("commit refused by validation", "total", parsed.TotalRows, "failed", failed)
		return &CommitResponse{
			Success:  false,
			Imported: false,
			Summary: CommitSummary{
				TotalRows:    parsed.TotalRows,
				SuccessCount: 0,
				FailureCount: failed,
			},
			ValidationErrors: nonNilErrors(v.Errors()),
			ParseErrors:      parsed.Errors,
		}, nil
	}

	result, err := s.writer.CommitRows(ctx, tenantID, academicYearID, v.ValidRows)
	if err != nil {
		return nil, fmt.Errorf("commit rows: %w", err)
	}

	s.recordAudit(ctx, tenantID, academicYearID, u, result)

	log.Info("commit complete",
		"success", result.SuccessCount,
		"failed", result.FailureCount,
		"duration_ms", result.DurationMs,
	)

	completed := result.CompletedAt
	return &CommitResponse{
		Success:  result.SuccessCount > 0,
		Imported: result.SuccessCount > 0,
		Summary: CommitSummary{
			TotalRows:    parsed.TotalRows,
			SuccessCount: result.SuccessCount,
			FailureCount: result.FailureCount,
			DurationMs:   result.DurationMs,
		},
		Errors:               result.Errors,
		SuccessfulRowNumbers: result.SuccessfulRowNumbers,
		FailedRowNumbers:     result.FailedRowNumbers,
		CompletedAt:          &completed,
		Warnings:             append(parsed.Errors, v.Errors()...),
	}, nil
}

type fileKind int

const (
	kindText fileKind = iota
	kindXLSX
)

var textExtensions = map[string]bool{".csv": true, ".txt": true, ".tsv": true}

var textContentTypes = map[string]bool{
	"text/csv":                  true,
	"text/plain":                true,
	"text/tab-separated-values": true,
	"application/csv":           true,
	"application/vnd.ms-excel":  true,
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// checkUpload runs the context checks that need no parsing.
func (s *Service) checkUpload(u Upload) (fileKind, error) {
	if int64(len(u.Data)) > s.opts.MaxFileSize {
		return 0, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, len(u.Data), s.opts.MaxFileSize)
	}

	kind, ok := detectKind(u.FileName, u.ContentType)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFileType, u.FileName)
	}

	if len(u.Data) == 0 {
		return 0, ErrEmptyFile
	}
	return kind, nil
}

// detectKind trusts the file extension when there is one, and the declared
// content type otherwise.
func detectKind(name, contentType string) (fileKind, bool) {
	if ext := strings.ToLower(filepath.Ext(name)); ext != "" {
		switch {
		case textExtensions[ext]:
			return kindText, true
		case ext == ".xlsx":
			return kindXLSX, true
		default:
			return 0, false
		}
	}

	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	switch {
	case textContentTypes[ct]:
		return kindText, true
	case ct == xlsxContentType:
		return kindXLSX, true
	}
	return 0, false
}

// parseUpload parses the file and raises structural problems as errors.
func parseUpload(u Upload, kind fileKind) (ParseResult, error) {
	opts := ParseOptions{SkipHeader: true}

	var parsed ParseResult
	if kind == kindXLSX {
		var err error
		parsed, err = ParseXLSX(u.Data, opts)
		if err != nil {
			return ParseResult{}, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
		}
	} else {
		parsed = Parse(u.Data, opts)
	}

	if h := parsed.HeaderError(); h != nil {
		return ParseResult{}, &HeaderError{Message: h.Message}
	}
	if parsed.TotalRows == 0 {
		return ParseResult{}, fmt.Errorf("%w: no data rows after header", ErrEmptyFile)
	}
	return parsed, nil
}

// truncateResult keeps rows numbered up to limit.
func truncateResult(p ParseResult, limit int) ParseResult {
	out := ParseResult{TotalRows: p.TotalRows}
	for _, r := range p.Rows {
		if r.RowNumber <= limit {
			out.Rows = append(out.Rows, r)
		}
	}
	for _, e := range p.Errors {
		if e.RowNumber <= limit {
			out.Errors = append(out.Errors, e)
		}
	}
	for _, r := range p.Rejected {
		if r.RowNumber <= limit {
			out.Rejected = append(out.Rejected, r)
		}
	}
	for _, n := range p.RejectedRows {
		if n <= limit {
			out.RejectedRows = append(out.RejectedRows, n)
		}
	}
	for _, n := range p.SkippedRows {
		if n <= limit {
			out.SkippedRows = append(out.SkippedRows, n)
		}
	}
	return out
}

func nonNilRows(rows []CandidateRow) []CandidateRow {
	if rows == nil {
		return []CandidateRow{}
	}
	return rows
}

func nonNilErrors(errs []ImportError) []ImportError {
	if errs == nil {
		return []ImportError{}
	}
	return errs
}
