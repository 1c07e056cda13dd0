// Package core provides the business logic for student roster imports.
// This package has no transport or storage dependencies and can be used by
// any frontend.
package core

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Gender is the closed set of gender values a row may carry.
type Gender string

const (
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
	GenderOther  Gender = "OTHER"
)

// Severity indicates whether an ImportError blocks a row.
type Severity string

const (
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

// Logical field names used in ImportError.Field and header resolution.
const (
	FieldAdmissionNumber = "admissionNumber"
	FieldFirstName       = "firstName"
	FieldLastName        = "lastName"
	FieldDateOfBirth     = "dateOfBirth"
	FieldGender          = "gender"
	FieldClassName       = "className"
	FieldGuardianName    = "guardianName"
	FieldGuardianPhone   = "guardianPhone"
	FieldGuardianEmail   = "guardianEmail"
	FieldEmail           = "email"
	FieldAddress         = "address"
	FieldAcademicYear    = "academicYear"
	FieldHeader          = "header"
	FieldRow             = "row"
)

// CandidateRow is one parsed, normalized but not yet validated data line.
type CandidateRow struct {
	RowNumber       int    `json:"rowNumber"` // 1-based, counted over non-blank lines after the header
	AdmissionNumber string `json:"admissionNumber"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	DateOfBirth     string `json:"dateOfBirth,omitempty"` // YYYY-MM-DD or empty
	Gender          Gender `json:"gender,omitempty"`
	ClassName       string `json:"className"`
	GuardianName    string `json:"guardianName,omitempty"`
	GuardianPhone   string `json:"guardianPhone,omitempty"`
	GuardianEmail   string `json:"guardianEmail,omitempty"`
	Email           string `json:"email,omitempty"`
	Address         string `json:"address,omitempty"`
	AcademicYear    string `json:"academicYear,omitempty"`
}

// HasGuardian reports whether the row carries any guardian contact data.
func (r CandidateRow) HasGuardian() bool {
	return r.GuardianName != "" || r.GuardianPhone != "" || r.GuardianEmail != ""
}

// ImportError is a single problem attributed to a row and field.
// RowNumber 0 denotes a file-level problem.
type ImportError struct {
	RowNumber int      `json:"rowNumber"`
	Field     string   `json:"field"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
}

func (e ImportError) Error() string {
	if e.RowNumber == 0 {
		return e.Field + ": " + e.Message
	}
	return "row " + strconv.Itoa(e.RowNumber) + " " + e.Field + ": " + e.Message
}

// ParseOptions controls Parse.
type ParseOptions struct {
	// SkipHeader treats the first non-blank line as a header row.
	// When false, the template column order is assumed.
	SkipHeader bool
}

// ParseResult is the outcome of parsing one file.
type ParseResult struct {
	Rows         []CandidateRow
	Errors       []ImportError
	TotalRows    int   // every non-blank data line, accepted or not
	RejectedRows []int // lines missing a required value
	SkippedRows  []int // lines with the wrong number of fields

	// Rejected holds the partially filled rows behind RejectedRows that
	// carry an admission number, for the duplicate check.
	Rejected []CandidateRow
}

// ReferenceSnapshot is the tenant-scoped, read-only context rows are
// validated against. It is fetched fresh for every call.
type ReferenceSnapshot struct {
	ClassNames       []string
	AdmissionNumbers []string
	// AcademicYearName is only set for commit.
	AcademicYearName string
}

// ValidationResult partitions candidates into accepted rows and errors.
type ValidationResult struct {
	ValidRows    []CandidateRow
	ErrorsByRow  map[int][]ImportError
	ValidCount   int
	InvalidCount int
	TotalRows    int
}

// HasErrors reports whether any row carries an ERROR entry.
func (v ValidationResult) HasErrors() bool {
	return v.InvalidCount > 0
}

// AcademicYear is a tenant's academic year.
type AcademicYear struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Name     string
	Active   bool
}

// StudentWrite is everything needed to materialize one accepted row.
type StudentWrite struct {
	TenantID       uuid.UUID
	AcademicYearID uuid.UUID
	Row            CandidateRow
}

// FailureReason classifies a write-time row failure.
type FailureReason string

const (
	FailureDuplicate     FailureReason = "duplicate"
	FailureClassNotFound FailureReason = "class_not_found"
	FailureConstraint    FailureReason = "constraint"
	FailureInternal      FailureReason = "internal"
)

// RowOutcome is the write result for a single row.
type RowOutcome struct {
	RowNumber int
	OK        bool
	Reason    FailureReason
	Message   string
}

// ImportResult is the immutable report produced by a commit.
type ImportResult struct {
	TotalRows            int           `json:"totalRows"`
	SuccessCount         int           `json:"successCount"`
	FailureCount         int           `json:"failureCount"`
	DurationMs           int64         `json:"durationMs"`
	CompletedAt          time.Time     `json:"completedAt"`
	Errors               []ImportError `json:"errors"`
	SuccessfulRowNumbers []int         `json:"successfulRowNumbers"`
	FailedRowNumbers     []int         `json:"failedRowNumbers"`
}

// ImportAudit is the trail left by each completed commit.
type ImportAudit struct {
	ID             uuid.UUID `json:"id"`
	TenantID       uuid.UUID `json:"tenantId"`
	AcademicYearID uuid.UUID `json:"academicYearId"`
	FileName       string    `json:"fileName"`
	ContentSHA256  string    `json:"contentSha256"`
	Actor          string    `json:"actor,omitempty"`
	ClientIP       string    `json:"clientIp,omitempty"`
	TotalRows      int       `json:"totalRows"`
	SuccessCount   int       `json:"successCount"`
	FailureCount   int       `json:"failureCount"`
	DurationMs     int64     `json:"durationMs"`
	CompletedAt    time.Time `json:"completedAt"`
}

// ReferenceReader loads the validation snapshot for a tenant.
type ReferenceReader interface {
	ReferenceSnapshot(ctx context.Context, tenantID uuid.UUID) (ReferenceSnapshot, error)
}

// AcademicYearFinder looks up an academic year within a tenant.
// Implementations return ErrAcademicYearNotFound when the year does not
// exist or belongs to another tenant.
type AcademicYearFinder interface {
	FindAcademicYear(ctx context.Context, tenantID, yearID uuid.UUID) (*AcademicYear, error)
}

// Batch is one write transaction. WriteStudent must leave the batch usable
// after a failed row; a *WriteError describes a row-level failure.
type Batch interface {
	WriteStudent(ctx context.Context, w StudentWrite) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// BatchBeginner opens write batches.
type BatchBeginner interface {
	BeginBatch(ctx context.Context) (Batch, error)
}

// AuditRecorder persists commit audit entries.
type AuditRecorder interface {
	RecordImport(ctx context.Context, a ImportAudit) error
	ListImports(ctx context.Context, tenantID uuid.UUID, limit int) ([]ImportAudit, error)
}

// Store is the full set of storage collaborators the Service needs.
type Store interface {
	ReferenceReader
	AcademicYearFinder
	BatchBeginner
	AuditRecorder
}
