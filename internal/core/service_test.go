package core_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/rosterimport/internal/core"
	"github.com/JonMunkholm/rosterimport/internal/store"
)

var fixedNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc    *core.Service
	mem    *store.Memory
	tenant uuid.UUID
	year   core.AcademicYear
}

func newFixture(t *testing.T, opts core.Options) *fixture {
	t.Helper()

	mem := store.NewMemory()
	tenant := uuid.New()
	mem.AddClass(tenant, "Grade 5A")
	mem.AddClass(tenant, "Grade 5B")
	year := mem.AddAcademicYear(tenant, "2025")

	opts.Now = func() time.Time { return fixedNow }
	return &fixture{
		svc:    core.NewService(mem, opts),
		mem:    mem,
		tenant: tenant,
		year:   year,
	}
}

func csvUpload(lines ...string) core.Upload {
	return core.Upload{
		FileName:    "roster.csv",
		ContentType: "text/csv",
		Data:        []byte(strings.Join(lines, "\n") + "\n"),
		Actor:       "admin@example.com",
	}
}

const header = "admissionNumber,firstName,lastName,className,dateOfBirth,email"

// ============================================================================
// Preview
// ============================================================================

func TestPreview_MissingLastNameScenario(t *testing.T) {
	f := newFixture(t, core.Options{})

	resp, err := f.svc.Preview(context.Background(), f.tenant, csvUpload(
		header,
		"S1,Ada,Lovelace,Grade 5A,2014-01-02,ada@example.com",
		"S2,Bob,,Grade 5A,,",
	))
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Summary.ValidRows)
	assert.Equal(t, 1, resp.Summary.InvalidRows)
	assert.Equal(t, 2, resp.Summary.TotalRows)
	assert.False(t, resp.CanImport)
	require.Len(t, resp.ParseErrors, 1)
	assert.Equal(t, 2, resp.ParseErrors[0].RowNumber)
	assert.Equal(t, core.FieldLastName, resp.ParseErrors[0].Field)
}

func TestPreview_DuplicateOfRejectedRow(t *testing.T) {
	f := newFixture(t, core.Options{})

	resp, err := f.svc.Preview(context.Background(), f.tenant, csvUpload(
		header,
		"A1,Amina,,Grade 5A,,",
		"A1,Bob,Lee,Grade 5A,,",
	))
	require.NoError(t, err)

	assert.Equal(t, 0, resp.Summary.ValidRows)
	assert.Equal(t, 2, resp.Summary.InvalidRows)
	assert.False(t, resp.CanImport)
	require.Len(t, resp.ValidationErrors, 1)
	assert.Equal(t, 2, resp.ValidationErrors[0].RowNumber)
	assert.Contains(t, resp.ValidationErrors[0].Message, "row 1")
}

func TestPreview_AllValidCanImport(t *testing.T) {
	f := newFixture(t, core.Options{})

	resp, err := f.svc.Preview(context.Background(), f.tenant, csvUpload(
		header,
		"S1,Ada,Lovelace,grade 5a,,",
		"S2,Bob,Smith,Grade 5B,,",
	))
	require.NoError(t, err)

	assert.True(t, resp.CanImport)
	assert.Equal(t, 2, resp.Summary.ValidRows)
	assert.Empty(t, resp.ValidationErrors)
	assert.Len(t, resp.Preview, 2)
}

func TestPreview_Idempotent(t *testing.T) {
	f := newFixture(t, core.Options{})
	f.mem.AddStudent(f.tenant, "S3")
	u := csvUpload(
		header,
		"S1,Ada,Lovelace,Grade 5A,,bad-email",
		"S1,Bob,Smith,Grade 5A,,",
		"S3,Cy,Jones,Grade 9Z,2030-01-01,",
		"S4,Di",
	)

	first, err := f.svc.Preview(context.Background(), f.tenant, u)
	require.NoError(t, err)
	second, err := f.svc.Preview(context.Background(), f.tenant, u)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Zero(t, f.mem.BatchesBegun(), "preview must never open a write batch")
	assert.Zero(t, f.mem.Writes())
}

func TestPreview_ConservationWithSkippedRows(t *testing.T) {
	f := newFixture(t, core.Options{})

	resp, err := f.svc.Preview(context.Background(), f.tenant, csvUpload(
		header,
		"S1,Ada,Lovelace,Grade 5A,,",
		"S2,Bob,Smith,Grade 5A",
		"S3,,Jones,Grade 5A,,",
		"S4,Di,Evans,Unknown,,",
	))
	require.NoError(t, err)

	s := resp.Summary
	assert.Equal(t, 4, s.ProcessedRows)
	assert.Equal(t, 1, s.ValidRows)
	assert.Equal(t, 2, s.InvalidRows)
	assert.Equal(t, 1, s.SkippedRows, "column mismatch is called out explicitly")
	assert.Equal(t, s.ProcessedRows, s.ValidRows+s.InvalidRows+s.SkippedRows)
	assert.False(t, resp.CanImport)
}

func TestPreview_Limited(t *testing.T) {
	f := newFixture(t, core.Options{PreviewRowLimit: 3, PreviewSampleSize: 2})

	lines := []string{header}
	for i := 1; i <= 5; i++ {
		lines = append(lines, fmt.Sprintf("S%d,First%d,Last%d,Grade 5A,,", i, i, i))
	}
	lines = append(lines, "S6,,Last6,Grade 5A,,")

	resp, err := f.svc.Preview(context.Background(), f.tenant, csvUpload(lines...))
	require.NoError(t, err)

	s := resp.Summary
	assert.True(t, s.Limited)
	assert.Equal(t, 6, s.TotalRows)
	assert.Equal(t, 3, s.ProcessedRows)
	assert.Equal(t, 3, s.ValidRows)
	assert.Zero(t, s.InvalidRows, "errors beyond the limit are not counted")
	assert.Len(t, resp.Preview, 2)
	assert.Empty(t, resp.ParseErrors)
}

func TestPreview_ContextErrors(t *testing.T) {
	f := newFixture(t, core.Options{MaxFileSize: 64})

	tests := []struct {
		name   string
		upload core.Upload
		want   error
	}{
		{
			name:   "too large",
			upload: core.Upload{FileName: "a.csv", Data: []byte(strings.Repeat("x", 65))},
			want:   core.ErrFileTooLarge,
		},
		{
			name:   "wrong extension",
			upload: core.Upload{FileName: "a.pdf", ContentType: "text/csv", Data: []byte("x")},
			want:   core.ErrUnsupportedFileType,
		},
		{
			name:   "unknown content type",
			upload: core.Upload{FileName: "noext", ContentType: "image/png", Data: []byte("x")},
			want:   core.ErrUnsupportedFileType,
		},
		{
			name:   "empty",
			upload: core.Upload{FileName: "a.csv"},
			want:   core.ErrEmptyFile,
		},
		{
			name:   "header only",
			upload: core.Upload{FileName: "a.tsv", Data: []byte(header + "\n")},
			want:   core.ErrEmptyFile,
		},
		{
			name:   "broken workbook",
			upload: core.Upload{FileName: "a.xlsx", Data: []byte("not a zip")},
			want:   core.ErrUnreadableFile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Preview(context.Background(), f.tenant, tt.upload)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPreview_ContentTypeWithoutExtension(t *testing.T) {
	f := newFixture(t, core.Options{})
	u := csvUpload(header, "S1,Ada,Lovelace,Grade 5A,,")
	u.FileName = "upload"
	u.ContentType = "text/csv; charset=utf-8"

	resp, err := f.svc.Preview(context.Background(), f.tenant, u)
	require.NoError(t, err)
	assert.True(t, resp.CanImport)
}

func TestPreview_HeaderErrorIsStructural(t *testing.T) {
	f := newFixture(t, core.Options{})

	_, err := f.svc.Preview(context.Background(), f.tenant, csvUpload(
		"admissionNumber,firstName,className",
		"S1,Ada,Grade 5A",
	))

	var he *core.HeaderError
	require.ErrorAs(t, err, &he)
	assert.Contains(t, he.Message, "last name")
}

// ============================================================================
// Commit
// ============================================================================

func TestCommit_SuccessScenario(t *testing.T) {
	f := newFixture(t, core.Options{})
	u := csvUpload(header, "S1,Ada,Lovelace,Grade 5A,2014-01-02,ada@example.com")

	ctx := core.ContextWithClientIP(context.Background(), "203.0.113.7")
	resp, err := f.svc.Commit(ctx, f.tenant, f.year.ID, u)
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.True(t, resp.Imported)
	assert.Equal(t, 1, resp.Summary.SuccessCount)
	assert.Equal(t, 0, resp.Summary.FailureCount)
	assert.Equal(t, []int{1}, resp.SuccessfulRowNumbers)
	assert.Empty(t, resp.FailedRowNumbers)
	require.NotNil(t, resp.CompletedAt)

	students := f.mem.Students(f.tenant)
	require.Len(t, students, 1)
	assert.Equal(t, "Grade 5A", students[0].ClassName)
	assert.Equal(t, f.year.ID, students[0].AcademicYearID)

	history, err := f.svc.History(context.Background(), f.tenant, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, core.ContentHash(u.Data), history[0].ContentSHA256)
	assert.Equal(t, "admin@example.com", history[0].Actor)
	assert.Equal(t, "203.0.113.7", history[0].ClientIP)
	assert.Equal(t, 1, history[0].SuccessCount)
}

func TestCommit_GateRefusesWithoutWriting(t *testing.T) {
	f := newFixture(t, core.Options{})

	resp, err := f.svc.Commit(context.Background(), f.tenant, f.year.ID, csvUpload(
		header,
		"S1,Ada,Lovelace,Grade 5A,,",
		"S2,Bob,Smith,Grade 9Z,,",
	))
	require.NoError(t, err)

	assert.False(t, resp.Success)
	assert.False(t, resp.Imported)
	assert.Equal(t, 0, resp.Summary.SuccessCount)
	assert.Equal(t, 1, resp.Summary.FailureCount)
	require.Len(t, resp.ValidationErrors, 1)
	assert.Equal(t, 2, resp.ValidationErrors[0].RowNumber)

	assert.Zero(t, f.mem.BatchesBegun())
	assert.Zero(t, f.mem.Writes())
	assert.Empty(t, f.mem.Students(f.tenant))
}

func TestCommit_GateRefusesOnParseErrors(t *testing.T) {
	f := newFixture(t, core.Options{})

	resp, err := f.svc.Commit(context.Background(), f.tenant, f.year.ID, csvUpload(
		header,
		"S1,Ada,Lovelace,Grade 5A,,",
		"S2,Bob,Smith",
	))
	require.NoError(t, err)

	assert.False(t, resp.Imported)
	assert.Equal(t, 1, resp.Summary.FailureCount)
	assert.Len(t, resp.ParseErrors, 1)
	assert.Zero(t, f.mem.Writes())
}

func TestCommit_RevalidatesAgainstFreshSnapshot(t *testing.T) {
	f := newFixture(t, core.Options{})
	u := csvUpload(header, "S1,Ada,Lovelace,Grade 5A,,")

	preview, err := f.svc.Preview(context.Background(), f.tenant, u)
	require.NoError(t, err)
	require.True(t, preview.CanImport)

	// Another import registers S1 between preview and commit.
	f.mem.AddStudent(f.tenant, "S1")

	resp, err := f.svc.Commit(context.Background(), f.tenant, f.year.ID, u)
	require.NoError(t, err)
	assert.False(t, resp.Imported)
	assert.Zero(t, f.mem.Writes())
}

func TestCommit_ForeignAcademicYear(t *testing.T) {
	f := newFixture(t, core.Options{})
	other := uuid.New()
	foreignYear := f.mem.AddAcademicYear(other, "2025")

	_, err := f.svc.Commit(context.Background(), f.tenant, foreignYear.ID, csvUpload(header, "S1,Ada,Lovelace,Grade 5A,,"))

	assert.ErrorIs(t, err, core.ErrAcademicYearNotFound)
	assert.Zero(t, f.mem.BatchesBegun())
}

func TestCommit_AcademicYearCheckedBeforeParsing(t *testing.T) {
	f := newFixture(t, core.Options{})

	// The header is broken, but the year error wins.
	_, err := f.svc.Commit(context.Background(), f.tenant, uuid.New(), csvUpload("nonsense", "x"))
	assert.ErrorIs(t, err, core.ErrAcademicYearNotFound)
}

func TestCommit_MissingAcademicYear(t *testing.T) {
	f := newFixture(t, core.Options{})
	_, err := f.svc.Commit(context.Background(), f.tenant, uuid.Nil, csvUpload(header, "S1,Ada,Lovelace,Grade 5A,,"))
	assert.ErrorIs(t, err, core.ErrMissingAcademicYear)
}

func TestCommit_PartialWriteTolerance(t *testing.T) {
	f := newFixture(t, core.Options{})
	f.mem.FailOn = func(w core.StudentWrite) error {
		if w.Row.AdmissionNumber == "S2" {
			return core.NewWriteError(core.FailureDuplicate, "admission number S2 already exists", nil)
		}
		return nil
	}

	resp, err := f.svc.Commit(context.Background(), f.tenant, f.year.ID, csvUpload(
		header,
		"S1,Ada,Lovelace,Grade 5A,,",
		"S2,Bob,Smith,Grade 5A,,",
		"S3,Cy,Jones,Grade 5B,,",
	))
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, 3, resp.Summary.TotalRows)
	assert.Equal(t, 2, resp.Summary.SuccessCount)
	assert.Equal(t, 1, resp.Summary.FailureCount)
	assert.Equal(t, []int{1, 3}, resp.SuccessfulRowNumbers)
	assert.Equal(t, []int{2}, resp.FailedRowNumbers)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, core.FieldAdmissionNumber, resp.Errors[0].Field)
	assert.Len(t, f.mem.Students(f.tenant), 2)
}

func TestCommit_AllRowsFailAtWrite(t *testing.T) {
	f := newFixture(t, core.Options{})
	f.mem.FailOn = func(core.StudentWrite) error {
		return core.NewWriteError(core.FailureConstraint, "check constraint", nil)
	}

	resp, err := f.svc.Commit(context.Background(), f.tenant, f.year.ID, csvUpload(header, "S1,Ada,Lovelace,Grade 5A,,"))
	require.NoError(t, err)

	assert.False(t, resp.Success)
	assert.Equal(t, 1, resp.Summary.FailureCount)
	assert.Equal(t, []int{1}, resp.FailedRowNumbers)
}

func TestCommit_FatalWriteErrorAborts(t *testing.T) {
	f := newFixture(t, core.Options{})
	f.mem.FailOn = func(w core.StudentWrite) error {
		if w.Row.RowNumber == 2 {
			return errors.New("connection reset by peer")
		}
		return nil
	}

	_, err := f.svc.Commit(context.Background(), f.tenant, f.year.ID, csvUpload(
		header,
		"S1,Ada,Lovelace,Grade 5A,,",
		"S2,Bob,Smith,Grade 5A,,",
	))

	require.Error(t, err)
	assert.Empty(t, f.mem.Students(f.tenant), "batch is rolled back")
}

func TestCommit_BeginFailure(t *testing.T) {
	f := newFixture(t, core.Options{})
	f.mem.BeginErr = errors.New("connection refused")

	_, err := f.svc.Commit(context.Background(), f.tenant, f.year.ID, csvUpload(header, "S1,Ada,Lovelace,Grade 5A,,"))
	require.Error(t, err)
	assert.Equal(t, "DB004", core.MapError(err).Code)
}

func TestCommit_WarningsReported(t *testing.T) {
	f := newFixture(t, core.Options{})

	resp, err := f.svc.Commit(context.Background(), f.tenant, f.year.ID, csvUpload(
		header,
		"S1,Ada,Lovelace,Grade 5A,,not-an-email",
	))
	require.NoError(t, err)

	assert.True(t, resp.Imported)
	require.Len(t, resp.Warnings, 1)
	assert.Equal(t, core.SeverityWarning, resp.Warnings[0].Severity)
}

func TestCommit_TooManyImports(t *testing.T) {
	f := newFixture(t, core.Options{MaxConcurrent: 1, MaxWait: 20 * time.Millisecond})
	require.NoError(t, f.svc.Limiter().Acquire(context.Background()))
	defer f.svc.Limiter().Release()

	_, err := f.svc.Commit(context.Background(), f.tenant, f.year.ID, csvUpload(header, "S1,Ada,Lovelace,Grade 5A,,"))
	assert.ErrorIs(t, err, core.ErrTooManyImports)
	assert.Zero(t, f.mem.Writes())
}

func TestCommit_ReleasesLimiterSlot(t *testing.T) {
	f := newFixture(t, core.Options{MaxConcurrent: 1})

	_, err := f.svc.Commit(context.Background(), f.tenant, f.year.ID, csvUpload(header, "S1,Ada,Lovelace,Grade 5A,,"))
	require.NoError(t, err)
	assert.Zero(t, f.svc.Limiter().ActiveCount())
}
