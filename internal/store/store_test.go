package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/rosterimport/internal/config"
	"github.com/JonMunkholm/rosterimport/internal/core"
)

// ============================================================================
// Memory store
// ============================================================================

func TestMemory_SnapshotIsTenantScoped(t *testing.T) {
	m := NewMemory()
	a, b := uuid.New(), uuid.New()
	m.AddClass(a, "Grade 1")
	m.AddClass(b, "Grade 9")
	m.AddStudent(a, "S1")
	m.AddStudent(b, "S9")

	snap, err := m.ReferenceSnapshot(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, []string{"Grade 1"}, snap.ClassNames)
	assert.Equal(t, []string{"S1"}, snap.AdmissionNumbers)
}

func TestMemory_FindAcademicYear(t *testing.T) {
	m := NewMemory()
	tenant := uuid.New()
	y := m.AddAcademicYear(tenant, "2025")

	got, err := m.FindAcademicYear(context.Background(), tenant, y.ID)
	require.NoError(t, err)
	assert.Equal(t, "2025", got.Name)

	_, err = m.FindAcademicYear(context.Background(), uuid.New(), y.ID)
	assert.ErrorIs(t, err, core.ErrAcademicYearNotFound)

	_, err = m.FindAcademicYear(context.Background(), tenant, uuid.New())
	assert.ErrorIs(t, err, core.ErrAcademicYearNotFound)
}

func TestMemory_BatchCommitAndRollback(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	tenant := uuid.New()
	m.AddClass(tenant, "Grade 1")

	write := func(b core.Batch, admission string) error {
		return b.WriteStudent(ctx, core.StudentWrite{
			TenantID: tenant,
			Row:      core.CandidateRow{AdmissionNumber: admission, ClassName: "grade 1"},
		})
	}

	rolled, err := m.BeginBatch(ctx)
	require.NoError(t, err)
	require.NoError(t, write(rolled, "S1"))
	require.NoError(t, rolled.Rollback(ctx))
	assert.Empty(t, m.Students(tenant))

	b, err := m.BeginBatch(ctx)
	require.NoError(t, err)
	require.NoError(t, write(b, "S1"))
	require.NoError(t, b.Commit(ctx))

	students := m.Students(tenant)
	require.Len(t, students, 1)
	assert.Equal(t, "Grade 1", students[0].ClassName)
	assert.Equal(t, 2, m.BatchesBegun())
}

func TestMemory_WriteFailures(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	tenant := uuid.New()
	m.AddClass(tenant, "Grade 1")
	m.AddStudent(tenant, "OLD")

	b, err := m.BeginBatch(ctx)
	require.NoError(t, err)

	tests := []struct {
		name   string
		row    core.CandidateRow
		reason core.FailureReason
	}{
		{"existing", core.CandidateRow{AdmissionNumber: "old", ClassName: "Grade 1"}, core.FailureDuplicate},
		{"unknown class", core.CandidateRow{AdmissionNumber: "N1", ClassName: "Grade 2"}, core.FailureClassNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.WriteStudent(ctx, core.StudentWrite{TenantID: tenant, Row: tt.row})
			var we *core.WriteError
			require.ErrorAs(t, err, &we)
			assert.Equal(t, tt.reason, we.Reason)
		})
	}

	// Same admission number twice in one batch.
	require.NoError(t, b.WriteStudent(ctx, core.StudentWrite{TenantID: tenant, Row: core.CandidateRow{AdmissionNumber: "N2", ClassName: "Grade 1"}}))
	err = b.WriteStudent(ctx, core.StudentWrite{TenantID: tenant, Row: core.CandidateRow{AdmissionNumber: "n2", ClassName: "Grade 1"}})
	var we *core.WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, core.FailureDuplicate, we.Reason)
}

func TestMemory_ListImportsNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	tenant := uuid.New()

	for i := 0; i < 3; i++ {
		require.NoError(t, m.RecordImport(ctx, core.ImportAudit{TenantID: tenant, FileName: fmt.Sprintf("f%d.csv", i)}))
	}
	require.NoError(t, m.RecordImport(ctx, core.ImportAudit{TenantID: uuid.New(), FileName: "other.csv"}))

	got, err := m.ListImports(ctx, tenant, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "f2.csv", got[0].FileName)
	assert.Equal(t, "f1.csv", got[1].FileName)
}

func TestOpen_InMemory(t *testing.T) {
	ctx := context.Background()
	b, err := Open(ctx, &config.Config{Database: config.DatabaseConfig{InMemory: true}})
	require.NoError(t, err)
	defer b.Close()

	assert.Nil(t, b.Ping)
	assert.NoError(t, b.Migrate(ctx))
	assert.IsType(t, &Memory{}, b.Store)
}

func TestSeedDemo(t *testing.T) {
	m := NewMemory()
	tenant, year := SeedDemo(m)

	snap, err := m.ReferenceSnapshot(context.Background(), tenant)
	require.NoError(t, err)
	assert.Contains(t, snap.ClassNames, "Grade 5A")

	got, err := m.FindAcademicYear(context.Background(), tenant, year.ID)
	require.NoError(t, err)
	assert.Equal(t, "2025", got.Name)
}

// ============================================================================
// Postgres helpers
// ============================================================================

func TestClassifyWriteError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want core.FailureReason
	}{
		{"unique violation", &pgconn.PgError{Code: "23505", Message: "duplicate key"}, core.FailureDuplicate},
		{"wrapped unique violation", fmt.Errorf("insert student: %w", &pgconn.PgError{Code: "23505"}), core.FailureDuplicate},
		{"foreign key", &pgconn.PgError{Code: "23503", Message: "fk"}, core.FailureConstraint},
		{"check", &pgconn.PgError{Code: "23514", Message: "check"}, core.FailureConstraint},
		{"other pg error", &pgconn.PgError{Code: "42P01"}, core.FailureInternal},
		{"plain error", errors.New("boom"), core.FailureInternal},
		{"already classified", core.NewWriteError(core.FailureClassNotFound, "gone", nil), core.FailureClassNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var we *core.WriteError
			require.ErrorAs(t, classifyWriteError(tt.err), &we)
			assert.Equal(t, tt.want, we.Reason)
		})
	}
}

func TestPgHelpers(t *testing.T) {
	assert.False(t, pgText("").Valid)
	assert.True(t, pgText("x").Valid)

	d := pgDate("2014-01-02")
	assert.True(t, d.Valid)
	assert.Equal(t, 2014, d.Time.Year())
	assert.False(t, pgDate("").Valid)
}

func TestSchemaEmbedded(t *testing.T) {
	for _, table := range []string{"students", "enrollments", "guardians", "student_accounts", "import_audits"} {
		assert.True(t, strings.Contains(schemaSQL, "CREATE TABLE IF NOT EXISTS "+table), table)
	}
}
