package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var validatorNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func validRow(n int, admission string) CandidateRow {
	return CandidateRow{
		RowNumber:       n,
		AdmissionNumber: admission,
		FirstName:       "Ada",
		LastName:        "Lovelace",
		ClassName:       "Grade 5A",
	}
}

func defaultSnapshot() ReferenceSnapshot {
	return ReferenceSnapshot{
		ClassNames:       []string{"Grade 5A", "Grade 5B"},
		AdmissionNumbers: []string{"OLD-1"},
	}
}

func fieldsOf(errs []ImportError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Field)
	}
	return out
}

func TestValidate_AllValid(t *testing.T) {
	rows := []CandidateRow{validRow(1, "S1"), validRow(2, "S2")}

	res := Validate(rows, defaultSnapshot(), validatorNow)

	assert.Equal(t, 2, res.ValidCount)
	assert.Equal(t, 0, res.InvalidCount)
	assert.Equal(t, 2, res.TotalRows)
	assert.Empty(t, res.ErrorsByRow)
	assert.False(t, res.HasErrors())
}

func TestValidate_UnknownClass(t *testing.T) {
	row := validRow(1, "S1")
	row.ClassName = "Grade 9Z"

	res := Validate([]CandidateRow{row}, defaultSnapshot(), validatorNow)

	assert.Equal(t, 1, res.InvalidCount)
	require.Len(t, res.ErrorsByRow[1], 1)
	assert.Equal(t, FieldClassName, res.ErrorsByRow[1][0].Field)
	assert.Equal(t, SeverityError, res.ErrorsByRow[1][0].Severity)
}

func TestValidate_ClassCanonicalized(t *testing.T) {
	row := validRow(1, "S1")
	row.ClassName = "grade  5a"

	res := Validate([]CandidateRow{row}, defaultSnapshot(), validatorNow)

	require.Len(t, res.ValidRows, 1)
	assert.Equal(t, "Grade 5A", res.ValidRows[0].ClassName)
}

func TestValidate_ExistingAdmissionNumber(t *testing.T) {
	res := Validate([]CandidateRow{validRow(1, "old-1")}, defaultSnapshot(), validatorNow)

	assert.Equal(t, 1, res.InvalidCount)
	require.Len(t, res.ErrorsByRow[1], 1)
	assert.Equal(t, FieldAdmissionNumber, res.ErrorsByRow[1][0].Field)
	assert.Contains(t, res.ErrorsByRow[1][0].Message, "already registered")
}

func TestValidate_IntraBatchDuplicateMarksEveryRow(t *testing.T) {
	rows := []CandidateRow{validRow(1, "S1"), validRow(2, "S2"), validRow(3, "s1")}

	res := Validate(rows, defaultSnapshot(), validatorNow)

	assert.Equal(t, 1, res.ValidCount)
	assert.Equal(t, 2, res.InvalidCount)

	require.Len(t, res.ErrorsByRow[1], 1)
	require.Len(t, res.ErrorsByRow[3], 1)
	assert.Contains(t, res.ErrorsByRow[1][0].Message, "row 3")
	assert.Contains(t, res.ErrorsByRow[3][0].Message, "row 1")
	assert.NotContains(t, res.ErrorsByRow, 2)
}

func TestValidate_TripleDuplicateNamesOtherRows(t *testing.T) {
	rows := []CandidateRow{validRow(1, "S1"), validRow(4, "S1"), validRow(7, "S1")}

	res := Validate(rows, defaultSnapshot(), validatorNow)

	assert.Equal(t, 3, res.InvalidCount)
	assert.Contains(t, res.ErrorsByRow[4][0].Message, "rows 1, 7")
}

func TestValidateFile_RejectedRowsCountAsDuplicates(t *testing.T) {
	rejected := []CandidateRow{{RowNumber: 1, AdmissionNumber: "A1", FirstName: "Amina", ClassName: "Grade 5A"}}
	rows := []CandidateRow{validRow(2, "a1"), validRow(3, "A2")}

	res := ValidateFile(rows, rejected, defaultSnapshot(), validatorNow)

	assert.Equal(t, 2, res.TotalRows)
	assert.Equal(t, 1, res.ValidCount)
	assert.Equal(t, 1, res.InvalidCount)
	require.Len(t, res.ErrorsByRow[2], 1)
	assert.Equal(t, FieldAdmissionNumber, res.ErrorsByRow[2][0].Field)
	assert.Contains(t, res.ErrorsByRow[2][0].Message, "also used on row 1")
	assert.NotContains(t, res.ErrorsByRow, 1, "rejected rows are not validated again")
}

func TestValidate_EmailWarningsDoNotBlock(t *testing.T) {
	row := validRow(1, "S1")
	row.Email = "not-an-email"
	row.GuardianEmail = "parent@"

	res := Validate([]CandidateRow{row}, defaultSnapshot(), validatorNow)

	assert.Equal(t, 1, res.ValidCount)
	assert.Equal(t, 0, res.InvalidCount)
	errs := res.ErrorsByRow[1]
	assert.ElementsMatch(t, []string{FieldEmail, FieldGuardianEmail}, fieldsOf(errs))
	for _, e := range errs {
		assert.Equal(t, SeverityWarning, e.Severity)
	}
}

func TestValidate_ValidEmailNoWarning(t *testing.T) {
	row := validRow(1, "S1")
	row.Email = "ada@example.com"

	res := Validate([]CandidateRow{row}, defaultSnapshot(), validatorNow)
	assert.Empty(t, res.ErrorsByRow)
}

func TestValidate_DateOfBirth(t *testing.T) {
	tests := []struct {
		name    string
		dob     string
		invalid bool
	}{
		{"past", "2012-03-04", false},
		{"today", "2025-06-01", false},
		{"tomorrow", "2025-06-02", true},
		{"absent", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := validRow(1, "S1")
			row.DateOfBirth = tt.dob

			res := Validate([]CandidateRow{row}, defaultSnapshot(), validatorNow)

			if tt.invalid {
				assert.Equal(t, 1, res.InvalidCount)
				assert.Equal(t, []string{FieldDateOfBirth}, fieldsOf(res.ErrorsByRow[1]))
			} else {
				assert.Equal(t, 1, res.ValidCount)
			}
		})
	}
}

func TestValidate_AcademicYearMismatchWarns(t *testing.T) {
	snap := defaultSnapshot()
	snap.AcademicYearName = "2025"

	match := validRow(1, "S1")
	match.AcademicYear = "2025"
	mismatch := validRow(2, "S2")
	mismatch.AcademicYear = "2024"

	res := Validate([]CandidateRow{match, mismatch}, snap, validatorNow)

	assert.Equal(t, 2, res.ValidCount)
	assert.NotContains(t, res.ErrorsByRow, 1)
	require.Len(t, res.ErrorsByRow[2], 1)
	assert.Equal(t, SeverityWarning, res.ErrorsByRow[2][0].Severity)
}

func TestValidate_ErrorsAccumulateInCheckOrder(t *testing.T) {
	row := validRow(1, "OLD-1")
	row.ClassName = "Nope"
	row.DateOfBirth = "2030-01-01"

	res := Validate([]CandidateRow{row}, defaultSnapshot(), validatorNow)

	assert.Equal(t, []string{FieldClassName, FieldAdmissionNumber, FieldDateOfBirth}, fieldsOf(res.ErrorsByRow[1]))
}

func TestValidate_Conservation(t *testing.T) {
	bad := validRow(3, "S3")
	bad.ClassName = "Nope"
	rows := []CandidateRow{validRow(1, "S1"), validRow(2, "S1"), bad, validRow(4, "S4")}

	res := Validate(rows, defaultSnapshot(), validatorNow)

	assert.Equal(t, res.TotalRows, res.ValidCount+res.InvalidCount)
	assert.Len(t, res.ValidRows, res.ValidCount)
}

func TestValidationResult_ErrorsSorted(t *testing.T) {
	rows := []CandidateRow{validRow(5, "S1"), validRow(2, "S1")}
	res := Validate(rows, defaultSnapshot(), validatorNow)

	errs := res.Errors()
	require.Len(t, errs, 2)
	assert.Equal(t, 2, errs[0].RowNumber)
	assert.Equal(t, 5, errs[1].RowNumber)
}
