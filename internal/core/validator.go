package core

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// emailRe is a deliberately loose syntax check: something@something.tld
var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Validate runs the row checks against a tenant snapshot. It never touches
// storage; preview and commit call it with different snapshots.
//
// Checks, in order, per row:
//   - class must exist in the snapshot (ERROR); the row is rewritten to the
//     tenant's spelling of the class
//   - admission number must not already exist (ERROR)
//   - admission number must be unique within rows (ERROR on every copy)
//   - email fields must look like email addresses (WARNING)
//   - date of birth must not be after now (ERROR)
//   - academic year label must match the target year, when both are set (WARNING)
func Validate(rows []CandidateRow, snap ReferenceSnapshot, now time.Time) ValidationResult {
	return ValidateFile(rows, nil, snap, now)
}

// ValidateFile is Validate for a whole file. rejected are rows of the same
// file that parsing already refused; they are not validated, but their
// admission numbers take part in the duplicate check.
func ValidateFile(rows, rejected []CandidateRow, snap ReferenceSnapshot, now time.Time) ValidationResult {
	classes := make(map[string]string, len(snap.ClassNames))
	for _, c := range snap.ClassNames {
		classes[classKey(c)] = c
	}

	existing := make(map[string]struct{}, len(snap.AdmissionNumbers))
	for _, a := range snap.AdmissionNumbers {
		existing[admissionKey(a)] = struct{}{}
	}

	seen := make(map[string][]int, len(rows)+len(rejected))
	for _, r := range slices.Concat(rows, rejected) {
		k := admissionKey(r.AdmissionNumber)
		seen[k] = append(seen[k], r.RowNumber)
	}
	for k := range seen {
		slices.Sort(seen[k])
	}

	today := now.Format(isoDateLayout)
	targetYear := strings.TrimSpace(snap.AcademicYearName)

	result := ValidationResult{
		ErrorsByRow: make(map[int][]ImportError),
		TotalRows:   len(rows),
	}

	for _, r := range rows {
		var errs []ImportError
		add := func(field, msg string, sev Severity) {
			errs = append(errs, ImportError{
				RowNumber: r.RowNumber,
				Field:     field,
				Message:   msg,
				Severity:  sev,
			})
		}

		if canonical, ok := classes[classKey(r.ClassName)]; ok {
			r.ClassName = canonical
		} else {
			add(FieldClassName, fmt.Sprintf("class %q does not exist", r.ClassName), SeverityError)
		}

		key := admissionKey(r.AdmissionNumber)
		if _, ok := existing[key]; ok {
			add(FieldAdmissionNumber, fmt.Sprintf("admission number %q is already registered", r.AdmissionNumber), SeverityError)
		}

		if rowsWithKey := seen[key]; len(rowsWithKey) > 1 {
			add(FieldAdmissionNumber, fmt.Sprintf("admission number %q is also used on %s",
				r.AdmissionNumber, otherRows(rowsWithKey, r.RowNumber)), SeverityError)
		}

		if r.Email != "" && !emailRe.MatchString(r.Email) {
			add(FieldEmail, fmt.Sprintf("%q does not look like an email address", r.Email), SeverityWarning)
		}
		if r.GuardianEmail != "" && !emailRe.MatchString(r.GuardianEmail) {
			add(FieldGuardianEmail, fmt.Sprintf("%q does not look like an email address", r.GuardianEmail), SeverityWarning)
		}

		if r.DateOfBirth != "" && r.DateOfBirth > today {
			add(FieldDateOfBirth, "date of birth "+r.DateOfBirth+" is in the future", SeverityError)
		}

		if targetYear != "" && r.AcademicYear != "" && !strings.EqualFold(r.AcademicYear, targetYear) {
			add(FieldAcademicYear, fmt.Sprintf("academic year %q differs from target %q and will be ignored",
				r.AcademicYear, targetYear), SeverityWarning)
		}

		if len(errs) > 0 {
			result.ErrorsByRow[r.RowNumber] = errs
		}

		if hasErrorSeverity(errs) {
			result.InvalidCount++
			continue
		}
		result.ValidRows = append(result.ValidRows, r)
		result.ValidCount++
	}

	return result
}

// Errors flattens ErrorsByRow into row order.
func (v ValidationResult) Errors() []ImportError {
	var out []ImportError
	for _, n := range slices.Sorted(maps.Keys(v.ErrorsByRow)) {
		out = append(out, v.ErrorsByRow[n]...)
	}
	return out
}

func classKey(s string) string {
	return strings.ToLower(collapseSpaces(s))
}

func admissionKey(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// otherRows renders the rows in rowNumbers other than self, e.g. "row 4"
// or "rows 2, 7".
func otherRows(rowNumbers []int, self int) string {
	var others []string
	for _, n := range rowNumbers {
		if n != self {
			others = append(others, strconv.Itoa(n))
		}
	}
	if len(others) == 1 {
		return "row " + others[0]
	}
	return "rows " + strings.Join(others, ", ")
}
