package core

// parser.go turns raw roster files into CandidateRows.
//
// Parsing happens in three steps:
//  1. Header resolution: column names are matched case-insensitively against
//     a static alias table, so "Student ID", "student_id" and "admissionNo"
//     all land on the admission number field.
//  2. Field splitting: encoding/csv handles quoted fields, doubled quotes and
//     embedded separators the way spreadsheet exports produce them. A quote
//     that is never closed costs only its own line; reading resumes on the
//     next one.
//  3. Row normalization: names are trimmed, dates and genders normalized, and
//     rows missing a required value are rejected with field-level errors.
//
// Parse is a pure function of its input.

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// templateColumns is the canonical column order used by the download
// template and assumed when a file has no header row.
var templateColumns = []string{
	FieldAdmissionNumber,
	FieldFirstName,
	FieldLastName,
	FieldDateOfBirth,
	FieldGender,
	FieldClassName,
	FieldGuardianName,
	FieldGuardianPhone,
	FieldGuardianEmail,
	FieldEmail,
	FieldAddress,
	FieldAcademicYear,
}

// requiredFields must resolve to a header column and carry a value on
// every row.
var requiredFields = []string{
	FieldAdmissionNumber,
	FieldFirstName,
	FieldLastName,
	FieldClassName,
}

// fieldLabels are the human-readable names used in error messages.
var fieldLabels = map[string]string{
	FieldAdmissionNumber: "admission number",
	FieldFirstName:       "first name",
	FieldLastName:        "last name",
	FieldDateOfBirth:     "date of birth",
	FieldGender:          "gender",
	FieldClassName:       "class",
	FieldGuardianName:    "guardian name",
	FieldGuardianPhone:   "guardian phone",
	FieldGuardianEmail:   "guardian email",
	FieldEmail:           "email",
	FieldAddress:         "address",
	FieldAcademicYear:    "academic year",
}

// headerAliases maps a normalized header (see normalizeHeader) to the
// logical field it represents.
var headerAliases = map[string]string{
	// Admission number
	"admissionnumber": FieldAdmissionNumber,
	"admissionno":     FieldAdmissionNumber,
	"admission":       FieldAdmissionNumber,
	"studentid":       FieldAdmissionNumber,
	"studentnumber":   FieldAdmissionNumber,
	"studentno":       FieldAdmissionNumber,
	"externalid":      FieldAdmissionNumber,
	"registrationno":  FieldAdmissionNumber,
	"nis":             FieldAdmissionNumber,

	// Names
	"firstname": FieldFirstName,
	"givenname": FieldFirstName,
	"forename":  FieldFirstName,
	"fname":     FieldFirstName,

	"lastname":   FieldLastName,
	"surname":    FieldLastName,
	"familyname": FieldLastName,
	"lname":      FieldLastName,

	// Date of birth
	"dateofbirth": FieldDateOfBirth,
	"dob":         FieldDateOfBirth,
	"birthdate":   FieldDateOfBirth,
	"birthday":    FieldDateOfBirth,

	// Gender
	"gender": FieldGender,
	"sex":    FieldGender,

	// Class
	"class":      FieldClassName,
	"classname":  FieldClassName,
	"grade":      FieldClassName,
	"gradelevel": FieldClassName,
	"section":    FieldClassName,
	"form":       FieldClassName,

	// Guardian
	"guardianname":  FieldGuardianName,
	"guardian":      FieldGuardianName,
	"parentname":    FieldGuardianName,
	"parent":        FieldGuardianName,
	"guardianphone": FieldGuardianPhone,
	"parentphone":   FieldGuardianPhone,
	"contactphone":  FieldGuardianPhone,
	"contactnumber": FieldGuardianPhone,
	"phone":         FieldGuardianPhone,
	"mobile":        FieldGuardianPhone,
	"guardianemail": FieldGuardianEmail,
	"parentemail":   FieldGuardianEmail,

	// Student contact
	"email":        FieldEmail,
	"studentemail": FieldEmail,
	"emailaddress": FieldEmail,
	"address":      FieldAddress,
	"homeaddress":  FieldAddress,

	// Academic year
	"academicyear": FieldAcademicYear,
	"schoolyear":   FieldAcademicYear,
	"session":      FieldAcademicYear,
}

// recordReader is satisfied by *csv.Reader and by in-memory record sources.
type recordReader interface {
	Read() ([]string, error)
}

// Parse reads a delimited text file into candidate rows.
// The separator (comma, semicolon or tab) is detected from the first line.
func Parse(data []byte, opts ParseOptions) ParseResult {
	data = sanitizeUTF8(data)
	return parseRecords(newCSVSource(data, sniffDelimiter(firstLine(data))), opts)
}

// ParseRecords parses pre-split records, such as spreadsheet rows.
func ParseRecords(records [][]string, opts ParseOptions) ParseResult {
	return parseRecords(&sliceReader{records: records}, opts)
}

func parseRecords(r recordReader, opts ParseOptions) ParseResult {
	var res ParseResult

	columns, expected, ok := readHeader(r, opts, &res)
	if !ok {
		return res
	}

	rowNum := 0
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				break
			}
			rowNum++
			res.TotalRows++
			res.SkippedRows = append(res.SkippedRows, rowNum)
			res.Errors = append(res.Errors, ImportError{
				RowNumber: rowNum,
				Field:     FieldRow,
				Message:   fmt.Sprintf("malformed line: %v", perr.Err),
				Severity:  SeverityError,
			})
			continue
		}

		if isEmptyRow(record) {
			continue
		}

		rowNum++
		res.TotalRows++

		if len(record) != expected {
			res.SkippedRows = append(res.SkippedRows, rowNum)
			res.Errors = append(res.Errors, ImportError{
				RowNumber: rowNum,
				Field:     FieldRow,
				Message:   fmt.Sprintf("expected %d fields, found %d", expected, len(record)),
				Severity:  SeverityError,
			})
			continue
		}

		row, rowErrs := buildRow(rowNum, record, columns)
		res.Errors = append(res.Errors, rowErrs...)
		if hasErrorSeverity(rowErrs) {
			res.RejectedRows = append(res.RejectedRows, rowNum)
			if row.AdmissionNumber != "" {
				res.Rejected = append(res.Rejected, row)
			}
			continue
		}
		res.Rows = append(res.Rows, row)
	}

	return res
}

// readHeader resolves the column layout. On a missing required column it
// records a single header error and returns ok=false.
func readHeader(r recordReader, opts ParseOptions, res *ParseResult) (map[string]int, int, bool) {
	if !opts.SkipHeader {
		columns := make(map[string]int, len(templateColumns))
		for i, f := range templateColumns {
			columns[f] = i
		}
		return columns, len(templateColumns), true
	}

	for {
		header, err := r.Read()
		if err != nil {
			res.Errors = []ImportError{{
				Field:    FieldHeader,
				Message:  "file has no header row",
				Severity: SeverityError,
			}}
			return nil, 0, false
		}
		if isEmptyRow(header) {
			continue
		}

		columns, missing := resolveHeader(header)
		if len(missing) > 0 {
			labels := make([]string, len(missing))
			for i, f := range missing {
				labels[i] = fieldLabels[f]
			}
			res.Errors = []ImportError{{
				Field:    FieldHeader,
				Message:  "missing required columns: " + strings.Join(labels, ", "),
				Severity: SeverityError,
			}}
			return nil, 0, false
		}
		return columns, len(header), true
	}
}

// resolveHeader maps logical fields to column positions and lists the
// required fields that no column resolved to. The first matching column wins.
func resolveHeader(header []string) (map[string]int, []string) {
	columns := make(map[string]int, len(header))
	for i, h := range header {
		field, ok := headerAliases[normalizeHeader(h)]
		if !ok {
			continue
		}
		if _, seen := columns[field]; !seen {
			columns[field] = i
		}
	}

	var missing []string
	for _, f := range requiredFields {
		if _, ok := columns[f]; !ok {
			missing = append(missing, f)
		}
	}
	return columns, missing
}

// normalizeHeader lowercases a header and strips separators so that
// "Student ID", "student_id" and "studentId" compare equal.
func normalizeHeader(h string) string {
	h = strings.ToLower(CleanCell(h))
	var b strings.Builder
	b.Grow(len(h))
	for _, r := range h {
		switch r {
		case ' ', '_', '-', '.', '\t':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// buildRow normalizes one record. Returned errors with ERROR severity mean
// the row must be rejected; warnings describe values that were dropped.
func buildRow(rowNum int, record []string, columns map[string]int) (CandidateRow, []ImportError) {
	cell := func(field string) string {
		pos, ok := columns[field]
		if !ok || pos >= len(record) {
			return ""
		}
		return CleanCell(record[pos])
	}

	row := CandidateRow{
		RowNumber:       rowNum,
		AdmissionNumber: cell(FieldAdmissionNumber),
		FirstName:       collapseSpaces(cell(FieldFirstName)),
		LastName:        collapseSpaces(cell(FieldLastName)),
		ClassName:       collapseSpaces(cell(FieldClassName)),
		GuardianName:    collapseSpaces(cell(FieldGuardianName)),
		GuardianPhone:   cell(FieldGuardianPhone),
		GuardianEmail:   strings.ToLower(cell(FieldGuardianEmail)),
		Email:           strings.ToLower(cell(FieldEmail)),
		Address:         collapseSpaces(cell(FieldAddress)),
		AcademicYear:    collapseSpaces(cell(FieldAcademicYear)),
	}

	var errs []ImportError

	if raw := cell(FieldDateOfBirth); raw != "" {
		row.DateOfBirth = NormalizeDate(raw)
		if row.DateOfBirth == "" {
			errs = append(errs, ImportError{
				RowNumber: rowNum,
				Field:     FieldDateOfBirth,
				Message:   fmt.Sprintf("unrecognized date %q was ignored", raw),
				Severity:  SeverityWarning,
			})
		}
	}

	if raw := cell(FieldGender); raw != "" {
		row.Gender = NormalizeGender(raw)
		if row.Gender == "" {
			errs = append(errs, ImportError{
				RowNumber: rowNum,
				Field:     FieldGender,
				Message:   fmt.Sprintf("unrecognized gender %q was ignored", raw),
				Severity:  SeverityWarning,
			})
		}
	}

	required := map[string]string{
		FieldAdmissionNumber: row.AdmissionNumber,
		FieldFirstName:       row.FirstName,
		FieldLastName:        row.LastName,
		FieldClassName:       row.ClassName,
	}
	for _, f := range requiredFields {
		if required[f] == "" {
			errs = append(errs, ImportError{
				RowNumber: rowNum,
				Field:     f,
				Message:   fieldLabels[f] + " is required",
				Severity:  SeverityError,
			})
		}
	}

	return row, errs
}

// Template returns a CSV template with the canonical header and one
// example row.
func Template() []byte {
	example := CandidateRow{
		AdmissionNumber: "ADM-0001",
		FirstName:       "Amina",
		LastName:        "Okafor",
		DateOfBirth:     "2014-09-02",
		Gender:          GenderFemale,
		ClassName:       "Grade 5A",
		GuardianName:    "Chidi Okafor",
		GuardianPhone:   "+2348012345678",
		GuardianEmail:   "chidi.okafor@example.com",
		AcademicYear:    "2025",
	}
	return Serialize([]CandidateRow{example})
}

// Serialize renders rows as CSV in template column order with a header.
// Parsing the output yields the same normalized rows.
func Serialize(rows []CandidateRow) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := make([]string, len(templateColumns))
	for i, f := range templateColumns {
		header[i] = toSnakeCase(f)
	}
	_ = w.Write(header)

	for _, r := range rows {
		_ = w.Write([]string{
			r.AdmissionNumber,
			r.FirstName,
			r.LastName,
			r.DateOfBirth,
			string(r.Gender),
			r.ClassName,
			r.GuardianName,
			r.GuardianPhone,
			r.GuardianEmail,
			r.Email,
			r.Address,
			r.AcademicYear,
		})
	}

	w.Flush()
	return buf.Bytes()
}

// sniffDelimiter picks the most frequent of comma, semicolon and tab
// outside quotes. Comma wins ties.
func sniffDelimiter(line string) rune {
	counts := map[rune]int{',': 0, ';': 0, '\t': 0}
	inQuotes := false
	for _, r := range line {
		if r == '"' {
			inQuotes = !inQuotes
			continue
		}
		if inQuotes {
			continue
		}
		if _, ok := counts[r]; ok {
			counts[r]++
		}
	}

	best := ','
	for _, r := range []rune{';', '\t'} {
		if counts[r] > counts[best] {
			best = r
		}
	}
	return best
}

// firstLine returns the first non-blank line of data.
func firstLine(data []byte) string {
	for len(data) > 0 {
		line := data
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line, data = data[:i], data[i+1:]
		} else {
			data = nil
		}
		if s := strings.TrimSpace(string(line)); s != "" {
			return s
		}
	}
	return ""
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func hasErrorSeverity(errs []ImportError) bool {
	for _, e := range errs {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// toSnakeCase converts a logical field name to its template header.
func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

var errUnclosedQuote = errors.New("quoted field is never closed")

// csvSource reads records with lazy quotes, so stray quotes inside a value
// are kept as text. A quoted field that is never closed would swallow every
// following line; that record is returned as a parse error and reading
// resumes on the line after the one it started on.
type csvSource struct {
	data  []byte
	comma rune
	base  int // offset of r's input within data
	r     *csv.Reader
}

func newCSVSource(data []byte, comma rune) *csvSource {
	s := &csvSource{data: data, comma: comma}
	s.reset(0)
	return s
}

func (s *csvSource) reset(base int) {
	s.base = base
	s.r = csv.NewReader(bytes.NewReader(s.data[base:]))
	s.r.Comma = s.comma
	s.r.FieldsPerRecord = -1
	s.r.LazyQuotes = true
}

func (s *csvSource) Read() ([]string, error) {
	start := s.base + int(s.r.InputOffset())
	record, err := s.r.Read()
	if err != nil || !spansLines(record) {
		return record, err
	}

	end := s.base + int(s.r.InputOffset())
	if quotesClosed(s.data[start:end], s.comma) {
		return record, nil
	}

	for start < len(s.data) && (s.data[start] == '\n' || s.data[start] == '\r') {
		start++
	}
	next := len(s.data)
	if i := bytes.IndexByte(s.data[start:], '\n'); i >= 0 {
		next = start + i + 1
	}
	s.reset(next)
	return nil, &csv.ParseError{Err: errUnclosedQuote}
}

// quotesClosed re-reads raw strictly and reports whether every quoted field
// in it is closed. Bare quotes in unquoted fields are allowed.
func quotesClosed(raw []byte, comma rune) bool {
	r := csv.NewReader(bytes.NewReader(raw))
	r.Comma = comma
	r.FieldsPerRecord = -1
	for {
		_, err := r.Read()
		switch {
		case err == nil, errors.Is(err, csv.ErrBareQuote):
		case errors.Is(err, io.EOF):
			return true
		default:
			return false
		}
	}
}

func spansLines(record []string) bool {
	for _, v := range record {
		if strings.ContainsRune(v, '\n') {
			return true
		}
	}
	return false
}

// sliceReader serves pre-split records through the recordReader interface.
type sliceReader struct {
	records [][]string
	pos     int
}

func (s *sliceReader) Read() ([]string, error) {
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	rec := s.records[s.pos]
	s.pos++
	return rec, nil
}

// HeaderError returns the file-level header error, if parsing aborted.
func (r ParseResult) HeaderError() *ImportError {
	for i := range r.Errors {
		if r.Errors[i].RowNumber == 0 && r.Errors[i].Field == FieldHeader {
			return &r.Errors[i]
		}
	}
	return nil
}

// BlockingErrors returns the ERROR-severity parse errors.
func (r ParseResult) BlockingErrors() []ImportError {
	var out []ImportError
	for _, e := range r.Errors {
		if e.Severity == SeverityError {
			out = append(out, e)
		}
	}
	return out
}
