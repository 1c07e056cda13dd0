package core

// convert.go normalizes the messy reality of spreadsheet exports:
//   - Multiple date formats (ISO, day-first, month-first, spelled-out months)
//   - Many spellings of gender
//   - Excel formula prefixes (="value") and stray whitespace
//   - Invalid UTF-8 and the Windows byte order mark
//
// Normalizers never fail: a value that cannot be normalized is returned
// empty and left for the validator to judge.

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// isoDateLayout is the canonical representation of a normalized date.
const isoDateLayout = "2006-01-02"

var (
	isoDateRe     = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
	numericDateRe = regexp.MustCompile(`^(\d{1,2})[/-](\d{1,2})[/-](\d{4})$`)

	// fallbackDateLayouts are tried after the numeric forms.
	fallbackDateLayouts = []string{
		"2006/01/02", "2006/1/2", "2006.01.02",
		"02.01.2006", "2.1.2006",
		"Jan 2, 2006", "January 2, 2006", "2 Jan 2006", "2 January 2006",
		"02-Jan-2006", "2-Jan-2006",
		"20060102",
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}
)

// genderAliases maps lowercased spellings to the closed gender set.
var genderAliases = map[string]Gender{
	"m":      GenderMale,
	"male":   GenderMale,
	"boy":    GenderMale,
	"f":      GenderFemale,
	"female": GenderFemale,
	"girl":   GenderFemale,
	"o":      GenderOther,
	"other":  GenderOther,
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// NormalizeGender maps a free-text gender to MALE, FEMALE or OTHER.
// Unrecognized values return "".
func NormalizeGender(s string) Gender {
	s = strings.ToLower(strings.Trim(strings.TrimSpace(s), ".'\""))
	return genderAliases[s]
}

// NormalizeDate converts a date of birth to YYYY-MM-DD.
//
// Forms are tried in order: ISO, day-first (DD/MM/YYYY, DD-MM-YYYY),
// month-first (MM/DD/YYYY, MM-DD-YYYY), then a list of generic layouts.
// The first calendar-valid interpretation wins. Returns "" if nothing fits.
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if m := isoDateRe.FindStringSubmatch(s); m != nil {
		if t, ok := calendarDate(m[1], m[2], m[3]); ok {
			return t.Format(isoDateLayout)
		}
		return ""
	}

	if m := numericDateRe.FindStringSubmatch(s); m != nil {
		// Day-first
		if t, ok := calendarDate(m[3], m[2], m[1]); ok {
			return t.Format(isoDateLayout)
		}
		// Month-first
		if t, ok := calendarDate(m[3], m[1], m[2]); ok {
			return t.Format(isoDateLayout)
		}
		return ""
	}

	for _, layout := range fallbackDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(isoDateLayout)
		}
	}

	return ""
}

// calendarDate builds a date from numeric parts and reports whether the
// parts describe a real calendar day (no 31 April, no 29 Feb in 2023).
func calendarDate(year, month, day string) (time.Time, bool) {
	y, err1 := strconv.Atoi(year)
	m, err2 := strconv.Atoi(month)
	d, err3 := strconv.Atoi(day)
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, false
	}
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}

	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

// CleanCell removes common spreadsheet artifacts from a cell value:
//   - Trims whitespace
//   - Removes Excel formula prefix (="...")
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = s[2 : len(s)-1]
	}

	return strings.TrimSpace(s)
}

// sanitizeUTF8 strips a leading BOM and replaces invalid UTF-8 sequences
// with U+FFFD.
func sanitizeUTF8(data []byte) []byte {
	data = bytes.TrimPrefix(data, utf8BOM)

	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('\uFFFD')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}
