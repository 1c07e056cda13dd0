package core

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// maxExcelSerial is the serial of 9999-12-31, the last date Excel can show.
const maxExcelSerial = 2958465

// ParseXLSX parses the first sheet of an Excel workbook through the same
// pipeline as Parse. An error means the workbook itself is unreadable.
func ParseXLSX(data []byte, opts ParseOptions) (ParseResult, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return ParseResult{}, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return ParseResult{}, errors.New("workbook has no sheets")
	}

	// Raw values keep date cells as serials instead of the cell's display
	// format, which often has a two-digit year.
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return ParseResult{}, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}

	rows = padRows(rows, opts)
	if err := convertDateSerials(f, sheets[0], rows, opts); err != nil {
		return ParseResult{}, err
	}

	return ParseRecords(rows, opts), nil
}

// convertDateSerials rewrites numeric date-of-birth cells from Excel serials
// to YYYY-MM-DD. Text cells are left for NormalizeDate.
func convertDateSerials(f *excelize.File, sheet string, rows [][]string, opts ParseOptions) error {
	col, first := dateOfBirthColumn(rows, opts)
	if col < 0 {
		return nil
	}

	date1904 := false
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		date1904 = *props.Date1904
	}

	for i := first; i < len(rows); i++ {
		if col >= len(rows[i]) {
			continue
		}
		serial, err := strconv.ParseFloat(strings.TrimSpace(rows[i][col]), 64)
		if err != nil || serial <= 0 || serial > maxExcelSerial {
			continue
		}

		cell, err := excelize.CoordinatesToCellName(col+1, i+1)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		typ, err := f.GetCellType(sheet, cell)
		if err != nil {
			return fmt.Errorf("cell type %s: %w", cell, err)
		}
		if typ != excelize.CellTypeUnset && typ != excelize.CellTypeNumber {
			continue
		}

		t, err := excelize.ExcelDateToTime(serial, date1904)
		if err != nil {
			continue
		}
		rows[i][col] = t.Format(isoDateLayout)
	}
	return nil
}

// dateOfBirthColumn returns the date-of-birth column and the index of the
// first data row, or -1 when the sheet has no such column.
func dateOfBirthColumn(rows [][]string, opts ParseOptions) (int, int) {
	if !opts.SkipHeader {
		for i, f := range templateColumns {
			if f == FieldDateOfBirth {
				return i, 0
			}
		}
		return -1, 0
	}

	for i, r := range rows {
		if isEmptyRow(r) {
			continue
		}
		columns, _ := resolveHeader(r)
		if pos, ok := columns[FieldDateOfBirth]; ok {
			return pos, i + 1
		}
		return -1, 0
	}
	return -1, 0
}

// padRows restores trailing empty cells, which excelize drops, so that
// rows line up with the header width.
func padRows(rows [][]string, opts ParseOptions) [][]string {
	width := len(templateColumns)
	if opts.SkipHeader {
		width = 0
		for _, r := range rows {
			if !isEmptyRow(r) {
				width = len(r)
				break
			}
		}
	}

	out := make([][]string, len(rows))
	for i, r := range rows {
		if len(r) < width && !isEmptyRow(r) {
			padded := make([]string, width)
			copy(padded, r)
			r = padded
		}
		out[i] = r
	}
	return out
}
