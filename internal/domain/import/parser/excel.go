package parser

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/sniffer"
)

// excelWorkbook reads .xlsx files with typed cells: numbers become float64,
// date-formatted numbers become time.Time and text stays text.
type excelWorkbook struct {
	file       *excelize.File
	dateStyles map[int]bool
}

func openExcel(r io.Reader) (*excelWorkbook, error) {
	f, err := excelize.OpenReader(r, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	if len(f.GetSheetList()) == 0 {
		_ = f.Close()
		return nil, ErrNoSheets
	}
	return &excelWorkbook{file: f, dateStyles: make(map[int]bool)}, nil
}

func (w *excelWorkbook) Format() Format { return FormatXLSX }

func (w *excelWorkbook) Sheets() []string { return w.file.GetSheetList() }

func (w *excelWorkbook) Close() error { return w.file.Close() }

func (w *excelWorkbook) Read(sheet string, limit int) (*Sheet, error) {
	if idx, err := w.file.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrSheetNotFound, sheet)
	}

	rows, err := w.file.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create row iterator: %w", err)
	}
	defer rows.Close()

	out := &Sheet{Name: sheet}
	var cols []column
	rowNum := 0

	for rows.Next() {
		rowNum++
		cells, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d of sheet %s: %w", rowNum, sheet, err)
		}
		if blank(cells) {
			continue
		}

		// First non-empty row is the header
		if cols == nil {
			if cols = buildColumns(cells); len(cols) == 0 {
				return nil, ErrNoHeaders
			}
			continue
		}

		if limit >= 0 && len(out.Rows) >= limit {
			out.Truncated = true
			break
		}

		row := make(Row, len(cols))
		for _, c := range cols {
			raw := ""
			if c.index < len(cells) {
				raw = cells[c.index]
			}
			row[c.name] = w.cellValue(sheet, c.index, rowNum, raw)
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate sheet %s: %w", sheet, err)
	}
	if cols == nil {
		return nil, ErrNoHeaders
	}

	out.Headers = columnNames(cols)
	out.Fingerprint = sniffer.Fingerprint(out.Headers)
	return out, nil
}

func (w *excelWorkbook) cellValue(sheet string, col, rowNum int, raw string) any {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	cell, err := excelize.CoordinatesToCellName(col+1, rowNum)
	if err != nil {
		return raw
	}

	num, numErr := strconv.ParseFloat(raw, 64)

	typ, err := w.file.GetCellType(sheet, cell)
	if err != nil {
		typ = excelize.CellTypeUnset
	}
	switch typ {
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeError:
		return raw
	case excelize.CellTypeBool:
		return raw == "1" || strings.EqualFold(raw, "true")
	case excelize.CellTypeDate:
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t
		}
	}

	if numErr != nil {
		return raw
	}
	if w.isDateStyled(sheet, cell) {
		if t, err := excelize.ExcelDateToTime(num, false); err == nil {
			return t
		}
	}
	return num
}

func (w *excelWorkbook) isDateStyled(sheet, cell string) bool {
	styleID, err := w.file.GetCellStyle(sheet, cell)
	if err != nil {
		return false
	}
	if isDate, ok := w.dateStyles[styleID]; ok {
		return isDate
	}

	isDate := false
	if style, err := w.file.GetStyle(styleID); err == nil && style != nil {
		isDate = isDateNumFmt(style.NumFmt, style.CustomNumFmt)
	}
	w.dateStyles[styleID] = isDate
	return isDate
}

// isDateNumFmt reports whether a number format renders a date. Built-in ids
// 14-22 and 45-47 are dates; 27-36 and 50-58 are locale date formats.
func isDateNumFmt(id int, custom *string) bool {
	switch {
	case id >= 14 && id <= 22, id >= 27 && id <= 36, id >= 45 && id <= 47, id >= 50 && id <= 58:
		return true
	}
	if custom == nil {
		return false
	}

	var b strings.Builder
	inQuote, inBracket := false, false
	for _, r := range strings.ToLower(*custom) {
		switch {
		case r == '"':
			inQuote = !inQuote
		case inQuote:
		case r == '[':
			inBracket = true
		case r == ']':
			inBracket = false
		case inBracket:
		default:
			b.WriteRune(r)
		}
	}
	return strings.ContainsAny(b.String(), "dy")
}
