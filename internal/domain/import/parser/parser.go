// Package parser reads user-supplied spreadsheets (.xlsx and .csv) into
// header lists, bounded previews and typed rows keyed by header name.
package parser

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/schema"
	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/sniffer"
)

// Format identifies a supported file type
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// PreviewRows is the number of data rows shown while mapping columns
const PreviewRows = sniffer.PreviewSize

// NoLimit reads every data row of a sheet
const NoLimit = -1

var (
	ErrUnsupportedFormat = errors.New("unsupported file format: only .xlsx and .csv files are accepted")
	ErrSheetNotFound     = errors.New("sheet not found")
	ErrNoSheets          = errors.New("workbook has no sheets")
	ErrNoHeaders         = errors.New("no column headers found")
)

// Row maps a source header to its cell value. Values are string, float64,
// bool, time.Time or nil for empty cells.
type Row map[string]any

// PreviewRow maps a source header to the display text of its cell
type PreviewRow map[string]string

// Options tunes how files are read
type Options struct {
	// DetectHeaderRow searches CSV files for the header line below metadata
	// lines instead of taking the first line.
	DetectHeaderRow bool
	// Delimiter forces the CSV delimiter when non-zero.
	Delimiter rune
}

// Sheet is the content of one worksheet
type Sheet struct {
	Name        string
	Headers     []string
	Rows        []Row
	Fingerprint string
	Truncated   bool // more data rows exist beyond the requested limit
}

// Workbook is an opened spreadsheet file
type Workbook interface {
	Format() Format
	// Sheets lists the worksheet names in file order. CSV files have one.
	Sheets() []string
	// Read returns the header and up to limit data rows of sheet; NoLimit reads all.
	Read(sheet string, limit int) (*Sheet, error)
	Close() error
}

// DetectFormat maps a filename extension to a Format
func DetectFormat(filename string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".xlsx":
		return FormatXLSX, nil
	case ".csv":
		return FormatCSV, nil
	}
	if ext == "" {
		return "", fmt.Errorf("%w: file has no extension", ErrUnsupportedFormat)
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
}

// Open reads a spreadsheet. The filename decides the format.
func Open(filename string, r io.Reader, opts Options) (Workbook, error) {
	format, err := DetectFormat(filename)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatXLSX:
		return openExcel(r)
	default:
		return openCSV(filename, r, opts)
	}
}

// Preview renders rows for display: dates as YYYY-MM-DD, objects as JSON.
func (s *Sheet) Preview() []PreviewRow {
	preview := make([]PreviewRow, 0, len(s.Rows))
	for _, row := range s.Rows {
		p := make(PreviewRow, len(s.Headers))
		for _, h := range s.Headers {
			p[h] = schema.FormatValue(row[h])
		}
		preview = append(preview, p)
	}
	return preview
}

// Table returns the rows as text in header order, for dialect probing
func (s *Sheet) Table() [][]string {
	table := make([][]string, 0, len(s.Rows))
	for _, row := range s.Rows {
		cells := make([]string, len(s.Headers))
		for i, h := range s.Headers {
			cells[i] = schema.FormatValue(row[h])
		}
		table = append(table, cells)
	}
	return table
}

// HeaderIndex returns the position of header, or -1
func (s *Sheet) HeaderIndex(header string) int {
	for i, h := range s.Headers {
		if h == header {
			return i
		}
	}
	return -1
}

type column struct {
	index int
	name  string
}

// buildColumns trims header cells, drops empty ones and suffixes duplicates
// with " (2)", " (3)" so every header is a distinct key.
func buildColumns(cells []string) []column {
	seen := make(map[string]int, len(cells))
	cols := make([]column, 0, len(cells))
	for i, cell := range cells {
		name := strings.TrimSpace(cell)
		if name == "" {
			continue
		}
		seen[name]++
		if n := seen[name]; n > 1 {
			name = fmt.Sprintf("%s (%d)", name, n)
		}
		cols = append(cols, column{index: i, name: name})
	}
	return cols
}

func columnNames(cols []column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	return names
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// normalizeText strips a UTF-8 byte order mark and decodes Latin-1 input
func normalizeText(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		data = data[3:]
	}
	if utf8.Valid(data) {
		return data
	}
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return []byte(string(runes))
}
