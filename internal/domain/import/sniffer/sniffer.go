// Package sniffer detects the layout of delimited text files: the delimiter,
// the header row, a header fingerprint and the regional number/date dialect.
package sniffer

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"unicode"
)

// Header keywords used when the header row has to be located below metadata lines
var headerKeywords = []string{
	// Italian
	"data", "importo", "descrizione", "categoria", "entrate", "uscite", "immobile",
	"inquilino", "nome", "cognome", "indirizzo", "città", "citta", "contratto", "canone",
	// English
	"date", "amount", "description", "category", "income", "expense", "property",
	"tenant", "name", "address", "city", "contract", "rent",
}

// PreviewSize is the number of data rows sampled after the header
const PreviewSize = 5

// FileConfig holds the detected configuration for a delimited file
type FileConfig struct {
	Delimiter   rune       // ';', '\t', ',' or '|'
	SkipLines   int        // lines before the header
	Headers     []string   // trimmed header names, as they appear
	Fingerprint string     // sha256 of the normalized headers
	SampleRows  [][]string // first data rows for preview
}

// DetectOptions overrides header row or delimiter detection.
type DetectOptions struct {
	// HeaderRowIndex is a 0-based index for the header row. Set to -1 to auto-detect.
	HeaderRowIndex int
	// Delimiter overrides the detected delimiter when non-zero.
	Delimiter rune
}

// RegionalDialect is the inferred regional formatting of amounts and dates
type RegionalDialect struct {
	DecimalSeparator   rune    // '.' or ','
	ThousandsSeparator rune    // ',' or '.'
	DateFormat         string  // "DD/MM/YYYY" or "MM/DD/YYYY"
	CurrencyHint       string  // ISO code when a symbol was seen
	Confidence         float64 // 0.0-1.0
	IsEuropeanFormat   bool    // comma is the decimal separator
	Decided            bool    // at least one amount or currency hint was found
}

var (
	ErrEmptyFile      = errors.New("file is empty")
	ErrNoHeadersFound = errors.New("could not find data headers")
)

// ProbeDialect inspects sample rows to infer how amounts and dates are written.
// amountCols lists every column holding amounts; dateCol is -1 when unknown.
func ProbeDialect(sampleRows [][]string, amountCols []int, dateCol int) *RegionalDialect {
	dialect := &RegionalDialect{
		DecimalSeparator:   '.',
		ThousandsSeparator: ',',
		DateFormat:         "DD/MM/YYYY",
		Confidence:         0.5,
	}

	europeanHints, usHints := 0, 0
	dateIsDD, dateIsMM := false, false

	for _, row := range sampleRows {
		for _, idx := range amountCols {
			if idx < 0 || idx >= len(row) || row[idx] == "" {
				continue
			}
			switch hint := analyzeAmountFormat(row[idx]); {
			case hint > 0:
				europeanHints++
			case hint < 0:
				usHints++
			}
			switch {
			case strings.Contains(row[idx], "€") || strings.Contains(row[idx], "EUR"):
				dialect.CurrencyHint = "EUR"
				europeanHints++
			case strings.Contains(row[idx], "£") || strings.Contains(row[idx], "GBP"):
				dialect.CurrencyHint = "GBP"
				usHints++
			case strings.Contains(row[idx], "$"):
				if dialect.CurrencyHint == "" {
					dialect.CurrencyHint = "USD"
				}
				usHints++
			}
		}

		if dateCol >= 0 && dateCol < len(row) && row[dateCol] != "" {
			switch analyzeDateFormat(row[dateCol]) {
			case 1:
				dateIsDD = true
			case -1:
				dateIsMM = true
			}
		}
	}

	if europeanHints > usHints {
		dialect.DecimalSeparator = ','
		dialect.ThousandsSeparator = '.'
		dialect.IsEuropeanFormat = true
	}

	if totalHints := europeanHints + usHints; totalHints > 0 {
		dialect.Decided = europeanHints != usHints
		winning := max(europeanHints, usHints)
		dialect.Confidence = float64(winning) / float64(totalHints)
	}

	// Day-first unless the samples prove otherwise
	if dateIsMM && !dateIsDD {
		dialect.DateFormat = "MM/DD/YYYY"
	}

	return dialect
}

// analyzeAmountFormat returns >0 for European, <0 for US, 0 for ambiguous
func analyzeAmountFormat(val string) int {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == ',' || r == '.' {
			return r
		}
		return -1
	}, val)

	if cleaned == "" {
		return 0
	}

	hasComma := strings.Contains(cleaned, ",")
	hasDot := strings.Contains(cleaned, ".")

	switch {
	case hasComma && hasDot:
		if strings.LastIndex(cleaned, ",") > strings.LastIndex(cleaned, ".") {
			return 1 // 1.234,56
		}
		return -1 // 1,234.56

	case hasComma:
		if len(cleaned[strings.LastIndex(cleaned, ",")+1:]) <= 2 {
			return 1
		}
		return 0

	case hasDot:
		if len(cleaned[strings.LastIndex(cleaned, ".")+1:]) <= 2 {
			return -1
		}
		return 0
	}

	return 0
}

// analyzeDateFormat returns 1 when the date is provably day-first, -1 when it is
// provably month-first and 0 when it cannot tell.
func analyzeDateFormat(dateVal string) int {
	parts := strings.FieldsFunc(dateVal, func(r rune) bool {
		return r == '/' || r == '-' || r == '.'
	})
	if len(parts) < 2 || len(parts[0]) == 4 {
		return 0
	}

	first, second := leadingNumber(parts[0]), leadingNumber(parts[1])
	switch {
	case first > 12 && first <= 31:
		return 1
	case second > 12 && second <= 31:
		return -1
	}
	return 0
}

func leadingNumber(s string) int {
	n := 0
	for _, c := range strings.TrimSpace(s) {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// DetectConfig analyzes a delimited file, locating the header row automatically
func DetectConfig(data []byte) (*FileConfig, error) {
	return DetectConfigWithOptions(data, nil)
}

// DetectConfigWithOptions analyzes a delimited file with optional overrides.
func DetectConfigWithOptions(data []byte, opts *DetectOptions) (*FileConfig, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyFile
	}

	lines := strings.Split(string(data), "\n")

	var (
		delimiter rune
		skipLines int
		err       error
	)
	if opts != nil && opts.HeaderRowIndex >= 0 {
		if opts.HeaderRowIndex >= len(lines) {
			return nil, ErrNoHeadersFound
		}
		skipLines = opts.HeaderRowIndex
		delimiter = opts.Delimiter
		if delimiter == 0 {
			line := cleanLine(lines[skipLines], skipLines == 0)
			if line == "" {
				return nil, ErrNoHeadersFound
			}
			// A single-column file has no delimiter to find
			if delimiter, _ = detectDelimiter(line); delimiter == 0 {
				delimiter = ','
			}
		}
	} else {
		delimiter, skipLines, err = findHeaderRow(lines)
		if err != nil {
			return nil, err
		}
		if opts != nil && opts.Delimiter != 0 {
			delimiter = opts.Delimiter
		}
	}

	headerLine := cleanLine(lines[skipLines], skipLines == 0)
	reader := csv.NewReader(strings.NewReader(headerLine))
	reader.Comma = delimiter
	reader.LazyQuotes = true

	headers, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoHeadersFound
		}
		return nil, err
	}

	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
	}

	return &FileConfig{
		Delimiter:   delimiter,
		SkipLines:   skipLines,
		Headers:     headers,
		Fingerprint: Fingerprint(headers),
		SampleRows:  getSampleRows(DataSection(data, skipLines), delimiter, PreviewSize),
	}, nil
}

// findHeaderRow locates the header row and its delimiter
func findHeaderRow(lines []string) (rune, int, error) {
	fallbackIndex := -1
	fallbackDelimiter := rune(0)
	fallbackCount := 0

	keywordIndex := -1
	keywordDelimiter := rune(0)
	keywordCount := 0
	keywordScore := 0

	for i, line := range lines {
		if i > 20 {
			break
		}

		line = cleanLine(line, i == 0)
		if line == "" {
			continue
		}
		lineLower := strings.ToLower(line)

		delimiter, count := detectDelimiter(line)
		if count < 1 {
			continue
		}

		keywordMatches := 0
		for _, kw := range headerKeywords {
			if strings.Contains(lineLower, kw) {
				keywordMatches++
			}
		}

		if keywordMatches > 0 {
			// Real headers have more columns than the metadata lines above them
			score := count*10 + keywordMatches
			if keywordIndex == -1 || score > keywordScore {
				keywordScore = score
				keywordCount = count
				keywordDelimiter = delimiter
				keywordIndex = i
			}
		} else if count > fallbackCount {
			fallbackCount = count
			fallbackDelimiter = delimiter
			fallbackIndex = i
		}
	}

	if keywordIndex >= 0 && keywordCount >= 1 {
		return keywordDelimiter, keywordIndex, nil
	}
	if fallbackIndex >= 0 {
		return fallbackDelimiter, fallbackIndex, nil
	}

	return 0, 0, ErrNoHeadersFound
}

func cleanLine(line string, firstLine bool) string {
	line = strings.TrimRight(line, "\r")
	if firstLine {
		line = strings.TrimPrefix(line, "\uFEFF")
	}
	return strings.TrimSpace(line)
}

func detectDelimiter(line string) (rune, int) {
	bestDelimiter := rune(0)
	bestCount := 0
	for _, d := range []rune{';', '\t', ',', '|'} {
		if count := strings.Count(line, string(d)); count > bestCount {
			bestCount = count
			bestDelimiter = d
		}
	}
	return bestDelimiter, bestCount
}

// Fingerprint hashes the normalized header names. Two files with the same
// columns share a fingerprint regardless of case and punctuation.
func Fingerprint(headers []string) string {
	var normalized []string
	for _, h := range headers {
		clean := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return unicode.ToLower(r)
			}
			return -1
		}, h)
		if clean != "" {
			normalized = append(normalized, clean)
		}
	}

	hash := sha256.Sum256([]byte(strings.Join(normalized, "|")))
	return hex.EncodeToString(hash[:])
}

// DataSection returns the bytes that follow the header line
func DataSection(data []byte, skipLines int) []byte {
	rest := data
	for i := 0; i <= skipLines; i++ {
		idx := bytes.IndexByte(rest, '\n')
		if idx < 0 {
			return nil
		}
		rest = rest[idx+1:]
	}
	return rest
}

// getSampleRows returns up to maxRows non-empty records
func getSampleRows(data []byte, delimiter rune, maxRows int) [][]string {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		if blankRecord(record) {
			continue
		}
		rows = append(rows, record)
		if len(rows) >= maxRows {
			break
		}
	}

	return rows
}

func blankRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
