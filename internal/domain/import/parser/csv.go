package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/sniffer"
)

// csvWorkbook exposes a delimited text file as a single sheet named after the file.
type csvWorkbook struct {
	name   string
	data   []byte
	config *sniffer.FileConfig
}

func openCSV(filename string, r io.Reader, opts Options) (*csvWorkbook, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	data = normalizeText(data)

	detect := &sniffer.DetectOptions{HeaderRowIndex: 0, Delimiter: opts.Delimiter}
	if opts.DetectHeaderRow {
		detect.HeaderRowIndex = -1
	}
	cfg, err := sniffer.DetectConfigWithOptions(data, detect)
	if err != nil {
		return nil, fmt.Errorf("failed to detect CSV layout: %w", err)
	}
	if len(buildColumns(cfg.Headers)) == 0 {
		return nil, ErrNoHeaders
	}

	base := filepath.Base(filename)
	return &csvWorkbook{
		name:   strings.TrimSuffix(base, filepath.Ext(base)),
		data:   data,
		config: cfg,
	}, nil
}

func (w *csvWorkbook) Format() Format { return FormatCSV }

func (w *csvWorkbook) Sheets() []string { return []string{w.name} }

func (w *csvWorkbook) Close() error { return nil }

func (w *csvWorkbook) Read(sheet string, limit int) (*Sheet, error) {
	if sheet != "" && sheet != w.name {
		return nil, fmt.Errorf("%w: %q", ErrSheetNotFound, sheet)
	}

	cols := buildColumns(w.config.Headers)
	out := &Sheet{
		Name:        w.name,
		Headers:     columnNames(cols),
		Fingerprint: w.config.Fingerprint,
	}

	reader := csv.NewReader(bytes.NewReader(sniffer.DataSection(w.data, w.config.SkipLines)))
	reader.Comma = w.config.Delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	for record := 1; ; record++ {
		cells, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record %d: %w", record, err)
		}
		if blank(cells) {
			continue
		}
		if limit >= 0 && len(out.Rows) >= limit {
			out.Truncated = true
			break
		}

		row := make(Row, len(cols))
		for _, c := range cols {
			if c.index < len(cells) && strings.TrimSpace(cells[c.index]) != "" {
				row[c.name] = cells[c.index]
			} else {
				row[c.name] = nil
			}
		}
		out.Rows = append(out.Rows, row)
	}

	return out, nil
}
