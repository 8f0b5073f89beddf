package parser

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/schema"
)

func buildWorkbook(t *testing.T, order []string, sheets map[string][][]any) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	for i, name := range order {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", name))
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for r, row := range sheets[name] {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			row := row
			require.NoError(t, f.SetSheetRow(name, cell, &row))
		}
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		filename string
		want     Format
		wantErr  bool
	}{
		{"movimenti.xlsx", FormatXLSX, false},
		{"MOVIMENTI.XLSX", FormatXLSX, false},
		{"export.csv", FormatCSV, false},
		{"legacy.xls", "", true},
		{"notes.txt", "", true},
		{"noextension", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			got, err := DetectFormat(tt.filename)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpen_CSV(t *testing.T) {
	csv := "Data;Importo;Descrizione;Importo\n" +
		"15/01/2024;-50,00;Affitto;1\n" +
		"16/01/2024;120;;2\n" +
		";;;\n" +
		"17/01/2024;10;Acqua;3\n" +
		"18/01/2024;11;Luce;4\n" +
		"19/01/2024;12;Gas;5\n" +
		"20/01/2024;13;Internet;6\n"

	wb, err := Open("estratto.csv", strings.NewReader(csv), Options{})
	require.NoError(t, err)
	defer wb.Close()

	assert.Equal(t, FormatCSV, wb.Format())
	assert.Equal(t, []string{"estratto"}, wb.Sheets())

	t.Run("preview is bounded", func(t *testing.T) {
		sheet, err := wb.Read("estratto", PreviewRows)
		require.NoError(t, err)

		assert.Equal(t, []string{"Data", "Importo", "Descrizione", "Importo (2)"}, sheet.Headers)
		assert.Len(t, sheet.Rows, PreviewRows)
		assert.True(t, sheet.Truncated)
		assert.NotEmpty(t, sheet.Fingerprint)

		preview := sheet.Preview()
		assert.Equal(t, "-50,00", preview[0]["Importo"])
		assert.Equal(t, "1", preview[0]["Importo (2)"])
		assert.Equal(t, "", preview[1]["Descrizione"])
	})

	t.Run("full read skips blank records", func(t *testing.T) {
		sheet, err := wb.Read("", NoLimit)
		require.NoError(t, err)

		assert.Len(t, sheet.Rows, 6)
		assert.False(t, sheet.Truncated)
		assert.Nil(t, sheet.Rows[1]["Descrizione"])
		assert.Equal(t, "Internet", sheet.Rows[5]["Descrizione"])
	})

	t.Run("unknown sheet", func(t *testing.T) {
		_, err := wb.Read("other", NoLimit)
		assert.ErrorIs(t, err, ErrSheetNotFound)
	})
}

func TestOpen_CSVLatin1AndBOM(t *testing.T) {
	latin1 := []byte{'c', 'i', 't', 't', 0xE0, '\n', 'F', 'o', 'r', 'l', 0xEC, '\n'}

	wb, err := Open("immobili.csv", bytes.NewReader(latin1), Options{})
	require.NoError(t, err)

	sheet, err := wb.Read("immobili", NoLimit)
	require.NoError(t, err)
	assert.Equal(t, []string{"città"}, sheet.Headers)
	assert.Equal(t, "Forlì", sheet.Rows[0]["città"])

	wb, err = Open("bom.csv", strings.NewReader("\uFEFFname,city\nVilla,Roma\n"), Options{})
	require.NoError(t, err)
	sheet, err = wb.Read("bom", NoLimit)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "city"}, sheet.Headers)
}

func TestOpen_CSVDetectHeaderRow(t *testing.T) {
	csv := "Banca Esempio\nConto 1234\nData;Descrizione;Importo\n02/01/2024;Canone;800,00\n"

	wb, err := Open("banca.csv", strings.NewReader(csv), Options{DetectHeaderRow: true})
	require.NoError(t, err)

	sheet, err := wb.Read("banca", NoLimit)
	require.NoError(t, err)
	assert.Equal(t, []string{"Data", "Descrizione", "Importo"}, sheet.Headers)
	require.Len(t, sheet.Rows, 1)
	assert.Equal(t, "800,00", sheet.Rows[0]["Importo"])
}

func TestOpen_Unsupported(t *testing.T) {
	_, err := Open("data.ods", strings.NewReader("x"), Options{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestOpen_XLSX(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	data := buildWorkbook(t, []string{"Immobili", "Movimenti"}, map[string][][]any{
		"Immobili": {
			{"Nome", "Città"},
			{"Villa Belvedere", "Roma"},
		},
		"Movimenti": {
			{"Data", "Importo", "Descrizione", "", "Data"},
			{day, -50.0, "Affitto", nil, "x"},
			{nil, nil, nil, nil, nil},
			{day.AddDate(0, 0, 1), 120.5, "Rimborso", nil, "y"},
		},
	})

	wb, err := Open("dati.xlsx", bytes.NewReader(data), Options{})
	require.NoError(t, err)
	defer wb.Close()

	assert.Equal(t, FormatXLSX, wb.Format())
	assert.Equal(t, []string{"Immobili", "Movimenti"}, wb.Sheets())

	sheet, err := wb.Read("Movimenti", NoLimit)
	require.NoError(t, err)

	assert.Equal(t, []string{"Data", "Importo", "Descrizione", "Data (2)"}, sheet.Headers)
	require.Len(t, sheet.Rows, 2)

	first := sheet.Rows[0]
	date, ok := first["Data"].(time.Time)
	require.True(t, ok, "date cell should be typed, got %T", first["Data"])
	assert.Equal(t, "2024-01-15", date.Format(schema.DateLayout))
	assert.Equal(t, -50.0, first["Importo"])
	assert.Equal(t, "Affitto", first["Descrizione"])

	preview := sheet.Preview()
	assert.Equal(t, "2024-01-16", preview[1]["Data"])
	assert.Equal(t, "120.5", preview[1]["Importo"])

	limited, err := wb.Read("Movimenti", 1)
	require.NoError(t, err)
	assert.Len(t, limited.Rows, 1)
	assert.True(t, limited.Truncated)

	_, err = wb.Read("Contratti", NoLimit)
	assert.ErrorIs(t, err, ErrSheetNotFound)
}

func TestOpen_XLSXWithoutHeaders(t *testing.T) {
	data := buildWorkbook(t, []string{"Vuoto"}, map[string][][]any{"Vuoto": {}})

	wb, err := Open("vuoto.xlsx", bytes.NewReader(data), Options{})
	require.NoError(t, err)

	_, err = wb.Read("Vuoto", PreviewRows)
	assert.ErrorIs(t, err, ErrNoHeaders)
}

func TestOpen_CorruptXLSX(t *testing.T) {
	_, err := Open("broken.xlsx", strings.NewReader("not a zip"), Options{})
	assert.Error(t, err)
}

func TestBuildColumns(t *testing.T) {
	cols := buildColumns([]string{" Nome ", "", "Nome", "Città", "Nome"})

	assert.Equal(t, []string{"Nome", "Nome (2)", "Città", "Nome (3)"}, columnNames(cols))
	assert.Equal(t, 2, cols[1].index)
}

func TestIsDateNumFmt(t *testing.T) {
	custom := func(s string) *string { return &s }

	tests := []struct {
		name   string
		id     int
		custom *string
		want   bool
	}{
		{"general", 0, nil, false},
		{"two decimals", 2, nil, false},
		{"builtin date", 14, nil, true},
		{"builtin datetime", 22, nil, true},
		{"builtin time", 46, nil, true},
		{"custom date", 164, custom("dd/mm/yyyy"), true},
		{"custom currency", 165, custom(`#,##0.00 [$€-410]`), false},
		{"quoted days", 166, custom(`0 "days"`), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isDateNumFmt(tt.id, tt.custom))
		})
	}
}

func TestSheetPreviewFormatsObjects(t *testing.T) {
	sheet := &Sheet{
		Headers: []string{"meta", "flag", "empty"},
		Rows:    []Row{{"meta": map[string]any{"a": 1}, "flag": true, "empty": nil}},
	}

	preview := sheet.Preview()

	assert.Equal(t, `{"a":1}`, preview[0]["meta"])
	assert.Equal(t, "true", preview[0]["flag"])
	assert.Equal(t, "", preview[0]["empty"])
	assert.Equal(t, 1, sheet.HeaderIndex("flag"))
	assert.Equal(t, -1, sheet.HeaderIndex("missing"))
}

func TestSuggestSheet(t *testing.T) {
	sheets := []string{"Riepilogo", "Movimenti 2024", "Immobili"}

	assert.Equal(t, "Immobili", SuggestSheet(sheets, schema.EntityProperty))
	assert.Equal(t, "Movimenti 2024", SuggestSheet(sheets, schema.EntityTransaction))
	assert.Equal(t, "", SuggestSheet(sheets, schema.EntityContract))
}
