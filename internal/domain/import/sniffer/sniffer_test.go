package sniffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectConfigWithOptions(t *testing.T) {
	t.Run("first row is the header", func(t *testing.T) {
		data := []byte("Data;Importo;Descrizione\n15/01/2024;-50,00;Affitto\n16/01/2024;120;Rimborso\n")

		cfg, err := DetectConfigWithOptions(data, &DetectOptions{HeaderRowIndex: 0})

		require.NoError(t, err)
		assert.Equal(t, ';', cfg.Delimiter)
		assert.Equal(t, 0, cfg.SkipLines)
		assert.Equal(t, []string{"Data", "Importo", "Descrizione"}, cfg.Headers)
		assert.Len(t, cfg.SampleRows, 2)
		assert.Equal(t, "-50,00", cfg.SampleRows[0][1])
	})

	t.Run("strips byte order mark", func(t *testing.T) {
		data := []byte("\uFEFFname,city\nVilla,Roma\n")

		cfg, err := DetectConfigWithOptions(data, &DetectOptions{HeaderRowIndex: 0})

		require.NoError(t, err)
		assert.Equal(t, []string{"name", "city"}, cfg.Headers)
	})

	t.Run("single column file", func(t *testing.T) {
		cfg, err := DetectConfigWithOptions([]byte("name\nVilla Belvedere\n"), &DetectOptions{HeaderRowIndex: 0})

		require.NoError(t, err)
		assert.Equal(t, []string{"name"}, cfg.Headers)
		assert.Equal(t, [][]string{{"Villa Belvedere"}}, cfg.SampleRows)
	})

	t.Run("sample rows are bounded", func(t *testing.T) {
		data := []byte("a,b\n1,2\n3,4\n5,6\n7,8\n9,10\n11,12\n13,14\n")

		cfg, err := DetectConfigWithOptions(data, &DetectOptions{HeaderRowIndex: 0})

		require.NoError(t, err)
		assert.Len(t, cfg.SampleRows, PreviewSize)
	})

	t.Run("empty file", func(t *testing.T) {
		_, err := DetectConfigWithOptions([]byte("  \n"), &DetectOptions{HeaderRowIndex: 0})
		assert.ErrorIs(t, err, ErrEmptyFile)
	})

	t.Run("explicit delimiter wins", func(t *testing.T) {
		cfg, err := DetectConfigWithOptions([]byte("a;b|c\n1;2|3\n"), &DetectOptions{HeaderRowIndex: 0, Delimiter: '|'})

		require.NoError(t, err)
		assert.Equal(t, []string{"a;b", "c"}, cfg.Headers)
	})
}

func TestDetectConfig_FindsHeaderBelowMetadata(t *testing.T) {
	data := []byte("Estratto conto\nPeriodo: gennaio 2024\n\nData;Descrizione;Importo;Categoria\n02/01/2024;Canone;800,00;Affitti\n")

	cfg, err := DetectConfig(data)

	require.NoError(t, err)
	assert.Equal(t, 3, cfg.SkipLines)
	assert.Equal(t, ';', cfg.Delimiter)
	assert.Equal(t, []string{"Data", "Descrizione", "Importo", "Categoria"}, cfg.Headers)
	require.Len(t, cfg.SampleRows, 1)
	assert.Equal(t, "800,00", cfg.SampleRows[0][2])
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]string{"Data", "Importo", "Descrizione"})
	b := Fingerprint([]string{" data ", "IMPORTO", "Descrizione."})
	c := Fingerprint([]string{"Data", "Descrizione", "Importo"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestProbeDialect(t *testing.T) {
	tests := []struct {
		name         string
		rows         [][]string
		wantEuropean bool
		wantDecided  bool
		wantDate     string
		wantCurrency string
	}{
		{
			name:         "european amounts",
			rows:         [][]string{{"15/01/2024", "1.234,56"}, {"16/01/2024", "-50,00"}},
			wantEuropean: true,
			wantDecided:  true,
			wantDate:     "DD/MM/YYYY",
		},
		{
			name:         "us amounts with month-first dates",
			rows:         [][]string{{"01/15/2024", "$1,234.56"}, {"01/16/2024", "-50.00"}},
			wantEuropean: false,
			wantDecided:  true,
			wantDate:     "MM/DD/YYYY",
			wantCurrency: "USD",
		},
		{
			name:         "integers only",
			rows:         [][]string{{"2024-01-15", "120"}, {"2024-01-16", "800"}},
			wantEuropean: false,
			wantDecided:  false,
			wantDate:     "DD/MM/YYYY",
		},
		{
			name:         "euro symbol",
			rows:         [][]string{{"01/02/2024", "€ 800"}},
			wantEuropean: true,
			wantDecided:  true,
			wantDate:     "DD/MM/YYYY",
			wantCurrency: "EUR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ProbeDialect(tt.rows, []int{1}, 0)

			assert.Equal(t, tt.wantEuropean, d.IsEuropeanFormat)
			assert.Equal(t, tt.wantDecided, d.Decided)
			assert.Equal(t, tt.wantDate, d.DateFormat)
			assert.Equal(t, tt.wantCurrency, d.CurrencyHint)
		})
	}
}

func TestDataSection(t *testing.T) {
	data := []byte("meta\nh1,h2\n1,2\n3,4\n")

	assert.Equal(t, "1,2\n3,4\n", string(DataSection(data, 1)))
	assert.Nil(t, DataSection([]byte("h1,h2"), 0))
}
