package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/schema"
)

func TestVisibleFields(t *testing.T) {
	tests := []struct {
		name   string
		entity schema.EntityType
		method schema.FormattingMethod
		want   []string
	}{
		{
			name:   "sign shows amount",
			entity: schema.EntityTransaction,
			method: schema.MethodSign,
			want:   []string{"date", "amount", "type", "category", "description", "property_id", "tenant_id"},
		},
		{
			name:   "label hides amount",
			entity: schema.EntityTransaction,
			method: schema.MethodLabel,
			want:   []string{"date", "type", "category", "description", "property_id", "tenant_id"},
		},
		{
			name:   "separate columns shows income and expense",
			entity: schema.EntityTransaction,
			method: schema.MethodSeparateColumns,
			want:   []string{"date", "type", "category", "description", "property_id", "tenant_id", "income_column", "expense_column"},
		},
		{
			name:   "other entities show every field",
			entity: schema.EntityTenant,
			method: schema.MethodLabel,
			want:   schema.For(schema.EntityTenant).Fields,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VisibleFields(tt.entity, tt.method))
		})
	}
}

func TestProjectedFields_LabelReadsAmount(t *testing.T) {
	fields := ProjectedFields(schema.EntityTransaction, schema.MethodLabel)

	assert.Equal(t, []string{"date", "amount", "type", "category", "description", "property_id", "tenant_id"}, fields)
	assert.Equal(t, VisibleFields(schema.EntityTransaction, schema.MethodSign), ProjectedFields(schema.EntityTransaction, schema.MethodSign))
}

func TestProject(t *testing.T) {
	m := New(schema.EntityTransaction)
	m["date"] = "Data"
	m["amount"] = "Importo"
	m["income_column"] = "Entrate"

	row := map[string]any{"Data": "2024-01-15", "Importo": -50.0, "Entrate": 10.0, "Extra": "x"}

	got := Project(m, schema.EntityTransaction, schema.MethodSign, row)

	assert.Equal(t, schema.ImportRow{"date": "2024-01-15", "amount": -50.0}, got)
}

func TestValidate(t *testing.T) {
	headers := []string{"Data", "Importo", "Tipo", "Descrizione"}

	base := func() ColumnMapping {
		m := New(schema.EntityTransaction)
		m["date"] = "Data"
		m["amount"] = "Importo"
		return m
	}

	t.Run("valid sign mapping", func(t *testing.T) {
		v := Validate(schema.EntityTransaction, base(), DefaultOptions(), headers)
		assert.True(t, v.OK())
		assert.Empty(t, v.Warnings)
		assert.NoError(t, v.Err())
	})

	t.Run("duplicate header use is a warning", func(t *testing.T) {
		m := base()
		m["description"] = "Data"

		v := Validate(schema.EntityTransaction, m, DefaultOptions(), headers)

		assert.True(t, v.OK())
		require.Len(t, v.Warnings, 1)
		assert.Contains(t, v.Warnings[0], `"Data"`)
	})

	t.Run("header missing from file", func(t *testing.T) {
		m := base()
		m["category"] = "Categoria"

		v := Validate(schema.EntityTransaction, m, DefaultOptions(), headers)

		assert.False(t, v.OK())
		assert.ErrorIs(t, v.Err(), ErrInvalidMapping)
	})

	t.Run("missing required field", func(t *testing.T) {
		m := base()
		m["date"] = Ignore

		v := Validate(schema.EntityTransaction, m, DefaultOptions(), headers)
		assert.False(t, v.OK())
	})

	t.Run("unknown field", func(t *testing.T) {
		m := base()
		m["iban"] = "Data"

		v := Validate(schema.EntityTransaction, m, DefaultOptions(), headers)
		assert.False(t, v.OK())
	})

	t.Run("label method requires distinct labels", func(t *testing.T) {
		m := base()
		m["type"] = "Tipo"

		opts := Options{Method: schema.MethodLabel, IncomeLabel: "Entrate", ExpenseLabel: " entrate "}
		v := Validate(schema.EntityTransaction, m, opts, headers)
		assert.False(t, v.OK())

		opts.ExpenseLabel = ""
		v = Validate(schema.EntityTransaction, m, opts, headers)
		assert.False(t, v.OK())

		opts.ExpenseLabel = "Uscite"
		v = Validate(schema.EntityTransaction, m, opts, headers)
		assert.True(t, v.OK(), v.Errors)
	})

	t.Run("separate columns needs one amount column", func(t *testing.T) {
		m := New(schema.EntityTransaction)
		m["date"] = "Data"
		opts := Options{Method: schema.MethodSeparateColumns}

		assert.False(t, Validate(schema.EntityTransaction, m, opts, headers).OK())

		m["expense_column"] = "Importo"
		assert.True(t, Validate(schema.EntityTransaction, m, opts, headers).OK())
	})

	t.Run("hidden fields are not checked", func(t *testing.T) {
		m := New(schema.EntityTransaction)
		m["date"] = "Data"
		m["income_column"] = "Importo"
		m["amount"] = "Gone"

		v := Validate(schema.EntityTransaction, m, Options{Method: schema.MethodSeparateColumns}, headers)
		assert.True(t, v.OK(), v.Errors)
	})

	t.Run("contract required fields", func(t *testing.T) {
		m := New(schema.EntityContract)
		m["property_id"] = "Data"

		v := Validate(schema.EntityContract, m, Options{}, headers)
		assert.False(t, v.OK())
		assert.Contains(t, v.Errors[0], "start_date")
	})
}

func TestSessionStore_RoundTrip(t *testing.T) {
	store := NewSessionStore()
	headers := []string{"Nome", "Città", "Note"}

	m := New(schema.EntityProperty)
	m["name"] = "Nome"
	m["city"] = "Città"
	opts := DefaultOptions()

	store.Save(schema.EntityProperty, m, opts, "fp")

	got, gotOpts, ok := store.Reapply(schema.EntityProperty, headers)
	require.True(t, ok)
	assert.Equal(t, m, got)
	assert.Equal(t, opts, gotOpts)

	// The stored copy is not affected by later edits
	m["notes"] = "Note"
	again, _, _ := store.Reapply(schema.EntityProperty, headers)
	assert.Equal(t, Ignore, again["notes"])

	_, _, ok = store.Reapply(schema.EntityTenant, headers)
	assert.False(t, ok)

	store.Forget(schema.EntityProperty)
	_, ok = store.Load(schema.EntityProperty)
	assert.False(t, ok)
}

func TestSessionStore_ReapplyDropsMissingHeaders(t *testing.T) {
	store := NewSessionStore()

	m := New(schema.EntityProperty)
	m["name"] = "Nome"
	m["city"] = "Città"
	store.Save(schema.EntityProperty, m, DefaultOptions(), "")

	got, _, ok := store.Reapply(schema.EntityProperty, []string{"Nome", "Indirizzo"})

	require.True(t, ok)
	assert.Equal(t, "Nome", got["name"])
	assert.Equal(t, Ignore, got["city"])
}
