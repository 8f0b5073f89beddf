// Package mapping binds source spreadsheet headers to target schema fields,
// decides which fields a formatting method exposes and validates the result.
package mapping

import (
	"maps"
	"slices"
	"strings"

	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/schema"
)

// Ignore marks a field that takes no value from the file
const Ignore = "none"

// Default labels of the label formatting method
const (
	DefaultIncomeLabel  = "Entrate"
	DefaultExpenseLabel = "Uscite"
)

// ColumnMapping maps a target field to a source header, or to Ignore
type ColumnMapping map[string]string

// Options carries the transaction formatting choices made next to the mapping
type Options struct {
	Method       schema.FormattingMethod `json:"method"`
	IncomeLabel  string                  `json:"income_label"`
	ExpenseLabel string                  `json:"expense_label"`
}

// DefaultOptions returns the sign method with the default labels filled in
func DefaultOptions() Options {
	return Options{
		Method:       schema.MethodSign,
		IncomeLabel:  DefaultIncomeLabel,
		ExpenseLabel: DefaultExpenseLabel,
	}
}

// New returns a mapping with every field of entity ignored
func New(entity schema.EntityType) ColumnMapping {
	fields := schema.For(entity).Fields
	m := make(ColumnMapping, len(fields))
	for _, f := range fields {
		m[f] = Ignore
	}
	return m
}

// Clone returns an independent copy
func (m ColumnMapping) Clone() ColumnMapping {
	return maps.Clone(m)
}

// Source returns the header mapped to field. ok is false when the field is
// unmapped or ignored.
func (m ColumnMapping) Source(field string) (string, bool) {
	h, found := m[field]
	if !found || h == "" || h == Ignore {
		return "", false
	}
	return h, true
}

// VisibleFields lists the fields the user is asked to map, in schema order.
// amount is hidden under the label and separate_columns methods; the income and
// expense columns only show under separate_columns.
func VisibleFields(entity schema.EntityType, method schema.FormattingMethod) []string {
	fields := schema.For(entity).Fields
	if entity != schema.EntityTransaction {
		return fields
	}

	return slices.DeleteFunc(fields, func(f string) bool {
		switch f {
		case schema.FieldAmount:
			return method == schema.MethodLabel || method == schema.MethodSeparateColumns
		case schema.FieldIncomeColumn, schema.FieldExpenseColumn:
			return method != schema.MethodSeparateColumns
		}
		return false
	})
}

// ProjectedFields lists the fields read from each row: the visible ones, plus
// amount under the label method because label normalization parses it.
func ProjectedFields(entity schema.EntityType, method schema.FormattingMethod) []string {
	visible := VisibleFields(entity, method)
	if entity != schema.EntityTransaction || method != schema.MethodLabel {
		return visible
	}

	fields := make([]string, 0, len(visible)+1)
	for _, f := range schema.For(entity).Fields {
		if f == schema.FieldAmount || slices.Contains(visible, f) {
			fields = append(fields, f)
		}
	}
	return fields
}

// Project builds an ImportRow from a file row using only the projected, mapped fields.
func Project(m ColumnMapping, entity schema.EntityType, method schema.FormattingMethod, row map[string]any) schema.ImportRow {
	out := make(schema.ImportRow)
	for _, field := range ProjectedFields(entity, method) {
		if header, ok := m.Source(field); ok {
			out[field] = row[header]
		}
	}
	return out
}

// Reapply adapts m to a new header list: fields whose header still exists keep
// it, every other field of entity is reset to Ignore.
func Reapply(m ColumnMapping, entity schema.EntityType, headers []string) ColumnMapping {
	out := New(entity)
	for field := range out {
		if header, ok := m.Source(field); ok && slices.Contains(headers, header) {
			out[field] = header
		}
	}
	return out
}

func sameLabel(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
