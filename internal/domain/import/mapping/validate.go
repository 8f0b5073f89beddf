package mapping

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/schema"
)

var ErrInvalidMapping = errors.New("invalid column mapping")

// Validation holds the blocking errors and the advisory warnings of a mapping
type Validation struct {
	Errors   []string
	Warnings []string
}

// OK reports whether the mapping may proceed
func (v Validation) OK() bool {
	return len(v.Errors) == 0
}

// Err returns nil when the mapping is valid, otherwise an error wrapping
// ErrInvalidMapping that lists every problem.
func (v Validation) Err() error {
	if v.OK() {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidMapping, strings.Join(v.Errors, "; "))
}

// Validate checks a mapping against the schema of entity and the headers of the
// selected file. Using a header for more than one field is a warning only.
func Validate(entity schema.EntityType, m ColumnMapping, opts Options, headers []string) Validation {
	var v Validation
	sch := schema.For(entity)

	unknown := make([]string, 0)
	for field := range m {
		if !sch.Has(field) {
			unknown = append(unknown, field)
		}
	}
	sort.Strings(unknown)
	for _, field := range unknown {
		v.Errors = append(v.Errors, fmt.Sprintf("unknown field %q for %s", field, entity))
	}

	fields := ProjectedFields(entity, opts.Method)
	usedBy := make(map[string][]string)
	var order []string
	for _, field := range fields {
		header, ok := m.Source(field)
		if !ok {
			continue
		}
		if !slices.Contains(headers, header) {
			v.Errors = append(v.Errors, fmt.Sprintf("column %q mapped to %s is not in the file", header, field))
			continue
		}
		if _, seen := usedBy[header]; !seen {
			order = append(order, header)
		}
		usedBy[header] = append(usedBy[header], field)
	}
	for _, header := range order {
		if used := usedBy[header]; len(used) > 1 {
			v.Warnings = append(v.Warnings, fmt.Sprintf("column %q is mapped to more than one field (%s)", header, strings.Join(used, ", ")))
		}
	}

	for _, field := range requiredFields(entity, opts.Method) {
		if _, ok := m.Source(field); !ok {
			v.Errors = append(v.Errors, fmt.Sprintf("required field %s is not mapped", field))
		}
	}

	if entity == schema.EntityTransaction {
		switch opts.Method {
		case schema.MethodSign:
		case schema.MethodLabel:
			switch {
			case strings.TrimSpace(opts.IncomeLabel) == "" || strings.TrimSpace(opts.ExpenseLabel) == "":
				v.Errors = append(v.Errors, "income and expense labels must both be set")
			case sameLabel(opts.IncomeLabel, opts.ExpenseLabel):
				v.Errors = append(v.Errors, "income and expense labels must differ")
			}
		case schema.MethodSeparateColumns:
			_, income := m.Source(schema.FieldIncomeColumn)
			_, expense := m.Source(schema.FieldExpenseColumn)
			if !income && !expense {
				v.Errors = append(v.Errors, "map at least one of income_column and expense_column")
			}
		default:
			v.Errors = append(v.Errors, fmt.Sprintf("unknown formatting method %q", opts.Method))
		}
	}

	return v
}

// requiredFields lists the fields that must be mapped for entity under method
func requiredFields(entity schema.EntityType, method schema.FormattingMethod) []string {
	required := schema.For(entity).Required
	if entity != schema.EntityTransaction {
		return required
	}

	switch method {
	case schema.MethodSign:
		required = append(required, schema.FieldAmount)
	case schema.MethodLabel:
		required = append(required, schema.FieldAmount, schema.FieldType)
	}
	return required
}
