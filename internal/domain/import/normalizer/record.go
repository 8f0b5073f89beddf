package normalizer

import (
	"fmt"
	"strings"

	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/schema"
)

// TransformRecord coerces the fields of a property, tenant or contract row:
// dates to YYYY-MM-DD, status to lower case, references to string or null and
// everything else to text. Fields outside the schema are dropped.
func TransformRecord(entity schema.EntityType, row schema.ImportRow) (rec schema.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec, err = nil, fmt.Errorf("transform failed: %v", r)
		}
	}()

	sch := schema.For(entity)
	rec = make(schema.Record, len(row))

	for field, v := range row {
		if !sch.Has(field) {
			continue
		}

		switch {
		case sch.IsDateField(field):
			if isEmpty(v) {
				rec[field] = nil
				continue
			}
			t, err := ParseDate(v)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", field, err)
			}
			rec[field] = schema.StringPtr(t.Format(schema.DateLayout))

		case field == schema.FieldStatus:
			rec[field] = optional(strings.ToLower(strings.TrimSpace(schema.FormatValue(v))))

		case sch.IsIDField(field):
			ref := strings.TrimSpace(schema.FormatValue(v))
			if isNoneRef(ref) {
				rec[field] = nil
				continue
			}
			rec[field] = &ref

		default:
			rec[field] = optional(strings.TrimSpace(schema.FormatValue(v)))
		}
	}

	return rec, nil
}

// TransformRecords transforms every row, dropping the ones that fail into Rejected.
func TransformRecords(entity schema.EntityType, rows []schema.ImportRow) *BatchResult[schema.Record] {
	result := &BatchResult[schema.Record]{
		Accepted: make([]schema.Record, 0, len(rows)),
	}
	for i, row := range rows {
		rec, err := TransformRecord(entity, row)
		if err != nil {
			result.Rejected = append(result.Rejected, RowError{Index: i, Reason: err.Error()})
			continue
		}
		result.Accepted = append(result.Accepted, rec)
	}
	return result
}

func isEmpty(v any) bool {
	return strings.TrimSpace(schema.FormatValue(v)) == ""
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
