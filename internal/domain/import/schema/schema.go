// Package schema defines the import targets: entity types, their ordered field
// schemas, transaction formatting methods and the row shapes that flow through
// the import pipeline.
package schema

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// EntityType selects the target schema of an import
type EntityType string

const (
	EntityProperty    EntityType = "property"
	EntityTenant      EntityType = "tenant"
	EntityContract    EntityType = "contract"
	EntityTransaction EntityType = "transaction"
)

// FormattingMethod is the convention a spreadsheet uses to tell income from expense
type FormattingMethod string

const (
	MethodSign            FormattingMethod = "sign"
	MethodLabel           FormattingMethod = "label"
	MethodSeparateColumns FormattingMethod = "separate_columns"
)

// TransactionType is the resolved direction of a transaction
type TransactionType string

const (
	TransactionIncome  TransactionType = "income"
	TransactionExpense TransactionType = "expense"
)

// Field names shared by several schemas
const (
	FieldDate          = "date"
	FieldAmount        = "amount"
	FieldType          = "type"
	FieldCategory      = "category"
	FieldDescription   = "description"
	FieldPropertyID    = "property_id"
	FieldTenantID      = "tenant_id"
	FieldIncomeColumn  = "income_column"
	FieldExpenseColumn = "expense_column"
	FieldStatus        = "status"
	FieldName          = "name"
)

var (
	ErrUnknownEntityType       = errors.New("unknown entity type")
	ErrUnknownFormattingMethod = errors.New("unknown formatting method")
)

// Schema describes the fields of one entity type
type Schema struct {
	Entity     EntityType
	Fields     []string // display order
	DateFields []string
	IDFields   []string
	Required   []string
}

var schemas = map[EntityType]Schema{
	EntityProperty: {
		Entity: EntityProperty,
		Fields: []string{
			"name", "short_name", "address", "city", "postal_code", "province", "country",
			"type", "status", "rooms", "bathrooms", "square_meters", "purchase_date",
			"purchase_price", "description", "notes",
		},
		DateFields: []string{"purchase_date"},
		Required:   []string{"name"},
	},
	EntityTenant: {
		Entity: EntityTenant,
		Fields: []string{
			"first_name", "last_name", "email", "phone", "tax_code", "birth_date",
			"address", "city", "status", "property_id", "notes",
		},
		DateFields: []string{"birth_date"},
		IDFields:   []string{"property_id"},
		Required:   []string{"last_name"},
	},
	EntityContract: {
		Entity: EntityContract,
		Fields: []string{
			"contract_number", "property_id", "tenant_id", "type", "status", "start_date",
			"end_date", "monthly_rent", "deposit", "payment_day", "registration_date", "notes",
		},
		DateFields: []string{"start_date", "end_date", "registration_date"},
		IDFields:   []string{"property_id", "tenant_id"},
		Required:   []string{"property_id", "start_date"},
	},
	EntityTransaction: {
		Entity: EntityTransaction,
		Fields: []string{
			FieldDate, FieldAmount, FieldType, FieldCategory, FieldDescription,
			FieldPropertyID, FieldTenantID, FieldIncomeColumn, FieldExpenseColumn,
		},
		DateFields: []string{FieldDate},
		IDFields:   []string{FieldPropertyID, FieldTenantID},
		Required:   []string{FieldDate},
	},
}

// EntityTypes returns every supported entity type
func EntityTypes() []EntityType {
	return []EntityType{EntityProperty, EntityTenant, EntityContract, EntityTransaction}
}

// ParseEntityType parses a user-supplied entity type name
func ParseEntityType(s string) (EntityType, error) {
	e := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := schemas[e]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEntityType, s)
	}
	return e, nil
}

// Plural returns the collection name used by the backend routes
func (e EntityType) Plural() string {
	switch e {
	case EntityProperty:
		return "properties"
	case EntityTenant:
		return "tenants"
	case EntityContract:
		return "contracts"
	case EntityTransaction:
		return "transactions"
	}
	return string(e) + "s"
}

// ParseFormattingMethod parses a user-supplied formatting method
func ParseFormattingMethod(s string) (FormattingMethod, error) {
	switch m := FormattingMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodSign, MethodLabel, MethodSeparateColumns:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormattingMethod, s)
}

// For returns the schema of an entity type. Unknown types yield an empty schema.
func For(entity EntityType) Schema {
	s, ok := schemas[entity]
	if !ok {
		return Schema{Entity: entity}
	}
	return Schema{
		Entity:     s.Entity,
		Fields:     append([]string(nil), s.Fields...),
		DateFields: append([]string(nil), s.DateFields...),
		IDFields:   append([]string(nil), s.IDFields...),
		Required:   append([]string(nil), s.Required...),
	}
}

// Has reports whether field belongs to the schema
func (s Schema) Has(field string) bool {
	return slices.Contains(s.Fields, field)
}

// IsDateField reports whether field holds a date
func (s Schema) IsDateField(field string) bool {
	return slices.Contains(s.DateFields, field)
}

// IsIDField reports whether field references another entity by ID
func (s Schema) IsIDField(field string) bool {
	return slices.Contains(s.IDFields, field)
}
