package parser

import (
	"strings"

	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/schema"
)

// Sheet names that usually hold each entity, Italian first
var preferredSheets = map[schema.EntityType][]string{
	schema.EntityProperty:    {"immobili", "proprietà", "properties", "property"},
	schema.EntityTenant:      {"inquilini", "conduttori", "tenants", "tenant"},
	schema.EntityContract:    {"contratti", "locazioni", "contracts", "contract"},
	schema.EntityTransaction: {"transazioni", "movimenti", "prima nota", "estratto conto", "transactions"},
}

// SuggestSheet picks the worksheet most likely to hold rows of entity. It
// returns "" when no name matches; the caller still has to confirm the choice.
func SuggestSheet(sheets []string, entity schema.EntityType) string {
	for _, preferred := range preferredSheets[entity] {
		for _, sheet := range sheets {
			if strings.EqualFold(strings.TrimSpace(sheet), preferred) {
				return sheet
			}
		}
	}
	for _, preferred := range preferredSheets[entity] {
		for _, sheet := range sheets {
			if strings.Contains(strings.ToLower(sheet), preferred) {
				return sheet
			}
		}
	}
	return ""
}
