package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// DateLayout is the wire format of every date the importer emits
const DateLayout = "2006-01-02"

// ImportRow is a mapped but not yet normalized row: target field -> raw cell value.
// Values are string, float64, time.Time, bool or nil.
type ImportRow map[string]any

// Record is a transformed property, tenant or contract row; nil values are sent as null.
type Record map[string]*string

// Transaction is a fully normalized transaction row. Amount is never negative.
type Transaction struct {
	Date        string          `json:"date"`
	Amount      float64         `json:"amount"`
	Type        TransactionType `json:"type"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	PropertyID  *string         `json:"property_id"`
	TenantID    *string         `json:"tenant_id"`
}

// FormatValue renders a cell value as text: dates as YYYY-MM-DD, objects as JSON,
// numbers without trailing zeros, nil as the empty string.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case time.Time:
		return val.Format(DateLayout)
	case *time.Time:
		if val == nil {
			return ""
		}
		return val.Format(DateLayout)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case fmt.Stringer:
		return val.String()
	case map[string]any, []any, map[string]string, []string:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	default:
		return fmt.Sprint(val)
	}
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string {
	return &s
}
