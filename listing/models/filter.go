package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Canonical filter operators
const (
	OpEquals     = "="
	OpNotEquals  = "!="
	OpLess       = "<"
	OpGreater    = ">"
	OpLessEq     = "<="
	OpGreaterEq  = ">="
	OpLike       = "like"
	OpNotLike    = "not like"
	OpIn         = "in"
	OpNotIn      = "not in"
	OpIs         = "is"
	OpBetween    = "between"
	OpNotBetween = "not between"
	OpTimespan   = "timespan"
)

// Values carried by the "is" operator
const (
	ValueSet    = "set"
	ValueNotSet = "not set"
)

// FilterClause is one canonical predicate. EntityType is empty for parent
// fields and names the child type for nested collection fields.
type FilterClause struct {
	EntityType string      `json:"entity_type,omitempty"`
	Field      string      `json:"field"`
	Operator   string      `json:"operator"`
	Value      interface{} `json:"value"`
}

// FormatValue renders a filter or row value as text. Numbers keep their
// plain decimal digits, never exponent form.
func FormatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
