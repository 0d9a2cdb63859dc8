package filters

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// RawFilter is one filter as received from a client, before normalization.
// It is one of TupleFilter, ColumnFilter or MapFilter.
type RawFilter interface {
	rawFilter()
}

// TupleFilter is [field, op, value], [entity, field, op, value] or an
// object with field/operator/value keys
type TupleFilter struct {
	EntityType string
	Field      string
	Operator   string
	Value      interface{}
}

// ColumnFilter is a data-table column filter {id, value}. A scalar value
// means like, a list means in, {operator, value} is used as given.
type ColumnFilter struct {
	ID    string
	Value interface{}
}

// MapFilter is one key of a plain {field: value} object
type MapFilter struct {
	Field string
	Value interface{}
}

func (TupleFilter) rawFilter()  {}
func (ColumnFilter) rawFilter() {}
func (MapFilter) rawFilter()    {}

// Diagnostic explains why a filter was skipped
type Diagnostic struct {
	Index  int
	Field  string
	Reason string
}

func (d Diagnostic) String() string {
	if d.Field != "" {
		return fmt.Sprintf("filter %d (%s): %s", d.Index, d.Field, d.Reason)
	}
	return fmt.Sprintf("filter %d: %s", d.Index, d.Reason)
}

// Parse decodes a filters payload. It accepts a JSON array of tuples or
// objects, a plain object, or any of those encoded as a JSON string.
// Malformed elements are skipped and reported.
func Parse(raw []byte) ([]RawFilter, []Diagnostic) {
	return parse(raw, 0)
}

func parse(raw []byte, depth int) ([]RawFilter, []Diagnostic) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	// Numbers stay json.Number so large ids and codes keep every digit
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, []Diagnostic{{Index: -1, Reason: "malformed filters: " + err.Error()}}
	}
	if dec.More() {
		return nil, []Diagnostic{{Index: -1, Reason: "malformed filters: trailing data"}}
	}
	return fromValue(v, depth)
}

func fromValue(v interface{}, depth int) ([]RawFilter, []Diagnostic) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		if t == "" {
			return nil, nil
		}
		if depth > 0 {
			return nil, []Diagnostic{{Index: -1, Reason: "filters encoded more than once"}}
		}
		return parse([]byte(t), depth+1)
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]RawFilter, 0, len(keys))
		for _, k := range keys {
			out = append(out, MapFilter{Field: k, Value: t[k]})
		}
		return out, nil
	case []interface{}:
		var out []RawFilter
		var diags []Diagnostic
		for i, el := range t {
			f, reason := parseElement(el)
			if reason != "" {
				diags = append(diags, Diagnostic{Index: i, Reason: reason})
				continue
			}
			out = append(out, f)
		}
		return out, diags
	default:
		return nil, []Diagnostic{{Index: -1, Reason: fmt.Sprintf("unsupported filters type %T", v)}}
	}
}

func parseElement(el interface{}) (RawFilter, string) {
	switch t := el.(type) {
	case []interface{}:
		return parseTuple(t)
	case map[string]interface{}:
		if id, ok := t["id"].(string); ok {
			return ColumnFilter{ID: id, Value: t["value"]}, ""
		}
		if field, ok := t["field"].(string); ok {
			entity, _ := t["entity_type"].(string)
			op, _ := t["operator"].(string)
			if op == "" {
				op = "="
			}
			return TupleFilter{EntityType: entity, Field: field, Operator: op, Value: t["value"]}, ""
		}
		return nil, "object filter without id or field"
	default:
		return nil, fmt.Sprintf("unsupported filter element %T", el)
	}
}

func parseTuple(t []interface{}) (RawFilter, string) {
	strs := func(vals ...interface{}) ([]string, bool) {
		out := make([]string, len(vals))
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				return nil, false
			}
			out[i] = s
		}
		return out, true
	}

	switch len(t) {
	case 2:
		s, ok := strs(t[0])
		if !ok {
			return nil, "tuple field must be a string"
		}
		return MapFilter{Field: s[0], Value: t[1]}, ""
	case 3:
		s, ok := strs(t[0], t[1])
		if !ok {
			return nil, "tuple field and operator must be strings"
		}
		return TupleFilter{Field: s[0], Operator: s[1], Value: t[2]}, ""
	case 4:
		s, ok := strs(t[0], t[1], t[2])
		if !ok {
			return nil, "tuple entity/field/operator must be strings"
		}
		return TupleFilter{EntityType: s[0], Field: s[1], Operator: s[2], Value: t[3]}, ""
	default:
		return nil, fmt.Sprintf("tuple of length %d", len(t))
	}
}
