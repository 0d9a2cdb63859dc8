package executor

import (
	"strings"

	"github.com/constructa/listquery/listing/schema"
)

// SortTerm is one validated order-by term
type SortTerm struct {
	Field schema.Field
	Desc  bool
}

// PageSpec is a validated phase 3 request
type PageSpec struct {
	Fields  []schema.Field
	OrderBy []SortTerm
	Offset  int
	Limit   int
}

// alwaysSortable may be used in order_by even when not requested
var alwaysSortable = []string{schema.FieldModified, schema.FieldCreation, schema.FieldOwner, schema.FieldIdx}

// ResolveFields validates requested field names against the parent schema.
// name is always returned first. Unknown names are returned separately.
func ResolveFields(entity *schema.EntityType, names []string) (fields []schema.Field, unknown []string) {
	id, _ := entity.Field(schema.FieldName)
	fields = append(fields, id)
	seen := map[string]bool{schema.FieldName: true}

	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" || seen[name] {
			continue
		}
		f, ok := entity.Field(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		seen[name] = true
		fields = append(fields, f)
	}
	return fields, unknown
}

// ResolveOrderBy validates "field [asc|desc], ..." against the requested
// fields and the audit fields. Invalid terms are dropped; when none remain
// the order falls back to modified descending.
func ResolveOrderBy(entity *schema.EntityType, fields []schema.Field, orderBy string) []SortTerm {
	allowed := make(map[string]bool, len(fields)+len(alwaysSortable))
	for _, f := range fields {
		allowed[f.Name] = true
	}
	for _, name := range alwaysSortable {
		allowed[name] = true
	}

	var terms []SortTerm
	for _, part := range strings.Split(orderBy, ",") {
		words := strings.Fields(part)
		if len(words) == 0 || len(words) > 2 {
			continue
		}
		name := words[0]
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
		name = strings.Trim(name, "`\"")
		if !allowed[name] {
			continue
		}
		f, ok := entity.Field(name)
		if !ok {
			continue
		}
		desc := false
		if len(words) == 2 {
			switch strings.ToLower(words[1]) {
			case "asc":
			case "desc":
				desc = true
			default:
				continue
			}
		}
		terms = append(terms, SortTerm{Field: f, Desc: desc})
	}

	if len(terms) == 0 {
		modified, _ := entity.Field(schema.FieldModified)
		terms = []SortTerm{{Field: modified, Desc: true}}
	}
	return terms
}

// ClampLimit applies the default for non-positive limits and caps at max
func ClampLimit(limit, def, max int) int {
	if limit <= 0 {
		limit = def
	}
	if max > 0 && limit > max {
		limit = max
	}
	return limit
}
