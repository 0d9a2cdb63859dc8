// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package postgresql

import (
	"fmt"
	"strings"

	dbi "github.com/constructa/listquery/internal/database/interfaces"
)

// Args accumulates positional parameters ($1, $2, ...) for one statement.
type Args struct {
	values []interface{}
}

// Add binds v and returns its placeholder
func (a *Args) Add(v interface{}) string {
	a.values = append(a.values, v)
	return fmt.Sprintf("$%d", len(a.values))
}

// AddCast binds v and returns its placeholder with an explicit cast
func (a *Args) AddCast(v interface{}, cast string) string {
	p := a.Add(v)
	if cast == "" {
		return p
	}
	return p + "::" + cast
}

// Values returns the bound parameters in placeholder order
func (a *Args) Values() []interface{} {
	return a.values
}

// Len returns the number of bound parameters
func (a *Args) Len() int {
	return len(a.values)
}

// QuoteIdent quotes an identifier for PostgreSQL. Identifiers reaching this
// function have already been validated by the schema registry.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Column renders alias."column"
func Column(alias, name string) string {
	if alias == "" {
		return QuoteIdent(name)
	}
	return alias + "." + QuoteIdent(name)
}

// JSONKey renders elem->>'key' for a validated key
func JSONKey(elem, key string) string {
	return fmt.Sprintf("(%s->>'%s')", elem, strings.ReplaceAll(key, "'", "''"))
}

// EscapeLike escapes LIKE wildcards so user input matches literally
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ContainsPattern returns an ILIKE pattern matching s anywhere in the value
func ContainsPattern(s string) string {
	return "%" + EscapeLike(s) + "%"
}

// BuildWhere renders q as a boolean SQL expression, binding values into args.
// An empty query renders TRUE.
func BuildWhere(q dbi.Query, args *Args) string {
	if q.IsEmpty() {
		return "TRUE"
	}
	var clauses []string

	for _, c := range q.Conditions {
		clauses = append(clauses, renderCondition(c, args))
	}

	for _, group := range q.OrGroups {
		if len(group) == 0 {
			continue
		}
		var parts []string
		for _, c := range group {
			parts = append(parts, renderCondition(c, args))
		}
		if len(parts) == 1 {
			clauses = append(clauses, parts[0])
			continue
		}
		clauses = append(clauses, "("+strings.Join(parts, " OR ")+")")
	}

	clauses = append(clauses, q.Raw...)
	if len(clauses) == 0 {
		return "TRUE"
	}
	return strings.Join(clauses, " AND ")
}

func renderCondition(c dbi.Condition, args *Args) string {
	switch c.Operator {
	case dbi.OpIsNull:
		return fmt.Sprintf("%s IS NULL", c.Expr)
	case dbi.OpIsNotNull:
		return fmt.Sprintf("%s IS NOT NULL", c.Expr)
	case dbi.OpSet:
		return fmt.Sprintf("(%s IS NOT NULL AND %s::text <> '')", c.Expr, c.Expr)
	case dbi.OpNotSet:
		return fmt.Sprintf("(%s IS NULL OR %s::text = '')", c.Expr, c.Expr)
	case dbi.OpILike:
		return fmt.Sprintf("%s::text ILIKE %s", c.Expr, args.Add(c.Value))
	case dbi.OpNotILike:
		return fmt.Sprintf("COALESCE(%s::text, '') NOT ILIKE %s", c.Expr, args.Add(c.Value))
	case dbi.OpAny:
		return fmt.Sprintf("%s = ANY(%s)", c.Expr, args.AddCast(c.Value, c.Cast))
	case dbi.OpNotAny:
		return fmt.Sprintf("(%s IS NULL OR NOT (%s = ANY(%s)))", c.Expr, c.Expr, args.AddCast(c.Value, c.Cast))
	case dbi.OpBetween, dbi.OpNotBetween:
		bounds, _ := c.Value.([2]interface{})
		lo := args.AddCast(bounds[0], c.Cast)
		hi := args.AddCast(bounds[1], c.Cast)
		if c.Operator == dbi.OpNotBetween {
			return fmt.Sprintf("(%s IS NULL OR %s NOT BETWEEN %s AND %s)", c.Expr, c.Expr, lo, hi)
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s", c.Expr, lo, hi)
	case dbi.OpEq, dbi.OpDistinct, dbi.OpLt, dbi.OpLte, dbi.OpGt, dbi.OpGte:
		if c.Value == nil && c.Operator == dbi.OpEq {
			return fmt.Sprintf("%s IS NULL", c.Expr)
		}
		return fmt.Sprintf("%s %s %s", c.Expr, c.Operator, args.AddCast(c.Value, c.Cast))
	default:
		// Unknown operators never reach SQL.
		return "FALSE"
	}
}
