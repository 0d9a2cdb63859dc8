package repository

import (
	"fmt"

	"github.com/lib/pq"

	dbi "github.com/constructa/listquery/internal/database/interfaces"
	"github.com/constructa/listquery/internal/database/postgresql"
	"github.com/constructa/listquery/listing/executor"
	"github.com/constructa/listquery/listing/models"
	"github.com/constructa/listquery/listing/schema"
)

const (
	parentAlias  = "t"
	childAlias   = "c"
	elementAlias = "e.value"
)

// target is where the fields of a clause live within a statement
type target struct {
	alias    string
	embedded bool
}

var parentTarget = target{alias: parentAlias}

func targetFor(col *schema.Collection) target {
	if col.IsEmbedded() {
		return target{alias: elementAlias, embedded: true}
	}
	return target{alias: childAlias}
}

// expr renders the raw field expression
func (tg target) expr(f schema.Field) string {
	if tg.embedded {
		return postgresql.JSONKey(tg.alias, f.ColumnName())
	}
	return postgresql.Column(tg.alias, f.ColumnName())
}

// typed renders the field expression compared against typed placeholders.
// Embedded values are text and are cast, with empty strings as NULL.
func (tg target) typed(f schema.Field) string {
	e := tg.expr(f)
	if f.Type == schema.TypeJSON {
		return e + "::text"
	}
	if !tg.embedded {
		return e
	}
	if cast := scalarCast(f); cast != "" {
		return fmt.Sprintf("NULLIF(%s, '')::%s", e, cast)
	}
	return e
}

func scalarCast(f schema.Field) string {
	switch f.Type {
	case schema.TypeNumber:
		return "numeric"
	case schema.TypeDate:
		return "date"
	case schema.TypeDatetime:
		return "timestamp"
	}
	return ""
}

func arrayCast(f schema.Field) string {
	if cast := scalarCast(f); cast != "" {
		return cast + "[]"
	}
	return "text[]"
}

var comparisonOps = map[string]string{
	models.OpEquals:    dbi.OpEq,
	models.OpNotEquals: dbi.OpDistinct,
	models.OpLess:      dbi.OpLt,
	models.OpLessEq:    dbi.OpLte,
	models.OpGreater:   dbi.OpGt,
	models.OpGreaterEq: dbi.OpGte,
}

// addClause appends the predicate of one canonical clause on f to q
func addClause(q *dbi.Query, tg target, f schema.Field, c models.FilterClause) {
	switch c.Operator {
	case models.OpIs:
		op := dbi.OpSet
		if c.Value == models.ValueNotSet {
			op = dbi.OpNotSet
		}
		q.And(dbi.Condition{Expr: tg.expr(f), Operator: op})

	case models.OpLike, models.OpNotLike:
		op := dbi.OpILike
		if c.Operator == models.OpNotLike {
			op = dbi.OpNotILike
		}
		q.And(dbi.Condition{Expr: tg.expr(f), Operator: op, Value: models.FormatValue(c.Value)})

	case models.OpIn, models.OpNotIn:
		list := stringList(c.Value)
		if len(list) == 0 {
			if c.Operator == models.OpIn {
				q.AndRaw("FALSE")
			}
			return
		}
		op := dbi.OpAny
		if c.Operator == models.OpNotIn {
			op = dbi.OpNotAny
		}
		q.And(dbi.Condition{Expr: tg.typed(f), Operator: op, Value: pq.Array(list), Cast: arrayCast(f)})

	case models.OpBetween, models.OpNotBetween:
		list, _ := c.Value.([]interface{})
		if len(list) != 2 {
			q.AndRaw("FALSE")
			return
		}
		op := dbi.OpBetween
		if c.Operator == models.OpNotBetween {
			op = dbi.OpNotBetween
		}
		q.And(dbi.Condition{
			Expr:     tg.typed(f),
			Operator: op,
			Value:    [2]interface{}{scalar(list[0]), scalar(list[1])},
			Cast:     scalarCast(f),
		})

	default:
		op, ok := comparisonOps[c.Operator]
		if !ok {
			q.AndRaw("FALSE")
			return
		}
		q.And(dbi.Condition{Expr: tg.typed(f), Operator: op, Value: scalar(c.Value), Cast: scalarCast(f)})
	}
}

// searchGroup is one token matched against any of exprs
func searchGroup(token string, exprs []string) []dbi.Condition {
	pattern := postgresql.ContainsPattern(token)
	group := make([]dbi.Condition, len(exprs))
	for i, e := range exprs {
		group[i] = dbi.Condition{Expr: e, Operator: dbi.OpILike, Value: pattern}
	}
	return group
}

// scalar converts a filter value into something the driver can bind
func scalar(v interface{}) interface{} {
	switch t := v.(type) {
	case nil, string, bool, int, int64, float64:
		return t
	default:
		return models.FormatValue(t)
	}
}

func stringList(v interface{}) []string {
	list, _ := v.([]interface{})
	out := make([]string, 0, len(list))
	for _, item := range list {
		if item == nil {
			continue
		}
		out = append(out, models.FormatValue(item))
	}
	return out
}

// idColumn renders the identifier column of entity under alias
func idColumn(entity *schema.EntityType, alias string) string {
	f, _ := entity.Field(schema.FieldName)
	return postgresql.Column(alias, f.ColumnName())
}

// jsonElements renders the row source that unnests the embedded array of
// col. Values that are not JSON arrays unnest to nothing.
func jsonElements(col *schema.Collection) string {
	c := postgresql.Column(parentAlias, col.JSONColumn) + "::jsonb"
	return fmt.Sprintf(
		"jsonb_array_elements(CASE WHEN jsonb_typeof(%s) = 'array' THEN %s ELSE '[]'::jsonb END) AS e(value)",
		c, c)
}

// childScope restricts child rows to those owned by entity
func childScope(q *dbi.Query, entity *schema.EntityType, col *schema.Collection) {
	q.And(dbi.Condition{
		Expr:     postgresql.Column(childAlias, col.ParentTypeColumn),
		Operator: dbi.OpEq,
		Value:    entity.Name,
	})
}

// collectionClauses appends the clauses of one collection, evaluated
// against a single child row or array element
func collectionClauses(q *dbi.Query, col *schema.Collection, clauses []models.FilterClause) {
	tg := targetFor(col)
	for _, c := range clauses {
		f, ok := col.Field(c.Field)
		if !ok {
			continue
		}
		addClause(q, tg, f, c)
	}
}

// existsPredicate renders an EXISTS predicate requiring one record of the
// collection to satisfy every clause
func existsPredicate(entity *schema.EntityType, cf executor.CollectionFilter, args *postgresql.Args) string {
	var sub dbi.Query
	col := cf.Collection

	if col.IsEmbedded() {
		collectionClauses(&sub, col, cf.Clauses)
		return fmt.Sprintf("EXISTS (SELECT 1 FROM %s WHERE %s)",
			jsonElements(col), postgresql.BuildWhere(sub, args))
	}

	sub.AndRaw(fmt.Sprintf("%s = %s",
		postgresql.Column(childAlias, col.ParentColumn), idColumn(entity, parentAlias)))
	childScope(&sub, entity, col)
	collectionClauses(&sub, col, cf.Clauses)
	return fmt.Sprintf("EXISTS (SELECT 1 FROM %s %s WHERE %s)",
		postgresql.QuoteIdent(col.Table), childAlias, postgresql.BuildWhere(sub, args))
}
