package repository

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	dbi "github.com/constructa/listquery/internal/database/interfaces"
	"github.com/constructa/listquery/internal/database/postgresql"
	"github.com/constructa/listquery/listing/aggregation"
	"github.com/constructa/listquery/listing/executor"
	"github.com/constructa/listquery/listing/models"
	"github.com/constructa/listquery/listing/schema"
)

// inCandidates restricts the identifier column to ids
func inCandidates(expr string, ids []string) dbi.Condition {
	return dbi.Condition{Expr: expr, Operator: dbi.OpAny, Value: pq.Array(ids), Cast: "text[]"}
}

// buildCandidatesQuery renders phase 1: parent clauses, one EXISTS per
// filtered collection and, unless the strategy searches items, the
// tokenized parent search
func buildCandidatesQuery(plan *executor.Plan) (string, []interface{}) {
	entity := plan.Entity
	args := &postgresql.Args{}
	var q dbi.Query

	for _, cf := range plan.CollectionClauses() {
		q.AndRaw(existsPredicate(entity, cf, args))
	}

	for _, c := range plan.ParentClauses() {
		f, ok := entity.Field(c.Field)
		if !ok {
			continue
		}
		addClause(&q, parentTarget, f, c)
	}

	if plan.ParentSearch() {
		fields := plan.ParentSearchFields()
		exprs := make([]string, len(fields))
		for i, f := range fields {
			exprs[i] = parentTarget.expr(f)
		}
		for _, token := range plan.Tokens() {
			q.AndAny(searchGroup(token, exprs))
		}
	}

	id := idColumn(entity, parentAlias)
	query := fmt.Sprintf("SELECT %s FROM %s %s WHERE %s ORDER BY %s",
		id, postgresql.QuoteIdent(entity.Table), parentAlias, postgresql.BuildWhere(q, args), id)
	return query, args.Values()
}

// buildNestedTableQuery renders phase 2 over a normalized collection. The
// child row must match the item search or be pending, along with every
// clause on that collection.
func buildNestedTableQuery(plan *executor.Plan, col *schema.Collection, parentIDs []string, pending bool) (string, []interface{}) {
	args := &postgresql.Args{}
	var q dbi.Query

	parent := postgresql.Column(childAlias, col.ParentColumn)
	q.And(inCandidates(parent, parentIDs))
	childScope(&q, plan.Entity, col)

	if pending {
		status, _ := col.Field(col.StatusField)
		q.And(dbi.Condition{Expr: postgresql.Column(childAlias, status.ColumnName()), Operator: dbi.OpEq, Value: col.PendingValue})
	} else {
		exprs := make([]string, 0, len(col.SearchableFields))
		for _, name := range col.SearchableFields {
			if f, ok := col.Field(name); ok {
				exprs = append(exprs, postgresql.Column(childAlias, f.ColumnName()))
			}
		}
		for _, token := range plan.Tokens() {
			q.AndAny(searchGroup(token, exprs))
		}
	}

	collectionClauses(&q, col, clausesFor(plan, col))

	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s %s WHERE %s",
		parent, postgresql.QuoteIdent(col.Table), childAlias, postgresql.BuildWhere(q, args))
	return query, args.Values()
}

// buildEmbeddedQuery renders phase 2 over the embedded JSON collection.
// One array element must match every search token on the search key, or
// carry the pending status, along with every clause on the collection.
func buildEmbeddedQuery(plan *executor.Plan, col *schema.Collection, parentIDs []string, pending bool) (string, []interface{}) {
	entity := plan.Entity
	args := &postgresql.Args{}
	var q dbi.Query

	id := idColumn(entity, parentAlias)
	q.And(inCandidates(id, parentIDs))

	if pending {
		q.And(dbi.Condition{Expr: postgresql.JSONKey(elementAlias, col.StatusField), Operator: dbi.OpEq, Value: col.PendingValue})
	} else {
		key := postgresql.JSONKey(elementAlias, col.SearchKey)
		for _, token := range plan.Tokens() {
			q.AndAny(searchGroup(token, []string{key}))
		}
	}

	collectionClauses(&q, col, clausesFor(plan, col))

	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s %s CROSS JOIN LATERAL %s WHERE %s",
		id, postgresql.QuoteIdent(entity.Table), parentAlias, jsonElements(col), postgresql.BuildWhere(q, args))
	return query, args.Values()
}

func clausesFor(plan *executor.Plan, col *schema.Collection) []models.FilterClause {
	for _, cf := range plan.CollectionClauses() {
		if cf.Collection == col {
			return cf.Clauses
		}
	}
	return nil
}

// buildPageQuery renders phase 3 for the given identifiers
func buildPageQuery(entity *schema.EntityType, ids []string, page executor.PageSpec) (string, []interface{}) {
	args := &postgresql.Args{}
	id := idColumn(entity, parentAlias)

	columns := make([]string, len(page.Fields))
	for i, f := range page.Fields {
		columns[i] = fmt.Sprintf("%s AS %s", postgresql.Column(parentAlias, f.ColumnName()), postgresql.QuoteIdent(f.Name))
	}

	order := make([]string, 0, len(page.OrderBy)+1)
	byID := false
	for _, term := range page.OrderBy {
		col := postgresql.Column(parentAlias, term.Field.ColumnName())
		if term.Field.Name == schema.FieldName {
			byID = true
		}
		if term.Desc {
			order = append(order, col+" DESC NULLS LAST")
		} else {
			order = append(order, col+" ASC")
		}
	}
	if !byID {
		order = append(order, id+" ASC")
	}

	where := fmt.Sprintf("%s = ANY(%s)", id, args.AddCast(pq.Array(ids), "text[]"))
	query := fmt.Sprintf("SELECT %s FROM %s %s WHERE %s ORDER BY %s LIMIT %s OFFSET %s",
		strings.Join(columns, ", "), postgresql.QuoteIdent(entity.Table), parentAlias, where,
		strings.Join(order, ", "), args.Add(page.Limit), args.Add(page.Offset))
	return query, args.Values()
}

// buildLabelsQuery looks up display labels of a reference target
func buildLabelsQuery(mapping schema.LabelMapping, values []string) (string, []interface{}) {
	args := &postgresql.Args{}
	id := postgresql.QuoteIdent(mapping.IDColumn)
	query := fmt.Sprintf("SELECT %s::text AS id, %s::text AS label FROM %s WHERE %s::text = ANY(%s)",
		id, postgresql.QuoteIdent(mapping.LabelColumn), postgresql.QuoteIdent(mapping.Table),
		id, args.AddCast(pq.Array(values), "text[]"))
	return query, args.Values()
}

// buildAggregateQuery renders all aggregates as one row. Columns are
// aliased by position.
func buildAggregateQuery(entity *schema.EntityType, ids []string, aggregates []aggregation.Compiled) (string, []interface{}) {
	args := &postgresql.Args{}
	columns := make([]string, len(aggregates))
	for i, a := range aggregates {
		columns[i] = fmt.Sprintf("%s AS a%d", a.SQL(parentAlias, args), i)
	}

	id := idColumn(entity, parentAlias)
	query := fmt.Sprintf("SELECT %s FROM %s %s WHERE %s = ANY(%s)",
		strings.Join(columns, ", "), postgresql.QuoteIdent(entity.Table), parentAlias,
		id, args.AddCast(pq.Array(ids), "text[]"))
	return query, args.Values()
}

// buildGroupByQuery renders the top groups by aggregate value. Ties are
// broken by group key in byte order.
func buildGroupByQuery(entity *schema.EntityType, ids []string, g *aggregation.GroupBy) (string, []interface{}) {
	args := &postgresql.Args{}
	group := g.GroupSQL(parentAlias)
	value := g.Aggregate.SQL(parentAlias, args)

	id := idColumn(entity, parentAlias)
	query := fmt.Sprintf(
		"SELECT %s AS group_key, %s AS aggregate_value FROM %s %s WHERE %s = ANY(%s) "+
			"GROUP BY %s ORDER BY aggregate_value DESC NULLS LAST, %s::text COLLATE \"C\" ASC LIMIT %s",
		group, value, postgresql.QuoteIdent(entity.Table), parentAlias,
		id, args.AddCast(pq.Array(ids), "text[]"),
		group, group, args.Add(g.Limit))
	return query, args.Values()
}

// buildFacetQuery counts the distinct parents per non-empty value of the
// target field
func buildFacetQuery(entity *schema.EntityType, resolved schema.Resolved, ids []string, limit int) (string, []interface{}) {
	args := &postgresql.Args{}
	var q dbi.Query
	col := resolved.Collection
	id := idColumn(entity, parentAlias)

	var value, count, from string
	switch {
	case col == nil:
		value = parentTarget.expr(resolved.Field)
		count = "COUNT(*)"
		from = fmt.Sprintf("%s %s", postgresql.QuoteIdent(entity.Table), parentAlias)
		q.And(inCandidates(id, ids))

	case col.IsEmbedded():
		value = targetFor(col).expr(resolved.Field)
		count = fmt.Sprintf("COUNT(DISTINCT %s)", id)
		from = fmt.Sprintf("%s %s CROSS JOIN LATERAL %s", postgresql.QuoteIdent(entity.Table), parentAlias, jsonElements(col))
		q.And(inCandidates(id, ids))

	default:
		parent := postgresql.Column(childAlias, col.ParentColumn)
		value = targetFor(col).expr(resolved.Field)
		count = fmt.Sprintf("COUNT(DISTINCT %s)", parent)
		from = fmt.Sprintf("%s %s", postgresql.QuoteIdent(col.Table), childAlias)
		q.And(inCandidates(parent, ids))
		childScope(&q, entity, col)
	}
	q.And(dbi.Condition{Expr: value, Operator: dbi.OpSet})

	query := fmt.Sprintf(
		"SELECT %s AS value, %s AS count FROM %s WHERE %s GROUP BY %s ORDER BY count DESC, %s::text COLLATE \"C\" ASC LIMIT %s",
		value, count, from, postgresql.BuildWhere(q, args), value, value, args.Add(limit))
	return query, args.Values()
}
