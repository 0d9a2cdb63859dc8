// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	dbi "github.com/constructa/listquery/internal/database/interfaces"
	"github.com/constructa/listquery/internal/pkg/log"
	"github.com/constructa/listquery/listing/aggregation"
	"github.com/constructa/listquery/listing/executor"
	"github.com/constructa/listquery/listing/filters"
	"github.com/constructa/listquery/listing/models"
	"github.com/constructa/listquery/listing/schema"
	"github.com/constructa/listquery/listing/strategy"
)

// postgresRepository implements ListRepository using raw SQL queries
type postgresRepository struct {
	db dbi.Querier
}

// NewPostgresRepository creates a new PostgreSQL list repository
func NewPostgresRepository(db dbi.Querier) ListRepository {
	return &postgresRepository{db: db}
}

// ParentCandidates runs phase 1 and returns the matching parent identifiers
func (r *postgresRepository) ParentCandidates(ctx context.Context, plan *executor.Plan) ([]string, error) {
	query, args := buildCandidatesQuery(plan)
	log.Dump("candidates query", query, args)

	var ids []string
	if err := sqlx.SelectContext(ctx, r.db, &ids, query, args...); err != nil {
		return nil, errors.Wrapf(err, "failed to select %s candidates", plan.Entity.Name)
	}
	return ids, nil
}

// FetchPage runs phase 3. Rows are keyed by field name.
func (r *postgresRepository) FetchPage(ctx context.Context, entity *schema.EntityType, ids []string, page executor.PageSpec) ([]map[string]interface{}, error) {
	query, args := buildPageQuery(entity, ids, page)
	log.Dump("page query", query, args)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query %s page", entity.Name)
	}
	defer rows.Close()

	types := make(map[string]schema.FieldType, len(page.Fields))
	for _, f := range page.Fields {
		types[f.Name] = f.Type
	}

	out := []map[string]interface{}{}
	for rows.Next() {
		row := map[string]interface{}{}
		if err := rows.MapScan(row); err != nil {
			return nil, errors.Wrapf(err, "failed to scan %s row", entity.Name)
		}
		for k, v := range row {
			row[k] = columnValue(v, types[k])
		}
		out = append(out, row)
	}
	return out, errors.Wrapf(rows.Err(), "error iterating %s rows", entity.Name)
}

type labelRow struct {
	ID    string         `db:"id"`
	Label sql.NullString `db:"label"`
}

// Labels maps reference values to their display labels
func (r *postgresRepository) Labels(ctx context.Context, mapping schema.LabelMapping, values []string) (map[string]string, error) {
	if len(values) == 0 {
		return map[string]string{}, nil
	}
	query, args := buildLabelsQuery(mapping, values)

	var rows []labelRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, args...); err != nil {
		return nil, errors.Wrapf(err, "failed to select %s labels", mapping.Entity)
	}

	out := make(map[string]string, len(rows))
	for _, row := range rows {
		if row.Label.Valid {
			out[row.ID] = row.Label.String
		}
	}
	return out, nil
}

// Aggregate computes every aggregate over ids in one statement
func (r *postgresRepository) Aggregate(ctx context.Context, entity *schema.EntityType, ids []string, aggregates []aggregation.Compiled) ([]decimal.NullDecimal, error) {
	query, args := buildAggregateQuery(entity, ids, aggregates)
	log.Dump("aggregate query", query, args)

	values := make([]decimal.NullDecimal, len(aggregates))
	dest := make([]interface{}, len(values))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := r.db.QueryRowxContext(ctx, query, args...).Scan(dest...); err != nil {
		return nil, errors.Wrapf(err, "failed to aggregate %s", entity.Name)
	}
	return values, nil
}

// GroupBy computes the top groups over ids
func (r *postgresRepository) GroupBy(ctx context.Context, entity *schema.EntityType, ids []string, g *aggregation.GroupBy) ([]models.GroupByRow, error) {
	query, args := buildGroupByQuery(entity, ids, g)
	log.Dump("group by query", query, args)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to group %s by %s", entity.Name, g.GroupField.Name)
	}
	defer rows.Close()

	out := []models.GroupByRow{}
	for rows.Next() {
		var key interface{}
		var value decimal.NullDecimal
		if err := rows.Scan(&key, &value); err != nil {
			return nil, errors.Wrapf(err, "failed to scan group row")
		}
		out = append(out, models.GroupByRow{GroupKey: columnValue(key, g.GroupField.Type), AggregateValue: value})
	}
	return out, errors.Wrapf(rows.Err(), "error iterating group rows")
}

// FacetCounts counts parents per value of the target field
func (r *postgresRepository) FacetCounts(ctx context.Context, entity *schema.EntityType, resolved schema.Resolved, ids []string, limit int) ([]models.FacetValue, error) {
	query, args := buildFacetQuery(entity, resolved, ids, limit)
	log.Dump("facet query", query, args)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to count %s values", resolved.Field.Name)
	}
	defer rows.Close()

	out := []models.FacetValue{}
	for rows.Next() {
		var value interface{}
		var count int64
		if err := rows.Scan(&value, &count); err != nil {
			return nil, errors.Wrapf(err, "failed to scan facet row")
		}
		out = append(out, models.FacetValue{Value: columnValue(value, resolved.Field.Type), Count: count})
	}
	return out, errors.Wrapf(rows.Err(), "error iterating facet rows")
}

// Resolvers returns the phase 2 resolvers
func (r *postgresRepository) Resolvers() map[strategy.Strategy]executor.Resolver {
	return map[strategy.Strategy]executor.Resolver{
		strategy.NestedTableItemSearch:     &nestedTableResolver{db: r.db},
		strategy.NestedTablePendingFilter:  &nestedTableResolver{db: r.db, pending: true},
		strategy.EmbeddedJSONItemSearch:    &embeddedJSONResolver{db: r.db},
		strategy.EmbeddedJSONPendingFilter: &embeddedJSONResolver{db: r.db, pending: true},
	}
}

// columnValue converts a driver value into its JSON friendly form
func columnValue(v interface{}, ft schema.FieldType) interface{} {
	switch t := v.(type) {
	case []byte:
		switch ft {
		case schema.TypeNumber:
			return json.Number(t)
		case schema.TypeJSON:
			var decoded interface{}
			if err := json.Unmarshal(t, &decoded); err == nil {
				return decoded
			}
		}
		return string(t)
	case time.Time:
		if ft == schema.TypeDate {
			return t.Format(filters.DateLayout)
		}
		return t.Format(filters.DatetimeLayout)
	case string:
		if ft == schema.TypeJSON {
			var decoded interface{}
			if err := json.Unmarshal([]byte(t), &decoded); err == nil {
				return decoded
			}
		}
		return t
	default:
		return v
	}
}
