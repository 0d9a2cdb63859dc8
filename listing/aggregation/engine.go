package aggregation

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/constructa/listquery/listing/executor"
	"github.com/constructa/listquery/listing/models"
	"github.com/constructa/listquery/listing/schema"
)

// Store runs aggregate queries scoped to a set of parent identifiers
type Store interface {
	Aggregate(ctx context.Context, entity *schema.EntityType, ids []string, aggregates []Compiled) ([]decimal.NullDecimal, error)
	GroupBy(ctx context.Context, entity *schema.EntityType, ids []string, spec *GroupBy) ([]models.GroupByRow, error)
}

// Engine computes aggregates and group-bys over a candidate set
type Engine struct {
	store    Store
	labels   executor.LabelStore
	registry *schema.Registry
}

// NewEngine creates an Engine. labels may be nil.
func NewEngine(store Store, registry *schema.Registry, labels executor.LabelStore) *Engine {
	return &Engine{store: store, labels: labels, registry: registry}
}

// Aggregate computes every aggregate over cs. An empty candidate set
// yields zero counts and null values without querying.
func (e *Engine) Aggregate(ctx context.Context, entity *schema.EntityType, cs executor.CandidateSet, aggregates []Compiled) (map[string]decimal.NullDecimal, error) {
	if len(aggregates) == 0 {
		return nil, nil
	}

	out := make(map[string]decimal.NullDecimal, len(aggregates))
	if cs.IsEmpty() {
		for _, a := range aggregates {
			out[a.Alias] = a.EmptyValue()
		}
		return out, nil
	}

	values, err := e.store.Aggregate(ctx, entity, cs.IDs(), aggregates)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	if len(values) != len(aggregates) {
		return nil, fmt.Errorf("aggregate: got %d values for %d aggregates", len(values), len(aggregates))
	}
	for i, a := range aggregates {
		out[a.Alias] = values[i]
	}
	return out, nil
}

// GroupBy returns the top groups of cs ordered by aggregate value
// descending. Reference group keys get a best effort label.
func (e *Engine) GroupBy(ctx context.Context, entity *schema.EntityType, cs executor.CandidateSet, spec *GroupBy) ([]models.GroupByRow, error) {
	if spec == nil {
		return nil, nil
	}
	if cs.IsEmpty() {
		return []models.GroupByRow{}, nil
	}

	rows, err := e.store.GroupBy(ctx, entity, cs.IDs(), spec)
	if err != nil {
		return nil, fmt.Errorf("group by: %w", err)
	}
	if len(rows) > spec.Limit {
		rows = rows[:spec.Limit]
	}

	if mapping, ok := e.registry.LabelFor(spec.GroupField); ok {
		keys := make([]string, 0, len(rows))
		for _, r := range rows {
			if r.GroupKey != nil {
				keys = append(keys, models.FormatValue(r.GroupKey))
			}
		}
		labels := executor.ResolveLabels(ctx, e.labels, mapping, keys)
		for i := range rows {
			if rows[i].GroupKey == nil {
				continue
			}
			if label, ok := labels[models.FormatValue(rows[i].GroupKey)]; ok {
				rows[i].GroupLabel = label
			}
		}
	}
	return rows, nil
}
