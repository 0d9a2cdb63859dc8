package facets

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/constructa/listquery/listing/executor"
	"github.com/constructa/listquery/listing/models"
	"github.com/constructa/listquery/listing/schema"
)

// MaxLimit caps the number of facet values regardless of configuration
const MaxLimit = 200

// Store counts distinct values of a field over a set of parents
type Store interface {
	FacetCounts(ctx context.Context, entity *schema.EntityType, target schema.Resolved, ids []string, limit int) ([]models.FacetValue, error)
}

// Calculator computes facet values over a candidate set
type Calculator struct {
	store        Store
	labels       executor.LabelStore
	registry     *schema.Registry
	defaultLimit int
	maxLimit     int
}

// NewCalculator creates a Calculator. labels may be nil.
func NewCalculator(store Store, registry *schema.Registry, labels executor.LabelStore, defaultLimit, maxLimit int) *Calculator {
	if maxLimit <= 0 || maxLimit > MaxLimit {
		maxLimit = MaxLimit
	}
	if defaultLimit <= 0 || defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}
	return &Calculator{
		store:        store,
		labels:       labels,
		registry:     registry,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

// ClampLimit applies the default and the maximum to a requested limit
func (c *Calculator) ClampLimit(limit int) int {
	return executor.ClampLimit(limit, c.defaultLimit, c.maxLimit)
}

// ResolveField locates a facet field. "collection.field" addresses a
// collection field explicitly; a bare name is resolved parent first.
func ResolveField(entity *schema.EntityType, field string) (schema.Resolved, bool) {
	if i := strings.LastIndex(field, "."); i > 0 {
		return entity.Resolve(field[:i], field[i+1:])
	}
	return entity.Resolve("", field)
}

// ExcludeField removes the clauses that filter on target
func ExcludeField(clauses []models.FilterClause, target schema.Resolved) []models.FilterClause {
	childType := ""
	if target.Collection != nil {
		childType = target.Collection.ChildType
	}

	out := make([]models.FilterClause, 0, len(clauses))
	for _, c := range clauses {
		if c.Field == target.Field.Name && strings.EqualFold(c.EntityType, childType) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Values returns up to limit distinct values of target within cs, ordered
// by count descending then value ascending. Reference values get labels,
// falling back to the raw value.
func (c *Calculator) Values(ctx context.Context, entity *schema.EntityType, target schema.Resolved, cs executor.CandidateSet, limit int) ([]models.FacetValue, error) {
	limit = c.ClampLimit(limit)
	if cs.IsEmpty() {
		return []models.FacetValue{}, nil
	}

	values, err := c.store.FacetCounts(ctx, entity, target, cs.IDs(), limit)
	if err != nil {
		return nil, fmt.Errorf("facet counts: %w", err)
	}

	SortValues(values)
	if len(values) > limit {
		values = values[:limit]
	}

	var labels map[string]string
	if mapping, ok := c.registry.LabelFor(target.Field); ok {
		keys := make([]string, len(values))
		for i, v := range values {
			keys[i] = models.FormatValue(v.Value)
		}
		labels = executor.ResolveLabels(ctx, c.labels, mapping, keys)
	}

	for i := range values {
		raw := models.FormatValue(values[i].Value)
		values[i].Label = raw
		if label, ok := labels[raw]; ok && label != "" {
			values[i].Label = label
		}
	}
	return values, nil
}

// SortValues orders facet values by count descending, then value ascending
func SortValues(values []models.FacetValue) {
	sort.SliceStable(values, func(i, j int) bool {
		if values[i].Count != values[j].Count {
			return values[i].Count > values[j].Count
		}
		return models.FormatValue(values[i].Value) < models.FormatValue(values[j].Value)
	})
}
