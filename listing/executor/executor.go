package executor

import (
	"context"
	"fmt"

	"github.com/constructa/listquery/internal/pkg/log"
	"github.com/constructa/listquery/listing/models"
	"github.com/constructa/listquery/listing/schema"
	"github.com/constructa/listquery/listing/strategy"
)

// Store runs the parent table queries of phases 1 and 3
type Store interface {
	ParentCandidates(ctx context.Context, plan *Plan) ([]string, error)
	FetchPage(ctx context.Context, entity *schema.EntityType, ids []string, page PageSpec) ([]map[string]interface{}, error)
}

// LabelStore resolves reference values to display labels
type LabelStore interface {
	Labels(ctx context.Context, mapping schema.LabelMapping, values []string) (map[string]string, error)
}

// Resolver narrows phase 1 parents to those whose nested records match.
// It returns a subset of parentIDs in any order.
type Resolver interface {
	Resolve(ctx context.Context, parentIDs []string, plan *Plan) ([]string, error)
}

// Executor runs the candidate resolution and page phases of a request
type Executor struct {
	store     Store
	labels    LabelStore
	registry  *schema.Registry
	resolvers map[strategy.Strategy]Resolver
}

// New creates an Executor. labels may be nil to skip label resolution.
func New(store Store, registry *schema.Registry, resolvers map[strategy.Strategy]Resolver, labels LabelStore) *Executor {
	return &Executor{
		store:     store,
		labels:    labels,
		registry:  registry,
		resolvers: resolvers,
	}
}

// Candidates computes the candidate set of plan. Phase 1 filters the parent
// table; for non-standard strategies phase 2 keeps the parents whose nested
// records match.
func (e *Executor) Candidates(ctx context.Context, plan *Plan) (CandidateSet, error) {
	ids, err := e.store.ParentCandidates(ctx, plan)
	if err != nil {
		return CandidateSet{}, fmt.Errorf("resolve parent candidates: %w", err)
	}
	provisional := NewCandidateSet(ids)

	s := plan.Selection.Strategy
	if s == strategy.Standard || provisional.IsEmpty() {
		return provisional, nil
	}

	resolver, ok := e.resolvers[s]
	if !ok {
		return CandidateSet{}, fmt.Errorf("no resolver for strategy %s", s)
	}
	matched, err := resolver.Resolve(ctx, provisional.IDs(), plan)
	if err != nil {
		return CandidateSet{}, fmt.Errorf("resolve %s: %w", s, err)
	}

	final := provisional.restrict(matched)
	log.DebugWithContext(ctx, "%s %s: %d provisional, %d final", plan.Entity.Name, s, provisional.Len(), final.Len())
	return final, nil
}

// Page fetches one page of rows for the candidate set and appends labels
// for reference fields
func (e *Executor) Page(ctx context.Context, entity *schema.EntityType, cs CandidateSet, page PageSpec) ([]map[string]interface{}, error) {
	if cs.IsEmpty() || page.Offset >= cs.Len() {
		return []map[string]interface{}{}, nil
	}

	rows, err := e.store.FetchPage(ctx, entity, cs.IDs(), page)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	e.attachLabels(ctx, page.Fields, rows)
	return rows, nil
}

func (e *Executor) attachLabels(ctx context.Context, fields []schema.Field, rows []map[string]interface{}) {
	if e.labels == nil || e.registry == nil || len(rows) == 0 {
		return
	}

	for _, f := range fields {
		mapping, ok := e.registry.LabelFor(f)
		if !ok {
			continue
		}

		values := make([]string, 0, len(rows))
		for _, row := range rows {
			if v, ok := row[f.Name]; ok && v != nil {
				values = append(values, models.FormatValue(v))
			}
		}
		labels := ResolveLabels(ctx, e.labels, mapping, values)
		if labels == nil {
			continue
		}
		for _, row := range rows {
			if v, ok := row[f.Name]; ok && v != nil {
				if label, found := labels[models.FormatValue(v)]; found {
					row[f.Name+"_name"] = label
				}
			}
		}
	}
}

// ResolveLabels looks up labels for values. Failures are logged and yield nil.
func ResolveLabels(ctx context.Context, store LabelStore, mapping schema.LabelMapping, values []string) map[string]string {
	if store == nil || len(values) == 0 {
		return nil
	}
	distinct := NewCandidateSet(values).IDs()
	labels, err := store.Labels(ctx, mapping, distinct)
	if err != nil {
		log.WarnWithContext(ctx, "label lookup for %s failed: %v", mapping.Entity, err)
		return nil
	}
	return labels
}
