package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	dbi "github.com/constructa/listquery/internal/database/interfaces"
	"github.com/constructa/listquery/internal/pkg/log"
	"github.com/constructa/listquery/listing/executor"
)

// nestedTableResolver keeps parents with a matching child table row
type nestedTableResolver struct {
	db      dbi.Querier
	pending bool
}

func (n *nestedTableResolver) Resolve(ctx context.Context, parentIDs []string, plan *executor.Plan) ([]string, error) {
	col := plan.Selection.Collection
	if col == nil || !col.IsNormalized() {
		return nil, errors.Errorf("%s has no normalized collection selected", plan.Entity.Name)
	}

	query, args := buildNestedTableQuery(plan, col, parentIDs, n.pending)
	log.Dump("nested table query", query, args)

	var ids []string
	if err := sqlx.SelectContext(ctx, n.db, &ids, query, args...); err != nil {
		return nil, errors.Wrapf(err, "failed to select %s rows", col.Table)
	}
	return ids, nil
}

// embeddedJSONResolver keeps parents with a matching embedded array element
type embeddedJSONResolver struct {
	db      dbi.Querier
	pending bool
}

func (e *embeddedJSONResolver) Resolve(ctx context.Context, parentIDs []string, plan *executor.Plan) ([]string, error) {
	col := plan.Selection.Collection
	if col == nil || !col.IsEmbedded() {
		return nil, errors.Errorf("%s has no embedded collection selected", plan.Entity.Name)
	}

	query, args := buildEmbeddedQuery(plan, col, parentIDs, e.pending)
	log.Dump("embedded query", query, args)

	var ids []string
	if err := sqlx.SelectContext(ctx, e.db, &ids, query, args...); err != nil {
		return nil, errors.Wrapf(err, "failed to search %s elements", col.Name)
	}
	return ids, nil
}
