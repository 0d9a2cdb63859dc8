package aggregation

import (
	"strings"

	"github.com/constructa/listquery/internal/database/postgresql"
	listingErrors "github.com/constructa/listquery/listing/errors"
	"github.com/constructa/listquery/listing/models"
	"github.com/constructa/listquery/listing/schema"
)

// GroupBy is a validated group-by request
type GroupBy struct {
	GroupField schema.Field
	Aggregate  Compiled
	Limit      int
}

// CompileGroupBy validates spec. The limit defaults to def and is capped at max.
func CompileGroupBy(entity *schema.EntityType, spec *models.GroupBySpec, def, max int) (*GroupBy, error) {
	if spec == nil {
		return nil, nil
	}

	group, ok := entity.Field(strings.TrimSpace(spec.GroupField))
	if !ok {
		return nil, listingErrors.NewInvalidInput("group by: unknown group field %q", spec.GroupField)
	}
	if group.Type == schema.TypeJSON {
		return nil, listingErrors.NewInvalidInput("group by: cannot group by JSON field %q", group.Name)
	}

	compiled, err := Compile(entity, []models.AggregateSpec{{
		Alias:    "aggregate_value",
		Field:    spec.AggregateField,
		Function: spec.Function,
	}})
	if err != nil {
		return nil, err
	}

	limit := spec.Limit
	if limit <= 0 {
		limit = def
	}
	if max > 0 && limit > max {
		limit = max
	}

	return &GroupBy{GroupField: group, Aggregate: compiled[0], Limit: limit}, nil
}

// GroupSQL renders the grouped column over table alias
func (g *GroupBy) GroupSQL(alias string) string {
	return postgresql.Column(alias, g.GroupField.ColumnName())
}
