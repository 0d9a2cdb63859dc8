package executor_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/constructa/listquery/listing/executor"
	"github.com/constructa/listquery/listing/schema"
	"github.com/constructa/listquery/listing/strategy"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) ParentCandidates(ctx context.Context, plan *executor.Plan) ([]string, error) {
	args := m.Called(ctx, plan)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *mockStore) FetchPage(ctx context.Context, entity *schema.EntityType, ids []string, page executor.PageSpec) ([]map[string]interface{}, error) {
	args := m.Called(ctx, entity, ids, page)
	rows, _ := args.Get(0).([]map[string]interface{})
	return rows, args.Error(1)
}

func (m *mockStore) Labels(ctx context.Context, mapping schema.LabelMapping, values []string) (map[string]string, error) {
	args := m.Called(ctx, mapping, values)
	labels, _ := args.Get(0).(map[string]string)
	return labels, args.Error(1)
}

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(ctx context.Context, parentIDs []string, plan *executor.Plan) ([]string, error) {
	args := m.Called(ctx, parentIDs, plan)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry([]schema.EntityType{{
		Name: "Order",
		Fields: []schema.Field{
			{Name: "title"},
			{Name: "supplier", Type: schema.TypeReference, References: "Supplier"},
			{Name: "grand_total", Type: schema.TypeNumber},
		},
		Collections: []schema.Collection{{
			Name:        "items",
			Shape:       schema.ShapeNormalized,
			StatusField: "status",
			Fields:      []schema.Field{{Name: "status"}},
		}},
	}}, []schema.LabelMapping{{Entity: "Supplier", Table: "suppliers", LabelColumn: "supplier_name"}})
	require.NoError(t, err)
	return reg
}

func TestCandidates(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)
	order, _ := reg.Get("Order")

	t.Run("StandardUsesPhaseOne", func(t *testing.T) {
		store := new(mockStore)
		plan := &executor.Plan{Entity: order, Selection: strategy.Selection{Strategy: strategy.Standard}}
		store.On("ParentCandidates", ctx, plan).Return([]string{"ORD-1", "ORD-2", "ORD-1"}, nil)

		cs, err := executor.New(store, reg, nil, nil).Candidates(ctx, plan)
		require.NoError(t, err)
		assert.Equal(t, []string{"ORD-1", "ORD-2"}, cs.IDs())
		assert.Equal(t, 2, cs.Len())
	})

	t.Run("PendingFilterNarrowsInPhaseOneOrder", func(t *testing.T) {
		store := new(mockStore)
		resolver := new(mockResolver)
		items, _ := order.PendingCollection()
		plan := &executor.Plan{Entity: order, Selection: strategy.Selection{Strategy: strategy.NestedTablePendingFilter, Collection: items}}

		store.On("ParentCandidates", ctx, plan).Return([]string{"ORD-1", "ORD-2", "ORD-3"}, nil)
		resolver.On("Resolve", ctx, []string{"ORD-1", "ORD-2", "ORD-3"}, plan).Return([]string{"ORD-3", "ORD-1", "ORD-9"}, nil)

		exec := executor.New(store, reg, map[strategy.Strategy]executor.Resolver{
			strategy.NestedTablePendingFilter: resolver,
		}, nil)
		cs, err := exec.Candidates(ctx, plan)
		require.NoError(t, err)
		assert.Equal(t, []string{"ORD-1", "ORD-3"}, cs.IDs())
		resolver.AssertExpectations(t)
	})

	t.Run("EmptyPhaseOneSkipsPhaseTwo", func(t *testing.T) {
		store := new(mockStore)
		resolver := new(mockResolver)
		plan := &executor.Plan{Entity: order, Selection: strategy.Selection{Strategy: strategy.NestedTablePendingFilter}}
		store.On("ParentCandidates", ctx, plan).Return([]string{}, nil)

		exec := executor.New(store, reg, map[strategy.Strategy]executor.Resolver{
			strategy.NestedTablePendingFilter: resolver,
		}, nil)
		cs, err := exec.Candidates(ctx, plan)
		require.NoError(t, err)
		assert.True(t, cs.IsEmpty())
		resolver.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("MissingResolver", func(t *testing.T) {
		store := new(mockStore)
		plan := &executor.Plan{Entity: order, Selection: strategy.Selection{Strategy: strategy.EmbeddedJSONItemSearch}}
		store.On("ParentCandidates", ctx, plan).Return([]string{"ORD-1"}, nil)

		_, err := executor.New(store, reg, nil, nil).Candidates(ctx, plan)
		assert.Error(t, err)
	})

	t.Run("PhaseOneFailure", func(t *testing.T) {
		store := new(mockStore)
		plan := &executor.Plan{Entity: order}
		store.On("ParentCandidates", ctx, plan).Return(nil, errors.New("connection reset"))

		_, err := executor.New(store, reg, nil, nil).Candidates(ctx, plan)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection reset")
	})
}

func TestPage(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)
	order, _ := reg.Get("Order")
	fields, _ := executor.ResolveFields(order, []string{"supplier"})
	page := executor.PageSpec{Fields: fields, OrderBy: executor.ResolveOrderBy(order, fields, ""), Limit: 20}
	supplierLabels, _ := reg.Label("Supplier")

	t.Run("EmptyCandidateSetRunsNoQuery", func(t *testing.T) {
		store := new(mockStore)
		rows, err := executor.New(store, reg, nil, store).Page(ctx, order, executor.NewCandidateSet(nil), page)
		require.NoError(t, err)
		assert.Empty(t, rows)
		store.AssertNotCalled(t, "FetchPage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("AppendsLabels", func(t *testing.T) {
		store := new(mockStore)
		cs := executor.NewCandidateSet([]string{"ORD-1", "ORD-2"})
		store.On("FetchPage", ctx, order, cs.IDs(), page).Return([]map[string]interface{}{
			{"name": "ORD-1", "supplier": "SUP-1"},
			{"name": "ORD-2", "supplier": "SUP-1"},
		}, nil)
		store.On("Labels", ctx, supplierLabels, []string{"SUP-1"}).Return(map[string]string{"SUP-1": "Acme Steel"}, nil)

		rows, err := executor.New(store, reg, nil, store).Page(ctx, order, cs, page)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "Acme Steel", rows[0]["supplier_name"])
		assert.Equal(t, "Acme Steel", rows[1]["supplier_name"])
	})

	t.Run("LabelFailureIsNotFatal", func(t *testing.T) {
		store := new(mockStore)
		cs := executor.NewCandidateSet([]string{"ORD-1"})
		store.On("FetchPage", ctx, order, cs.IDs(), page).Return([]map[string]interface{}{
			{"name": "ORD-1", "supplier": "SUP-1"},
		}, nil)
		store.On("Labels", ctx, supplierLabels, []string{"SUP-1"}).Return(nil, errors.New("relation suppliers does not exist"))

		rows, err := executor.New(store, reg, nil, store).Page(ctx, order, cs, page)
		require.NoError(t, err)
		assert.NotContains(t, rows[0], "supplier_name")
	})
}

func TestResolveFields(t *testing.T) {
	order, _ := testRegistry(t).Get("Order")

	fields, unknown := executor.ResolveFields(order, []string{"title", "name", "title", "secret", " grand_total "})
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"name", "title", "grand_total"}, names)
	assert.Equal(t, []string{"secret"}, unknown)
}

func TestResolveOrderBy(t *testing.T) {
	order, _ := testRegistry(t).Get("Order")
	fields, _ := executor.ResolveFields(order, []string{"title"})

	tests := []struct {
		orderBy string
		want    []string
	}{
		{"", []string{"modified desc"}},
		{"title asc", []string{"title asc"}},
		{"`tabOrder`.creation DESC", []string{"creation desc"}},
		{"grand_total desc", []string{"modified desc"}},
		{"title; drop table orders", []string{"modified desc"}},
		{"idx, owner desc", []string{"idx asc", "owner desc"}},
		{"title sideways", []string{"modified desc"}},
	}

	for _, tt := range tests {
		t.Run(tt.orderBy, func(t *testing.T) {
			terms := executor.ResolveOrderBy(order, fields, tt.orderBy)
			got := make([]string, len(terms))
			for i, term := range terms {
				dir := "asc"
				if term.Desc {
					dir = "desc"
				}
				got[i] = term.Field.Name + " " + dir
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 50, executor.ClampLimit(0, 50, 500))
	assert.Equal(t, 500, executor.ClampLimit(10000, 50, 500))
	assert.Equal(t, 20, executor.ClampLimit(20, 50, 500))
}
