package facets_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/constructa/listquery/listing/executor"
	"github.com/constructa/listquery/listing/facets"
	"github.com/constructa/listquery/listing/models"
	"github.com/constructa/listquery/listing/schema"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) FacetCounts(ctx context.Context, entity *schema.EntityType, target schema.Resolved, ids []string, limit int) ([]models.FacetValue, error) {
	args := m.Called(ctx, entity, target, ids, limit)
	values, _ := args.Get(0).([]models.FacetValue)
	return values, args.Error(1)
}

func (m *mockStore) Labels(ctx context.Context, mapping schema.LabelMapping, values []string) (map[string]string, error) {
	args := m.Called(ctx, mapping, values)
	labels, _ := args.Get(0).(map[string]string)
	return labels, args.Error(1)
}

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry([]schema.EntityType{{
		Name: "Order",
		Fields: []schema.Field{
			{Name: "status"},
			{Name: "supplier", Type: schema.TypeReference, References: "Supplier"},
		},
		Collections: []schema.Collection{{
			Name:      "items",
			ChildType: "Order Item",
			Shape:     schema.ShapeNormalized,
			Fields:    []schema.Field{{Name: "status"}, {Name: "item_code"}},
		}},
	}}, []schema.LabelMapping{{Entity: "Supplier", Table: "suppliers", LabelColumn: "supplier_name"}})
	require.NoError(t, err)
	return reg
}

func TestSortValuesTieBreak(t *testing.T) {
	values := []models.FacetValue{
		{Value: "B", Count: 3},
		{Value: "C", Count: 5},
		{Value: "A", Count: 3},
	}
	facets.SortValues(values)

	assert.Equal(t, []models.FacetValue{
		{Value: "C", Count: 5},
		{Value: "A", Count: 3},
		{Value: "B", Count: 3},
	}, values)
}

func TestExcludeField(t *testing.T) {
	reg := testRegistry(t)
	order, _ := reg.Get("Order")

	clauses := []models.FilterClause{
		{Field: "status", Operator: "=", Value: "Draft"},
		{EntityType: "Order Item", Field: "status", Operator: "=", Value: "Pending"},
		{Field: "supplier", Operator: "=", Value: "SUP-1"},
	}

	parentStatus, ok := facets.ResolveField(order, "status")
	require.True(t, ok)
	assert.Equal(t, []models.FilterClause{clauses[1], clauses[2]}, facets.ExcludeField(clauses, parentStatus))

	childStatus, ok := facets.ResolveField(order, "items.status")
	require.True(t, ok)
	require.NotNil(t, childStatus.Collection)
	assert.Equal(t, []models.FilterClause{clauses[0], clauses[2]}, facets.ExcludeField(clauses, childStatus))

	_, ok = facets.ResolveField(order, "items.nope")
	assert.False(t, ok)
}

func TestValues(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)
	order, _ := reg.Get("Order")
	supplier, _ := facets.ResolveField(order, "supplier")
	status, _ := facets.ResolveField(order, "status")
	supplierLabels, _ := reg.Label("Supplier")
	cs := executor.NewCandidateSet([]string{"ORD-1", "ORD-2", "ORD-3", "ORD-4"})

	t.Run("LimitIsClamped", func(t *testing.T) {
		store := new(mockStore)
		store.On("FacetCounts", ctx, order, status, cs.IDs(), 200).Return([]models.FacetValue{
			{Value: "B", Count: 3}, {Value: "A", Count: 3},
		}, nil)

		calc := facets.NewCalculator(store, reg, store, 100, 1000)
		got, err := calc.Values(ctx, order, status, cs, 5000)
		require.NoError(t, err)
		assert.Equal(t, []models.FacetValue{
			{Value: "A", Label: "A", Count: 3},
			{Value: "B", Label: "B", Count: 3},
		}, got)
		assert.Equal(t, 100, calc.ClampLimit(0))
	})

	t.Run("ReferenceLabelsFallBackToValue", func(t *testing.T) {
		store := new(mockStore)
		store.On("FacetCounts", ctx, order, supplier, cs.IDs(), 10).Return([]models.FacetValue{
			{Value: "SUP-1", Count: 3}, {Value: "SUP-2", Count: 1},
		}, nil)
		store.On("Labels", ctx, supplierLabels, []string{"SUP-1", "SUP-2"}).Return(map[string]string{"SUP-1": "Acme Steel"}, nil)

		got, err := facets.NewCalculator(store, reg, store, 100, 200).Values(ctx, order, supplier, cs, 10)
		require.NoError(t, err)
		assert.Equal(t, "Acme Steel", got[0].Label)
		assert.Equal(t, "SUP-2", got[1].Label)
	})

	t.Run("LabelFailure", func(t *testing.T) {
		store := new(mockStore)
		store.On("FacetCounts", ctx, order, supplier, cs.IDs(), 10).Return([]models.FacetValue{{Value: "SUP-1", Count: 3}}, nil)
		store.On("Labels", ctx, supplierLabels, []string{"SUP-1"}).Return(nil, errors.New("boom"))

		got, err := facets.NewCalculator(store, reg, store, 100, 200).Values(ctx, order, supplier, cs, 10)
		require.NoError(t, err)
		assert.Equal(t, "SUP-1", got[0].Label)
	})

	t.Run("EmptyCandidateSet", func(t *testing.T) {
		store := new(mockStore)
		got, err := facets.NewCalculator(store, reg, store, 100, 200).Values(ctx, order, status, executor.NewCandidateSet(nil), 10)
		require.NoError(t, err)
		assert.Empty(t, got)
		store.AssertNotCalled(t, "FacetCounts", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}
