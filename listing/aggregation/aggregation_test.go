package aggregation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/constructa/listquery/internal/database/postgresql"
	"github.com/constructa/listquery/listing/aggregation"
	listingErrors "github.com/constructa/listquery/listing/errors"
	"github.com/constructa/listquery/listing/executor"
	"github.com/constructa/listquery/listing/models"
	"github.com/constructa/listquery/listing/schema"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry([]schema.EntityType{{
		Name: "Order",
		Fields: []schema.Field{
			{Name: "status"},
			{Name: "supplier", Type: schema.TypeReference, References: "Supplier"},
			{Name: "grand_total", Type: schema.TypeNumber},
			{Name: "paid_amount", Type: schema.TypeNumber, Column: "paid"},
		},
	}}, []schema.LabelMapping{{Entity: "Supplier", Table: "suppliers", LabelColumn: "supplier_name"}})
	require.NoError(t, err)
	return reg
}

func orderEntity(t *testing.T) *schema.EntityType {
	e, _ := testRegistry(t).Get("Order")
	return e
}

func field(name string) models.Expression {
	return models.Expression{Field: name}
}

func TestCompileSimple(t *testing.T) {
	order := orderEntity(t)

	compiled, err := aggregation.Compile(order, []models.AggregateSpec{
		{Field: "grand_total", Function: "sum"},
		{Field: "status", Function: "COUNT"},
		{Function: "COUNT"},
		{Field: "paid_amount", Function: "max", Alias: "largest_payment"},
	})
	require.NoError(t, err)
	require.Len(t, compiled, 4)

	args := &postgresql.Args{}
	assert.Equal(t, "sum_grand_total", compiled[0].Alias)
	assert.Equal(t, `SUM(CAST(t."grand_total" AS numeric))`, compiled[0].SQL("t", args))
	assert.Equal(t, "count_status", compiled[1].Alias)
	assert.Equal(t, `COUNT(t."status")`, compiled[1].SQL("t", args))
	assert.Equal(t, "count", compiled[2].Alias)
	assert.Equal(t, "COUNT(*)", compiled[2].SQL("t", args))
	assert.Equal(t, "largest_payment", compiled[3].Alias)
	assert.Equal(t, `MAX(CAST(t."paid" AS numeric))`, compiled[3].SQL("t", args))
	assert.Equal(t, 0, args.Len())
}

func TestCompileRejects(t *testing.T) {
	order := orderEntity(t)

	tests := []struct {
		name string
		spec models.AggregateSpec
	}{
		{"UnknownFunction", models.AggregateSpec{Field: "grand_total", Function: "MEDIAN"}},
		{"UnknownField", models.AggregateSpec{Field: "discount", Function: "SUM"}},
		{"NonNumericSum", models.AggregateSpec{Field: "status", Function: "SUM"}},
		{"SumWithoutField", models.AggregateSpec{Function: "SUM"}},
		{"ExpressionWithMinOuter", models.AggregateSpec{
			Function:   "MIN",
			Expression: &models.Expression{Function: "ADD", Args: []models.Expression{field("grand_total"), field("paid_amount")}},
		}},
		{"ExpressionNonNumericLeaf", models.AggregateSpec{
			Function:   "SUM",
			Expression: &models.Expression{Function: "SUBTRACT", Args: []models.Expression{field("grand_total"), field("status")}},
		}},
		{"ExpressionUnknownLeaf", models.AggregateSpec{
			Function:   "SUM",
			Expression: &models.Expression{Function: "ADD", Args: []models.Expression{field("grand_total"), field("1; drop table orders")}},
		}},
		{"ExpressionDisallowedOperation", models.AggregateSpec{
			Function:   "SUM",
			Expression: &models.Expression{Function: "POWER", Args: []models.Expression{field("grand_total"), {Value: 2.0}}},
		}},
		{"ExpressionTextLiteral", models.AggregateSpec{
			Function:   "AVG",
			Expression: &models.Expression{Function: "MULTIPLY", Args: []models.Expression{field("grand_total"), {Value: "pg_sleep(10)"}}},
		}},
		{"ExpressionBoolLiteral", models.AggregateSpec{
			Function:   "AVG",
			Expression: &models.Expression{Function: "MULTIPLY", Args: []models.Expression{field("grand_total"), {Value: true}}},
		}},
		{"ExpressionArity", models.AggregateSpec{
			Function:   "SUM",
			Expression: &models.Expression{Function: "DIVIDE", Args: []models.Expression{field("grand_total")}},
		}},
		{"EmptyNode", models.AggregateSpec{
			Function:   "SUM",
			Expression: &models.Expression{Function: "ADD", Args: []models.Expression{field("grand_total"), {}}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := aggregation.Compile(order, []models.AggregateSpec{
				{Field: "grand_total", Function: "SUM"},
				tt.spec,
			})
			require.Error(t, err)
			assert.True(t, errors.Is(err, listingErrors.ErrInvalidInput))
		})
	}

	t.Run("TooDeep", func(t *testing.T) {
		expr := field("grand_total")
		for i := 0; i < 10; i++ {
			expr = models.Expression{Function: "ADD", Args: []models.Expression{expr, {Value: 1.0}}}
		}
		_, err := aggregation.Compile(order, []models.AggregateSpec{{Function: "SUM", Expression: &expr}})
		assert.True(t, errors.Is(err, listingErrors.ErrInvalidInput))
	})

	t.Run("DuplicateAlias", func(t *testing.T) {
		_, err := aggregation.Compile(order, []models.AggregateSpec{
			{Field: "grand_total", Function: "SUM", Alias: "total"},
			{Field: "paid_amount", Function: "SUM", Alias: "total"},
		})
		assert.True(t, errors.Is(err, listingErrors.ErrInvalidInput))
	})
}

func TestExpressionSQL(t *testing.T) {
	order := orderEntity(t)

	compiled, err := aggregation.Compile(order, []models.AggregateSpec{{
		Function: "sum",
		Alias:    "outstanding_ratio",
		Expression: &models.Expression{
			Function: "DIVIDE",
			Args: []models.Expression{
				{Function: "SUBTRACT", Args: []models.Expression{field("grand_total"), field("paid_amount")}},
				{Function: "MAX", Args: []models.Expression{field("grand_total"), {Value: "0.5"}, {Value: 0.0}}},
			},
		},
	}})
	require.NoError(t, err)

	args := &postgresql.Args{}
	sql := compiled[0].SQL("t", args)
	assert.Equal(t,
		`SUM(((COALESCE(CAST(t."grand_total" AS numeric), 0) - COALESCE(CAST(t."paid" AS numeric), 0)) / `+
			`NULLIF(GREATEST(COALESCE(CAST(t."grand_total" AS numeric), 0), $1::numeric, $2::numeric), 0)))`,
		sql)
	assert.Equal(t, []interface{}{"0.5", "0"}, args.Values())
}

func TestCountOverExpressionIsNullWhenNothingCounts(t *testing.T) {
	order := orderEntity(t)

	compiled, err := aggregation.Compile(order, []models.AggregateSpec{{
		Function: "count",
		Alias:    "priced_lines",
		Expression: &models.Expression{
			Function: "DIVIDE",
			Args:     []models.Expression{field("grand_total"), {Value: 0.0}},
		},
	}})
	require.NoError(t, err)

	args := &postgresql.Args{}
	assert.Equal(t,
		`NULLIF(COUNT((COALESCE(CAST(t."grand_total" AS numeric), 0) / NULLIF($1::numeric, 0))), 0)`,
		compiled[0].SQL("t", args))
	assert.Equal(t, []interface{}{"0"}, args.Values())
	assert.False(t, compiled[0].EmptyValue().Valid)
}

func TestCompileGroupBy(t *testing.T) {
	order := orderEntity(t)

	g, err := aggregation.CompileGroupBy(order, &models.GroupBySpec{GroupField: "supplier", AggregateField: "grand_total", Function: "sum", Limit: 500}, 10, 50)
	require.NoError(t, err)
	assert.Equal(t, 50, g.Limit)
	assert.Equal(t, `t."supplier"`, g.GroupSQL("t"))

	g, err = aggregation.CompileGroupBy(order, &models.GroupBySpec{GroupField: "status", Function: "count"}, 10, 50)
	require.NoError(t, err)
	assert.Equal(t, 10, g.Limit)
	assert.Equal(t, "COUNT(*)", g.Aggregate.SQL("t", &postgresql.Args{}))

	_, err = aggregation.CompileGroupBy(order, &models.GroupBySpec{GroupField: "nope", Function: "count"}, 10, 50)
	assert.True(t, errors.Is(err, listingErrors.ErrInvalidInput))

	_, err = aggregation.CompileGroupBy(order, &models.GroupBySpec{GroupField: "status", AggregateField: "status", Function: "avg"}, 10, 50)
	assert.True(t, errors.Is(err, listingErrors.ErrInvalidInput))

	g, err = aggregation.CompileGroupBy(order, nil, 10, 50)
	assert.NoError(t, err)
	assert.Nil(t, g)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Aggregate(ctx context.Context, entity *schema.EntityType, ids []string, aggregates []aggregation.Compiled) ([]decimal.NullDecimal, error) {
	args := m.Called(ctx, entity, ids, aggregates)
	values, _ := args.Get(0).([]decimal.NullDecimal)
	return values, args.Error(1)
}

func (m *mockStore) GroupBy(ctx context.Context, entity *schema.EntityType, ids []string, spec *aggregation.GroupBy) ([]models.GroupByRow, error) {
	args := m.Called(ctx, entity, ids, spec)
	rows, _ := args.Get(0).([]models.GroupByRow)
	return rows, args.Error(1)
}

func (m *mockStore) Labels(ctx context.Context, mapping schema.LabelMapping, values []string) (map[string]string, error) {
	args := m.Called(ctx, mapping, values)
	labels, _ := args.Get(0).(map[string]string)
	return labels, args.Error(1)
}

func TestEngineAggregate(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)
	order, _ := reg.Get("Order")
	compiled, err := aggregation.Compile(order, []models.AggregateSpec{
		{Function: "COUNT"},
		{Field: "grand_total", Function: "SUM"},
		{Function: "AVG", Alias: "ratio", Expression: &models.Expression{
			Function: "DIVIDE", Args: []models.Expression{field("grand_total"), {Value: 0.0}},
		}},
	})
	require.NoError(t, err)

	t.Run("EmptyCandidateSet", func(t *testing.T) {
		store := new(mockStore)
		got, err := aggregation.NewEngine(store, reg, store).Aggregate(ctx, order, executor.NewCandidateSet(nil), compiled)
		require.NoError(t, err)

		assert.True(t, got["count"].Valid)
		assert.True(t, got["count"].Decimal.IsZero())
		assert.False(t, got["sum_grand_total"].Valid)
		assert.False(t, got["ratio"].Valid)
		store.AssertNotCalled(t, "Aggregate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("ValuesByAlias", func(t *testing.T) {
		store := new(mockStore)
		cs := executor.NewCandidateSet([]string{"ORD-1", "ORD-2"})
		store.On("Aggregate", ctx, order, cs.IDs(), compiled).Return([]decimal.NullDecimal{
			decimal.NewNullDecimal(decimal.NewFromInt(2)),
			decimal.NewNullDecimal(decimal.RequireFromString("1500.25")),
			{},
		}, nil)

		got, err := aggregation.NewEngine(store, reg, store).Aggregate(ctx, order, cs, compiled)
		require.NoError(t, err)
		assert.Equal(t, "2", got["count"].Decimal.String())
		assert.Equal(t, "1500.25", got["sum_grand_total"].Decimal.String())
		assert.False(t, got["ratio"].Valid, "division by zero yields null")
	})

	t.Run("StoreFailure", func(t *testing.T) {
		store := new(mockStore)
		cs := executor.NewCandidateSet([]string{"ORD-1"})
		store.On("Aggregate", ctx, order, cs.IDs(), compiled).Return(nil, errors.New("timeout"))

		_, err := aggregation.NewEngine(store, reg, store).Aggregate(ctx, order, cs, compiled)
		assert.Error(t, err)
	})
}

func TestEngineGroupBy(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)
	order, _ := reg.Get("Order")
	supplierLabels, _ := reg.Label("Supplier")

	spec, err := aggregation.CompileGroupBy(order, &models.GroupBySpec{GroupField: "supplier", AggregateField: "grand_total", Function: "SUM", Limit: 2}, 10, 50)
	require.NoError(t, err)

	store := new(mockStore)
	cs := executor.NewCandidateSet([]string{"ORD-1", "ORD-2", "ORD-3"})
	store.On("GroupBy", ctx, order, cs.IDs(), spec).Return([]models.GroupByRow{
		{GroupKey: "SUP-2", AggregateValue: decimal.NewNullDecimal(decimal.NewFromInt(900))},
		{GroupKey: "SUP-1", AggregateValue: decimal.NewNullDecimal(decimal.NewFromInt(300))},
		{GroupKey: "SUP-3", AggregateValue: decimal.NewNullDecimal(decimal.NewFromInt(100))},
	}, nil)
	store.On("Labels", ctx, supplierLabels, []string{"SUP-2", "SUP-1"}).Return(map[string]string{"SUP-2": "Beta Metals"}, nil)

	rows, err := aggregation.NewEngine(store, reg, store).GroupBy(ctx, order, cs, spec)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Beta Metals", rows[0].GroupLabel)
	assert.Equal(t, "", rows[1].GroupLabel)

	empty, err := aggregation.NewEngine(store, reg, store).GroupBy(ctx, order, executor.NewCandidateSet(nil), spec)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
