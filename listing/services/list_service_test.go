package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/constructa/listquery/internal/cache"
	"github.com/constructa/listquery/internal/database/observability"
	platformconfig "github.com/constructa/listquery/internal/platform/config"
	"github.com/constructa/listquery/internal/types"
	"github.com/constructa/listquery/listing/aggregation"
	listingErrors "github.com/constructa/listquery/listing/errors"
	"github.com/constructa/listquery/listing/executor"
	"github.com/constructa/listquery/listing/models"
	"github.com/constructa/listquery/listing/permissions"
	"github.com/constructa/listquery/listing/schema"
	"github.com/constructa/listquery/listing/services"
	"github.com/constructa/listquery/listing/strategy"
)

type mockRepository struct {
	mock.Mock
	resolvers map[strategy.Strategy]executor.Resolver
}

func (m *mockRepository) ParentCandidates(ctx context.Context, plan *executor.Plan) ([]string, error) {
	args := m.Called(ctx, plan)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *mockRepository) FetchPage(ctx context.Context, entity *schema.EntityType, ids []string, page executor.PageSpec) ([]map[string]interface{}, error) {
	args := m.Called(ctx, entity, ids, page)
	rows, _ := args.Get(0).([]map[string]interface{})
	return rows, args.Error(1)
}

func (m *mockRepository) Labels(ctx context.Context, mapping schema.LabelMapping, values []string) (map[string]string, error) {
	args := m.Called(ctx, mapping, values)
	labels, _ := args.Get(0).(map[string]string)
	return labels, args.Error(1)
}

func (m *mockRepository) Aggregate(ctx context.Context, entity *schema.EntityType, ids []string, aggregates []aggregation.Compiled) ([]decimal.NullDecimal, error) {
	args := m.Called(ctx, entity, ids, aggregates)
	values, _ := args.Get(0).([]decimal.NullDecimal)
	return values, args.Error(1)
}

func (m *mockRepository) GroupBy(ctx context.Context, entity *schema.EntityType, ids []string, spec *aggregation.GroupBy) ([]models.GroupByRow, error) {
	args := m.Called(ctx, entity, ids, spec)
	rows, _ := args.Get(0).([]models.GroupByRow)
	return rows, args.Error(1)
}

func (m *mockRepository) FacetCounts(ctx context.Context, entity *schema.EntityType, target schema.Resolved, ids []string, limit int) ([]models.FacetValue, error) {
	args := m.Called(ctx, entity, target, ids, limit)
	values, _ := args.Get(0).([]models.FacetValue)
	return values, args.Error(1)
}

func (m *mockRepository) Resolvers() map[strategy.Strategy]executor.Resolver {
	return m.resolvers
}

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(ctx context.Context, parentIDs []string, plan *executor.Plan) ([]string, error) {
	args := m.Called(ctx, parentIDs, plan)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

type fixture struct {
	repo    *mockRepository
	pending *mockResolver
	search  *mockResolver
	cache   *cache.GenericCacheService
	metrics *observability.MetricsCollector
	service services.ListService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := schema.LoadFile("../schema/testdata/schema.yaml")
	require.NoError(t, err)
	perms, err := permissions.LoadFile("../schema/testdata/schema.yaml")
	require.NoError(t, err)
	require.NoError(t, perms.Validate(reg))

	config := cache.DefaultCacheConfig()
	config.CleanupInterval = 0
	backend := cache.NewMemoryCache(config)
	t.Cleanup(func() { backend.Close() })

	f := &fixture{
		pending: &mockResolver{},
		search:  &mockResolver{},
		cache:   cache.NewGenericCacheService(backend, config),
		metrics: observability.NewMetricsCollector(0),
	}
	f.repo = &mockRepository{resolvers: map[strategy.Strategy]executor.Resolver{
		strategy.NestedTablePendingFilter: f.pending,
		strategy.NestedTableItemSearch:    f.search,
	}}
	f.service = services.NewListService(services.Dependencies{
		Registry:    reg,
		Repository:  f.repo,
		Permissions: perms,
		Cache:       f.cache,
		Metrics:     f.metrics,
		Query: platformconfig.QueryConfig{
			DefaultPageSize:     20,
			MaxPageSize:         100,
			DefaultFacetLimit:   50,
			MaxFacetLimit:       200,
			DefaultGroupByLimit: 10,
			MaxGroupByLimit:     50,
			Timezone:            "UTC",
		},
		Clock: func() time.Time { return time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC) },
	})
	return f
}

func manager() *types.UserContext {
	return &types.UserContext{UserID: uuid.Must(uuid.NewV4()), Username: "jane", Roles: []string{"Purchase Manager"}}
}

func buyer() *types.UserContext {
	return &types.UserContext{UserID: uuid.Must(uuid.NewV4()), Username: "bob", Roles: []string{"Purchase User"}}
}

func TestListWithCount(t *testing.T) {
	ctx := context.Background()

	t.Run("PendingItems", func(t *testing.T) {
		f := newFixture(t)
		all := []string{"PO-0001", "PO-0002", "PO-0003"}
		f.repo.On("ParentCandidates", mock.Anything, mock.Anything).Return(all, nil).Once()
		f.pending.On("Resolve", mock.Anything, all, mock.MatchedBy(func(p *executor.Plan) bool {
			return p.Selection.Strategy == strategy.NestedTablePendingFilter && p.Selection.Collection.Name == "items"
		})).Return([]string{"PO-0002", "PO-0001"}, nil).Once()
		f.repo.On("FetchPage", mock.Anything, mock.Anything, []string{"PO-0001", "PO-0002"}, mock.MatchedBy(func(p executor.PageSpec) bool {
			return p.Limit == 20 && p.Offset == 0
		})).Return([]map[string]interface{}{
			{"name": "PO-0001", "status": "To Receive"},
			{"name": "PO-0002", "status": "To Receive"},
		}, nil).Once()

		resp, err := f.service.ListWithCount(ctx, &models.ListRequest{
			EntityType:          "Order",
			Fields:              []string{"status"},
			RequirePendingItems: true,
		}, manager())
		require.NoError(t, err)
		assert.Equal(t, 2, resp.TotalCount)
		assert.Len(t, resp.Data, 2)
		assert.Nil(t, resp.Aggregates)
		f.repo.AssertExpectations(t)
		f.pending.AssertExpectations(t)

		stats := f.metrics.Snapshot()
		require.Len(t, stats, 1)
		assert.Equal(t, "nested_table_pending_filter", stats[0].Strategy)
		assert.Equal(t, int64(2), stats[0].Candidates)
	})

	t.Run("AggregatesAndGroupBy", func(t *testing.T) {
		f := newFixture(t)
		ids := []string{"PO-0001", "PO-0002"}
		f.repo.On("ParentCandidates", mock.Anything, mock.Anything).Return(ids, nil)
		f.repo.On("FetchPage", mock.Anything, mock.Anything, ids, mock.Anything).Return([]map[string]interface{}{{"name": "PO-0001"}}, nil)
		f.repo.On("Aggregate", mock.Anything, mock.Anything, ids, mock.Anything).
			Return([]decimal.NullDecimal{{Decimal: decimal.NewFromInt(2500), Valid: true}}, nil)
		f.repo.On("GroupBy", mock.Anything, mock.Anything, ids, mock.Anything).
			Return([]models.GroupByRow{{GroupKey: "SUP-1", AggregateValue: decimal.NullDecimal{Decimal: decimal.NewFromInt(1500), Valid: true}}}, nil)
		f.repo.On("Labels", mock.Anything, mock.Anything, []string{"SUP-1"}).Return(map[string]string{"SUP-1": "Acme Steel"}, nil)

		resp, err := f.service.ListWithCount(ctx, &models.ListRequest{
			EntityType: "Order",
			Limit:      1,
			Aggregates: []models.AggregateSpec{{Field: "grand_total", Function: "sum"}},
			GroupBy:    &models.GroupBySpec{GroupField: "supplier", AggregateField: "grand_total", Function: "sum"},
		}, manager())
		require.NoError(t, err)
		assert.Equal(t, 2, resp.TotalCount)
		assert.Len(t, resp.Data, 1)
		require.Contains(t, resp.Aggregates, "sum_grand_total")
		assert.Equal(t, "2500", resp.Aggregates["sum_grand_total"].Decimal.String())
		require.Len(t, resp.GroupByResult, 1)
		assert.Equal(t, "Acme Steel", resp.GroupByResult[0].GroupLabel)
	})

	t.Run("RestrictedUserGetsOwnerClause", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("ParentCandidates", mock.Anything, mock.MatchedBy(func(p *executor.Plan) bool {
			for _, c := range p.Clauses {
				if c.Field == schema.FieldOwner && c.Value == "bob" {
					return true
				}
			}
			return false
		})).Return([]string{}, nil).Once()

		resp, err := f.service.ListWithCount(ctx, &models.ListRequest{EntityType: "Order"}, buyer())
		require.NoError(t, err)
		assert.Equal(t, 0, resp.TotalCount)
		assert.Empty(t, resp.Data)
		f.repo.AssertExpectations(t)
	})

	t.Run("UseCache", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("ParentCandidates", mock.Anything, mock.Anything).Return([]string{"PO-0001"}, nil).Once()
		f.repo.On("FetchPage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return([]map[string]interface{}{{"name": "PO-0001", "grand_total": json.Number("12345678901234567.89")}}, nil).Once()

		req := &models.ListRequest{EntityType: "Order", UseCache: true}
		first, err := f.service.ListWithCount(ctx, req, manager())
		require.NoError(t, err)
		second, err := f.service.ListWithCount(ctx, req, manager())
		require.NoError(t, err)

		assert.Equal(t, first.TotalCount, second.TotalCount)
		assert.Equal(t, first.Data, second.Data)
		assert.Equal(t, json.Number("12345678901234567.89"), second.Data[0]["grand_total"])
		assert.Equal(t, int64(1), f.cache.Computes())
		f.repo.AssertExpectations(t)
	})

	t.Run("UnknownEntity", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.ListWithCount(ctx, &models.ListRequest{EntityType: "Invoice"}, manager())
		assert.ErrorIs(t, err, listingErrors.ErrUnknownEntity)
	})

	t.Run("PermissionDenied", func(t *testing.T) {
		f := newFixture(t)
		guest := &types.UserContext{Username: "eve", Roles: []string{"Guest"}}
		_, err := f.service.ListWithCount(ctx, &models.ListRequest{EntityType: "Order"}, guest)
		assert.ErrorIs(t, err, listingErrors.ErrPermissionDenied)
		f.repo.AssertNotCalled(t, "ParentCandidates", mock.Anything, mock.Anything)
	})

	t.Run("MissingUser", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.ListWithCount(ctx, &models.ListRequest{EntityType: "Order"}, nil)
		assert.ErrorIs(t, err, listingErrors.ErrMissingUserContext)
	})

	t.Run("InvalidAggregate", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.ListWithCount(ctx, &models.ListRequest{
			EntityType: "Order",
			Aggregates: []models.AggregateSpec{{Field: "title", Function: "sum"}},
		}, manager())
		assert.ErrorIs(t, err, listingErrors.ErrInvalidInput)
		f.repo.AssertNotCalled(t, "ParentCandidates", mock.Anything, mock.Anything)
	})

	t.Run("FetchFailed", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("ParentCandidates", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

		_, err := f.service.ListWithCount(ctx, &models.ListRequest{EntityType: "Order"}, manager())
		assert.ErrorIs(t, err, listingErrors.ErrFetchFailed)
		var le *listingErrors.ListingError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, listingErrors.CodeFetchFailed, le.Code)
		assert.Equal(t, int64(1), f.metrics.Snapshot()[0].Failures)
	})

	t.Run("MalformedFiltersAreDropped", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("ParentCandidates", mock.Anything, mock.MatchedBy(func(p *executor.Plan) bool {
			return len(p.Clauses) == 1 && p.Clauses[0].Field == "status"
		})).Return([]string{}, nil).Once()

		_, err := f.service.ListWithCount(ctx, &models.ListRequest{
			EntityType: "Order",
			Filters:    []byte(`[["Order","status","=","Draft"],["Order","no_such_field","=",1]]`),
		}, manager())
		require.NoError(t, err)
		f.repo.AssertExpectations(t)
	})
}

func TestFacetValues(t *testing.T) {
	ctx := context.Background()

	t.Run("ExcludesOwnFieldFilter", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("ParentCandidates", mock.Anything, mock.MatchedBy(func(p *executor.Plan) bool {
			for _, c := range p.Clauses {
				if c.Field == "status" && c.EntityType == "" {
					return false
				}
			}
			return len(p.Clauses) == 1
		})).Return([]string{"PO-0001", "PO-0002"}, nil).Once()
		f.repo.On("FacetCounts", mock.Anything, mock.Anything, mock.Anything, []string{"PO-0001", "PO-0002"}, 200).
			Return([]models.FacetValue{{Value: "To Receive", Count: 1}, {Value: "Draft", Count: 1}}, nil).Once()

		resp, err := f.service.FacetValues(ctx, &models.FacetRequest{
			EntityType: "Order",
			Field:      "status",
			Filters:    []byte(`{"status": "Draft", "grand_total": [">", 100]}`),
			Limit:      5000,
		}, manager())
		require.NoError(t, err)
		require.Len(t, resp.Values, 2)
		assert.Equal(t, "Draft", resp.Values[0].Value)
		assert.Equal(t, "To Receive", resp.Values[1].Value)
		f.repo.AssertExpectations(t)
	})

	t.Run("AlwaysCached", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("ParentCandidates", mock.Anything, mock.Anything).Return([]string{"PO-0001"}, nil).Once()
		f.repo.On("FacetCounts", mock.Anything, mock.Anything, mock.Anything, mock.Anything, 50).
			Return([]models.FacetValue{{Value: "Pending", Count: 1}}, nil).Once()

		req := &models.FacetRequest{EntityType: "Order", Field: "items.status"}
		_, err := f.service.FacetValues(ctx, req, manager())
		require.NoError(t, err)
		resp, err := f.service.FacetValues(ctx, req, manager())
		require.NoError(t, err)
		assert.Equal(t, "Pending", resp.Values[0].Value)
		f.repo.AssertExpectations(t)
	})

	t.Run("SearchOnFacetFieldIsIgnored", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("ParentCandidates", mock.Anything, mock.MatchedBy(func(p *executor.Plan) bool {
			return p.SearchTerm == "" && p.Selection.Strategy == strategy.Standard
		})).Return([]string{}, nil).Once()

		resp, err := f.service.FacetValues(ctx, &models.FacetRequest{
			EntityType:        "Order",
			Field:             "title",
			SearchTerm:        "steel",
			SearchTargetField: "title",
		}, manager())
		require.NoError(t, err)
		assert.Empty(t, resp.Values)
		f.repo.AssertNotCalled(t, "FacetCounts", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("ItemSearchUsesChildTable", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("ParentCandidates", mock.Anything, mock.Anything).Return([]string{"PO-0001", "PO-0002"}, nil).Once()
		f.search.On("Resolve", mock.Anything, []string{"PO-0001", "PO-0002"}, mock.Anything).Return([]string{"PO-0002"}, nil).Once()
		f.repo.On("FacetCounts", mock.Anything, mock.Anything, mock.Anything, []string{"PO-0002"}, mock.Anything).
			Return([]models.FacetValue{{Value: "Draft", Count: 1}}, nil).Once()

		resp, err := f.service.FacetValues(ctx, &models.FacetRequest{
			EntityType:        "Order",
			Field:             "status",
			SearchTerm:        "steel",
			SearchTargetField: "items",
		}, manager())
		require.NoError(t, err)
		require.Len(t, resp.Values, 1)
		f.search.AssertExpectations(t)
	})

	t.Run("InvalidField", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.FacetValues(ctx, &models.FacetRequest{EntityType: "Order", Field: "nope"}, manager())
		assert.ErrorIs(t, err, listingErrors.ErrInvalidInput)
	})
}

func TestEntities(t *testing.T) {
	f := newFixture(t)

	resp, err := f.service.Entities(context.Background(), buyer())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Order", "Supplier"}, resp.Entities)

	resp, err = f.service.Entities(context.Background(), &types.UserContext{Username: "eve", Roles: []string{"Guest"}})
	require.NoError(t, err)
	assert.Empty(t, resp.Entities)

	_, err = f.service.Entities(context.Background(), nil)
	assert.ErrorIs(t, err, listingErrors.ErrMissingUserContext)
}
