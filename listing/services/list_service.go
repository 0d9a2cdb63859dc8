package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/constructa/listquery/internal/cache"
	"github.com/constructa/listquery/internal/database/observability"
	"github.com/constructa/listquery/internal/pkg/log"
	platformconfig "github.com/constructa/listquery/internal/platform/config"
	"github.com/constructa/listquery/internal/types"
	"github.com/constructa/listquery/listing/aggregation"
	listingErrors "github.com/constructa/listquery/listing/errors"
	"github.com/constructa/listquery/listing/executor"
	"github.com/constructa/listquery/listing/facets"
	"github.com/constructa/listquery/listing/filters"
	"github.com/constructa/listquery/listing/models"
	"github.com/constructa/listquery/listing/permissions"
	"github.com/constructa/listquery/listing/repository"
	"github.com/constructa/listquery/listing/schema"
	"github.com/constructa/listquery/listing/strategy"
)

const (
	listNamespace  = "list"
	facetNamespace = "facets"
)

// Dependencies are the collaborators of the list service. Cache and
// Metrics may be nil and Clock defaults to time.Now.
type Dependencies struct {
	Registry    *schema.Registry
	Repository  repository.ListRepository
	Permissions permissions.Service
	Cache       *cache.GenericCacheService
	Metrics     *observability.MetricsCollector
	Query       platformconfig.QueryConfig
	Clock       func() time.Time
}

// listService implements the ListService interface
type listService struct {
	registry    *schema.Registry
	executor    *executor.Executor
	aggregates  *aggregation.Engine
	facets      *facets.Calculator
	permissions permissions.Service
	normalizer  *filters.Normalizer
	cache       *cache.GenericCacheService
	metrics     *observability.MetricsCollector
	query       platformconfig.QueryConfig
}

// NewListService creates a new instance of the list service
func NewListService(deps Dependencies) ListService {
	opts := []filters.Option{
		filters.WithLocation(deps.Query.Location()),
		filters.WithWeekStart(deps.Query.FirstWeekday()),
	}
	if deps.Clock != nil {
		opts = append(opts, filters.WithClock(deps.Clock))
	}

	perms := deps.Permissions
	if perms == nil {
		perms = permissions.AllowAll{}
	}

	repo := deps.Repository
	return &listService{
		registry:    deps.Registry,
		executor:    executor.New(repo, deps.Registry, repo.Resolvers(), repo),
		aggregates:  aggregation.NewEngine(repo, deps.Registry, repo),
		facets:      facets.NewCalculator(repo, deps.Registry, repo, deps.Query.DefaultFacetLimit, deps.Query.MaxFacetLimit),
		permissions: perms,
		normalizer:  filters.NewNormalizer(opts...),
		cache:       deps.Cache,
		metrics:     deps.Metrics,
		query:       deps.Query,
	}
}

// ListWithCount implements ListService
func (s *listService) ListWithCount(ctx context.Context, req *models.ListRequest, user *types.UserContext) (*models.ListResponse, error) {
	if req == nil {
		return nil, listingErrors.ErrInvalidRequestBody
	}
	entity, restrict, err := s.authorize(ctx, req.EntityType, user)
	if err != nil {
		return nil, err
	}

	compiled, err := aggregation.Compile(entity, req.Aggregates)
	if err != nil {
		return nil, err
	}
	groupBy, err := aggregation.CompileGroupBy(entity, req.GroupBy, s.query.DefaultGroupByLimit, s.query.MaxGroupByLimit)
	if err != nil {
		return nil, err
	}

	clauses := s.normalize(ctx, entity, req.Filters)
	if clauses, err = s.restrict(ctx, entity, clauses, restrict); err != nil {
		return nil, err
	}

	fields, unknown := executor.ResolveFields(entity, req.Fields)
	if len(unknown) > 0 {
		log.WarnWithContext(ctx, "%s: dropped unknown fields %v", entity.Name, unknown)
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}
	page := executor.PageSpec{
		Fields:  fields,
		OrderBy: executor.ResolveOrderBy(entity, fields, req.OrderBy),
		Offset:  offset,
		Limit:   executor.ClampLimit(req.Limit, s.query.DefaultPageSize, s.query.MaxPageSize),
	}

	searchTerm := strings.TrimSpace(req.SearchTerm)
	plan := &executor.Plan{
		Entity: entity,
		Selection: strategy.Select(entity, strategy.Params{
			SearchTerm:          searchTerm,
			SearchTargetField:   req.SearchTargetField,
			IsItemSearch:        req.IsItemSearch,
			RequirePendingItems: req.RequirePendingItems,
		}),
		Clauses:           clauses,
		SearchTerm:        searchTerm,
		SearchTargetField: req.SearchTargetField,
	}

	compute := func(ctx context.Context) (*models.ListResponse, error) {
		start := time.Now()
		resp, err := s.execute(ctx, plan, page, compiled, groupBy)
		candidates := 0
		if resp != nil {
			candidates = resp.TotalCount
		}
		s.metrics.Observe(ctx, listNamespace, plan.Selection.Strategy.String(), candidates, time.Since(start), err)
		return resp, err
	}

	var resp *models.ListResponse
	if req.UseCache {
		resp, err = cache.GetOrCompute(ctx, s.cache, listNamespace, listKeyMaterial(plan, page, req), s.cache.TTL(), compute)
	} else {
		resp, err = compute(ctx)
	}
	if err != nil {
		log.ErrorWithContext(ctx, "list %s (%s) failed: %v", entity.Name, plan.Selection.Strategy, err)
		return nil, listingErrors.NewFetchFailed(err)
	}
	return resp, nil
}

// execute resolves the candidate set once and computes the page, the
// aggregates and the group-by over it concurrently
func (s *listService) execute(ctx context.Context, plan *executor.Plan, page executor.PageSpec, compiled []aggregation.Compiled, groupBy *aggregation.GroupBy) (*models.ListResponse, error) {
	cs, err := s.executor.Candidates(ctx, plan)
	if err != nil {
		return nil, err
	}

	resp := &models.ListResponse{TotalCount: cs.Len()}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rows, err := s.executor.Page(gctx, plan.Entity, cs, page)
		resp.Data = rows
		return err
	})
	if len(compiled) > 0 {
		g.Go(func() error {
			values, err := s.aggregates.Aggregate(gctx, plan.Entity, cs, compiled)
			resp.Aggregates = values
			return err
		})
	}
	if groupBy != nil {
		g.Go(func() error {
			rows, err := s.aggregates.GroupBy(gctx, plan.Entity, cs, groupBy)
			resp.GroupByResult = rows
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return resp, nil
}

// FacetValues implements ListService
func (s *listService) FacetValues(ctx context.Context, req *models.FacetRequest, user *types.UserContext) (*models.FacetResponse, error) {
	if req == nil {
		return nil, listingErrors.ErrInvalidRequestBody
	}
	entity, restrict, err := s.authorize(ctx, req.EntityType, user)
	if err != nil {
		return nil, err
	}

	target, ok := facets.ResolveField(entity, strings.TrimSpace(req.Field))
	if !ok {
		return nil, listingErrors.NewInvalidInput("unknown facet field %q", req.Field)
	}
	if target.Field.Type == schema.TypeJSON {
		return nil, listingErrors.NewInvalidInput("cannot facet JSON field %q", req.Field)
	}

	clauses := facets.ExcludeField(s.normalize(ctx, entity, req.Filters), target)
	if clauses, err = s.restrict(ctx, entity, clauses, restrict); err != nil {
		return nil, err
	}

	searchTerm := strings.TrimSpace(req.SearchTerm)
	if searchTerm != "" && searchTargetsField(entity, req.SearchTargetField, target) {
		searchTerm = ""
	}
	plan := &executor.Plan{
		Entity: entity,
		Selection: strategy.Select(entity, strategy.Params{
			SearchTerm:        searchTerm,
			SearchTargetField: req.SearchTargetField,
			IsItemSearch:      req.SearchTargetField != "",
		}),
		Clauses:           clauses,
		SearchTerm:        searchTerm,
		SearchTargetField: req.SearchTargetField,
	}
	limit := s.facets.ClampLimit(req.Limit)

	keyMaterial := map[string]interface{}{
		"entity":   entity.Name,
		"field":    facetFieldKey(target),
		"filters":  clauses,
		"search":   searchTerm,
		"target":   req.SearchTargetField,
		"strategy": plan.Selection.Strategy.String(),
		"limit":    limit,
	}

	resp, err := cache.GetOrCompute(ctx, s.cache, facetNamespace, keyMaterial, s.cache.TTL(),
		func(ctx context.Context) (*models.FacetResponse, error) {
			start := time.Now()
			cs, err := s.executor.Candidates(ctx, plan)
			if err == nil {
				var values []models.FacetValue
				if values, err = s.facets.Values(ctx, entity, target, cs, limit); err == nil {
					s.metrics.Observe(ctx, facetNamespace, plan.Selection.Strategy.String(), cs.Len(), time.Since(start), nil)
					return &models.FacetResponse{Values: values}, nil
				}
			}
			s.metrics.Observe(ctx, facetNamespace, plan.Selection.Strategy.String(), 0, time.Since(start), err)
			return nil, err
		})
	if err != nil {
		log.ErrorWithContext(ctx, "facets %s.%s failed: %v", entity.Name, req.Field, err)
		return nil, listingErrors.NewFetchFailed(err)
	}
	return resp, nil
}

// Entities implements ListService
func (s *listService) Entities(ctx context.Context, user *types.UserContext) (*models.EntitiesResponse, error) {
	out := []string{}
	for _, name := range s.registry.Names() {
		_, err := s.permissions.Authorize(ctx, user, name)
		switch {
		case err == nil:
			out = append(out, name)
		case errors.Is(err, listingErrors.ErrMissingUserContext):
			return nil, err
		}
	}
	return &models.EntitiesResponse{Entities: out}, nil
}

// authorize resolves the entity type and consults the permission service
func (s *listService) authorize(ctx context.Context, entityType string, user *types.UserContext) (*schema.EntityType, *models.FilterClause, error) {
	entity, ok := s.registry.Get(strings.TrimSpace(entityType))
	if !ok {
		return nil, nil, listingErrors.NewUnknownEntity(entityType)
	}

	restrict, err := s.permissions.Authorize(ctx, user, entity.Name)
	if err != nil {
		log.WarnWithContext(ctx, "read %s denied: %v", entity.Name, err)
		return nil, nil, err
	}
	return entity, restrict, nil
}

// normalize parses and canonicalizes the raw filter payload. Malformed
// clauses are logged and dropped.
func (s *listService) normalize(ctx context.Context, entity *schema.EntityType, raw []byte) []models.FilterClause {
	parsed, diags := filters.Parse(raw)
	clauses, more := s.normalizer.Normalize(entity, parsed)
	for _, d := range append(diags, more...) {
		log.WarnWithContext(ctx, "%s: dropped filter %s", entity.Name, d)
	}
	return clauses
}

// restrict appends the permission clause. A clause that does not apply to
// the entity denies access.
func (s *listService) restrict(ctx context.Context, entity *schema.EntityType, clauses []models.FilterClause, restrict *models.FilterClause) ([]models.FilterClause, error) {
	if restrict == nil {
		return clauses, nil
	}
	extra, diags := s.normalizer.NormalizeClauses(entity, []models.FilterClause{*restrict})
	if len(diags) > 0 || len(extra) == 0 {
		log.ErrorWithContext(ctx, "%s: permission clause %v does not apply: %v", entity.Name, *restrict, diags)
		return nil, listingErrors.NewPermissionDenied(entity.Name)
	}
	return append(clauses, extra...), nil
}

// searchTargetsField reports whether a search target names the faceted field
func searchTargetsField(entity *schema.EntityType, searchTarget string, target schema.Resolved) bool {
	searchTarget = strings.TrimSpace(searchTarget)
	if searchTarget == "" {
		return false
	}
	resolved, ok := facets.ResolveField(entity, searchTarget)
	return ok && resolved.Field.Name == target.Field.Name && resolved.Collection == target.Collection
}

func facetFieldKey(target schema.Resolved) string {
	if target.Collection != nil {
		return target.Collection.Name + "." + target.Field.Name
	}
	return target.Field.Name
}

func listKeyMaterial(plan *executor.Plan, page executor.PageSpec, req *models.ListRequest) map[string]interface{} {
	fields := make([]string, len(page.Fields))
	for i, f := range page.Fields {
		fields[i] = f.Name
	}
	order := make([]string, len(page.OrderBy))
	for i, term := range page.OrderBy {
		order[i] = term.Field.Name
		if term.Desc {
			order[i] += " desc"
		}
	}
	return map[string]interface{}{
		"entity":     plan.Entity.Name,
		"filters":    plan.Clauses,
		"fields":     fields,
		"order_by":   order,
		"offset":     page.Offset,
		"limit":      page.Limit,
		"search":     plan.SearchTerm,
		"target":     plan.SearchTargetField,
		"strategy":   plan.Selection.Strategy.String(),
		"aggregates": req.Aggregates,
		"group_by":   req.GroupBy,
	}
}
