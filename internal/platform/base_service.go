// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/constructa/listquery/internal/cache"
	"github.com/constructa/listquery/internal/database/observability"
	"github.com/constructa/listquery/internal/database/postgres"
	"github.com/constructa/listquery/internal/pkg/log"
	platformconfig "github.com/constructa/listquery/internal/platform/config"
	"github.com/constructa/listquery/listing/permissions"
	"github.com/constructa/listquery/listing/repository"
	"github.com/constructa/listquery/listing/schema"
	"github.com/constructa/listquery/listing/services"
)

// BaseService holds the process-wide resources shared by every transport
type BaseService struct {
	Config      *platformconfig.Config
	DB          *postgres.Client
	Registry    *schema.Registry
	Permissions *permissions.RoleTable
	Cache       *cache.GenericCacheService
	Metrics     *observability.MetricsCollector
	maxRetries  int
}

// LoadSchema reads the entity schema and its permission rules from the
// configured file and checks them against each other
func LoadSchema(path string) (*schema.Registry, *permissions.RoleTable, error) {
	registry, err := schema.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}
	perms, err := permissions.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}
	if err := perms.Validate(registry); err != nil {
		return nil, nil, fmt.Errorf("schema %s: %w", path, err)
	}
	return registry, perms, nil
}

// NewBaseService creates a new base service instance from platform config
func NewBaseService(ctx context.Context, cfg *platformconfig.Config) (*BaseService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("platform configuration is required")
	}

	registry, perms, err := LoadSchema(cfg.Schema.Path)
	if err != nil {
		return nil, err
	}

	s := &BaseService{
		Config:      cfg,
		Registry:    registry,
		Permissions: perms,
		maxRetries:  3,
	}

	pgConfig := postgres.ConfigFromPlatform(cfg.Database.Postgres)
	err = s.ExecuteWithRetry(ctx, func() error {
		client, err := postgres.NewClient(ctx, pgConfig)
		if err != nil {
			return err
		}
		s.DB = client
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres client: %w", err)
	}

	s.Cache = cache.NewServiceFromConfig(cfg.Cache)
	s.Metrics = observability.NewMetricsCollector(cfg.Query.SlowThreshold)
	log.Info("Loaded %d entity types from %s", len(registry.Names()), cfg.Schema.Path)
	return s, nil
}

// NewBaseServiceWithDB creates a BaseService around an existing client.
// This is used for tests to inject isolated databases.
func NewBaseServiceWithDB(cfg *platformconfig.Config, db *postgres.Client, registry *schema.Registry, perms *permissions.RoleTable) *BaseService {
	return &BaseService{
		Config:      cfg,
		DB:          db,
		Registry:    registry,
		Permissions: perms,
		Cache:       cache.NewServiceFromConfig(cfg.Cache),
		Metrics:     observability.NewMetricsCollector(cfg.Query.SlowThreshold),
		maxRetries:  3,
	}
}

// ListService wires the list service over the shared resources
func (s *BaseService) ListService() services.ListService {
	return services.NewListService(services.Dependencies{
		Registry:    s.Registry,
		Repository:  repository.NewPostgresRepository(s.DB.Querier()),
		Permissions: s.Permissions,
		Cache:       s.Cache,
		Metrics:     s.Metrics,
		Query:       s.Config.Query,
	})
}

// ExecuteWithRetry executes a function with retry logic. The wait doubles
// after every failed attempt.
func (s *BaseService) ExecuteWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	wait := 500 * time.Millisecond

	for i := 0; i <= s.maxRetries; i++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if i == s.maxRetries {
			break
		}
		log.Warn("attempt %d failed: %v", i+1, lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}

	return fmt.Errorf("operation failed after %d retries: %w", s.maxRetries, lastErr)
}

// HealthCheck performs a health check on the database
func (s *BaseService) HealthCheck(ctx context.Context) error {
	if s.DB == nil {
		return fmt.Errorf("database not connected")
	}
	return s.DB.HealthCheck(ctx)
}

// Close closes the service and its resources
func (s *BaseService) Close() error {
	var err error
	if s.Cache != nil {
		err = s.Cache.Close()
	}
	if s.DB != nil {
		if dbErr := s.DB.Close(); dbErr != nil {
			err = dbErr
		}
	}
	return err
}
