package cache

import (
	"fmt"

	"github.com/constructa/listquery/internal/pkg/log"
	platformconfig "github.com/constructa/listquery/internal/platform/config"
)

// CacheFactory creates cache instances based on configuration
type CacheFactory struct{}

// NewCacheFactory creates a new cache factory
func NewCacheFactory() *CacheFactory {
	return &CacheFactory{}
}

// CreateCache creates a cache instance based on the provided configuration
func (f *CacheFactory) CreateCache(config *CacheConfig) (Cache, error) {
	if config == nil {
		config = DefaultCacheConfig()
	}

	switch config.Backend {
	case CacheTypeMemory:
		return NewMemoryCache(config), nil
	case CacheTypeRedis:
		return NewRedisCache(config)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidCacheType, config.Backend)
	}
}

// ConfigFromPlatform maps platform cache settings onto a CacheConfig
func ConfigFromPlatform(cfg platformconfig.CacheConfig) *CacheConfig {
	return &CacheConfig{
		Enabled:         cfg.Enabled,
		TTL:             cfg.TTL,
		Prefix:          cfg.Prefix,
		Backend:         CacheType(cfg.Backend),
		MaxMemory:       cfg.MaxMemory,
		CleanupInterval: cfg.CleanupInterval,
		Redis: RedisConfig{
			Address:        cfg.Redis.Address,
			Password:       cfg.Redis.Password,
			Database:       cfg.Redis.Database,
			PoolSize:       cfg.Redis.PoolSize,
			MinIdleConns:   cfg.Redis.MinIdleConns,
			MaxConnAge:     cfg.Redis.MaxConnAge,
			ClusterEnabled: cfg.Redis.Cluster.Enabled,
			Addresses:      cfg.Redis.Cluster.Addresses,
		},
	}
}

// NewServiceFromConfig builds the process-wide cache service.
// A disabled cache yields a service whose reads always miss. An unreachable
// Redis falls back to the memory backend so listing keeps working.
func NewServiceFromConfig(cfg platformconfig.CacheConfig) *GenericCacheService {
	config := ConfigFromPlatform(cfg)
	if !config.Enabled {
		return NewGenericCacheService(nil, config)
	}

	backend, err := NewCacheFactory().CreateCache(config)
	if err != nil {
		log.Warn("Cache backend %s unavailable, falling back to memory: %v", config.Backend, err)
		config.Backend = CacheTypeMemory
		backend = NewMemoryCache(config)
	}

	return NewGenericCacheService(backend, config)
}
