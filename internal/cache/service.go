package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/constructa/listquery/internal/pkg/log"
)

// GenericCacheService is the read-through cache shared by the list engine.
// It is constructed once per process and passed explicitly to its users.
type GenericCacheService struct {
	cache  Cache
	config *CacheConfig
	stats  *serviceStats
}

// serviceStats tracks cache service statistics with atomic operations for thread safety
type serviceStats struct {
	hits     int64
	misses   int64
	errors   int64
	sets     int64
	computes int64
}

// NewGenericCacheService creates a new generic cache service
func NewGenericCacheService(cache Cache, config *CacheConfig) *GenericCacheService {
	if config == nil {
		config = DefaultCacheConfig()
	}

	return &GenericCacheService{
		cache:  cache,
		config: config,
		stats:  &serviceStats{},
	}
}

// GetCached retrieves and unmarshals cached data into target
func (gcs *GenericCacheService) GetCached(ctx context.Context, key string, target interface{}) error {
	if !gcs.IsEnabled() {
		atomic.AddInt64(&gcs.stats.misses, 1)
		return ErrCacheDisabled
	}

	fullKey := gcs.buildKey(key)

	data, err := gcs.cache.Get(ctx, fullKey)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			atomic.AddInt64(&gcs.stats.misses, 1)
		} else {
			atomic.AddInt64(&gcs.stats.errors, 1)
			log.Error("Cache get error for key %s: %v", fullKey, err)
		}
		return err
	}

	// UseNumber keeps numbers in untyped values as they were computed
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(target); err != nil {
		atomic.AddInt64(&gcs.stats.errors, 1)
		log.Error("Cache data unmarshal error for key %s: %v", fullKey, err)
		if delErr := gcs.cache.Delete(ctx, fullKey); delErr != nil {
			log.Warn("Cache evict of undecodable key %s failed: %v", fullKey, delErr)
		}
		return fmt.Errorf("%w: %v", ErrDeserializationFailed, err)
	}

	atomic.AddInt64(&gcs.stats.hits, 1)
	return nil
}

// CacheData marshals and stores data with ttl, or the configured TTL when ttl <= 0
func (gcs *GenericCacheService) CacheData(ctx context.Context, key string, data interface{}, ttl time.Duration) error {
	if !gcs.IsEnabled() {
		return ErrCacheDisabled
	}

	if ttl <= 0 {
		ttl = gcs.config.TTL
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		atomic.AddInt64(&gcs.stats.errors, 1)
		log.Error("Cache data marshal error for key %s: %v", key, err)
		return fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}

	fullKey := gcs.buildKey(key)
	if err := gcs.cache.Set(ctx, fullKey, jsonData, ttl); err != nil {
		atomic.AddInt64(&gcs.stats.errors, 1)
		log.Error("Cache set error for key %s: %v", fullKey, err)
		return err
	}

	atomic.AddInt64(&gcs.stats.sets, 1)
	return nil
}

// GenerateHashKey derives a deterministic key from params. Keys are sorted and
// non-string values are JSON encoded, so equal params always hash equally.
func (gcs *GenericCacheService) GenerateHashKey(namespace string, params map[string]interface{}) string {
	return HashKey(namespace, params)
}

// HashKey is the function behind GenerateHashKey
func HashKey(namespace string, params map[string]interface{}) string {
	h := sha256.New()
	h.Write([]byte(namespace + ":"))

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		var valueStr string
		switch val := params[k].(type) {
		case string:
			valueStr = val
		case nil:
			valueStr = "nil"
		default:
			if jsonVal, err := json.Marshal(val); err == nil {
				valueStr = string(jsonVal)
			} else {
				valueStr = fmt.Sprintf("%v", val)
			}
		}
		h.Write([]byte(fmt.Sprintf("%s=%s;", k, valueStr)))
	}

	return fmt.Sprintf("%s:%s", namespace, hex.EncodeToString(h.Sum(nil))[:32])
}

// GetOrCompute returns the cached value for keyMaterial, or runs compute and
// stores its result. Concurrent misses on one key may each compute; every
// store writes one complete value, so readers never see partial results.
// Compute errors are returned and never cached. Cache failures only cost a
// recomputation.
func GetOrCompute[T any](ctx context.Context, gcs *GenericCacheService, namespace string, keyMaterial map[string]interface{}, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	if gcs == nil || !gcs.IsEnabled() {
		return compute(ctx)
	}

	key := gcs.GenerateHashKey(namespace, keyMaterial)

	var cached T
	if err := gcs.GetCached(ctx, key, &cached); err == nil {
		log.DebugWithContext(ctx, "cache hit %s", key)
		return cached, nil
	}

	atomic.AddInt64(&gcs.stats.computes, 1)
	value, err := compute(ctx)
	if err != nil {
		return value, err
	}

	// The caller gets its value even when storing fails.
	_ = gcs.CacheData(ctx, key, value, ttl)
	return value, nil
}

// GetStats returns cache service statistics merged with backend figures
func (gcs *GenericCacheService) GetStats() CacheStats {
	hits := atomic.LoadInt64(&gcs.stats.hits)
	misses := atomic.LoadInt64(&gcs.stats.misses)

	stats := CacheStats{
		Hits:     hits,
		Misses:   misses,
		HitRatio: hitRatio(hits, misses),
	}
	if gcs.cache != nil {
		backend := gcs.cache.Stats()
		stats.Keys = backend.Keys
		stats.MemoryUsage = backend.MemoryUsage
		stats.Evictions = backend.Evictions
	}
	return stats
}

// Computes returns how many times GetOrCompute ran its compute function
func (gcs *GenericCacheService) Computes() int64 {
	return atomic.LoadInt64(&gcs.stats.computes)
}

// Close closes the cache service
func (gcs *GenericCacheService) Close() error {
	if gcs.cache != nil {
		return gcs.cache.Close()
	}
	return nil
}

// IsEnabled returns whether caching is enabled
func (gcs *GenericCacheService) IsEnabled() bool {
	return gcs != nil && gcs.config.Enabled && gcs.cache != nil
}

// TTL returns the configured default time-to-live
func (gcs *GenericCacheService) TTL() time.Duration {
	if gcs == nil {
		return 0
	}
	return gcs.config.TTL
}

// buildKey constructs the full cache key with prefix
func (gcs *GenericCacheService) buildKey(key string) string {
	if gcs.config.Prefix == "" {
		return key
	}

	prefix := gcs.config.Prefix
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}

	return prefix + key
}
