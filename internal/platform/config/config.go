package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the complete runtime configuration of the list service
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	JWT      JWTConfig      `json:"jwt"`
	Cache    CacheConfig    `json:"cache"`
	Query    QueryConfig    `json:"query"`
	Schema   SchemaConfig   `json:"schema"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	GRPCPort  int    `json:"grpcPort"`
	BaseRoute string `json:"baseRoute"`
	WebDomain string `json:"webDomain"`
	Debug     bool   `json:"debug"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Postgres PostgreSQLConfig `json:"postgres"`
}

// PostgreSQLConfig holds PostgreSQL-specific configuration
type PostgreSQLConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Username        string        `json:"username"`
	Password        string        `json:"password"`
	Database        string        `json:"database"`
	SSLMode         string        `json:"sslMode"`
	MaxOpenConns    int           `json:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime"`
	ConnectTimeout  int           `json:"connectTimeout"`
	// StatementTimeout is applied per session; zero leaves the server default
	StatementTimeout time.Duration `json:"statementTimeout"`
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	PublicKey string `json:"publicKey"`
	ClaimKey  string `json:"claimKey"`
}

// CacheConfig holds cache-related configuration
type CacheConfig struct {
	Enabled         bool          `json:"enabled"`
	Backend         string        `json:"backend"`
	TTL             time.Duration `json:"ttl"`
	Prefix          string        `json:"prefix"`
	MaxMemory       int64         `json:"maxMemory"`
	CleanupInterval time.Duration `json:"cleanupInterval"`
	Redis           RedisConfig   `json:"redis"`
}

// RedisConfig holds Redis-specific configuration
type RedisConfig struct {
	Address      string        `json:"address"`
	Password     string        `json:"password"`
	Database     int           `json:"database"`
	PoolSize     int           `json:"poolSize"`
	MinIdleConns int           `json:"minIdleConns"`
	MaxConnAge   time.Duration `json:"maxConnAge"`
	Cluster      ClusterConfig `json:"cluster"`
}

// ClusterConfig holds Redis cluster configuration
type ClusterConfig struct {
	Enabled   bool     `json:"enabled"`
	Addresses []string `json:"addresses"`
}

// QueryConfig bounds every list, facet and group-by request
type QueryConfig struct {
	DefaultPageSize     int    `json:"defaultPageSize"`
	MaxPageSize         int    `json:"maxPageSize"`
	DefaultFacetLimit   int    `json:"defaultFacetLimit"`
	MaxFacetLimit       int    `json:"maxFacetLimit"`
	DefaultGroupByLimit int    `json:"defaultGroupByLimit"`
	MaxGroupByLimit     int    `json:"maxGroupByLimit"`
	WeekStart           string `json:"weekStart"`
	Timezone            string `json:"timezone"`
	// Executions slower than SlowThreshold are logged; zero disables
	SlowThreshold time.Duration `json:"slowThreshold"`
	// RateLimit caps requests per user per RateLimitWindow; zero disables
	RateLimit       int           `json:"rateLimit"`
	RateLimitWindow time.Duration `json:"rateLimitWindow"`
}

// SchemaConfig points at the entity schema definition file
type SchemaConfig struct {
	Path string `json:"path"`
}

// LoadFromEnv loads configuration from the environment.
// Explicit environment variables win over values from a .env file,
// which win over the defaults below.
func LoadFromEnv() (*Config, error) {
	envPaths := []string{
		".env",
		"../.env",
		"../../.env",
	}

	var loadErr error
	for _, envPath := range envPaths {
		loadErr = godotenv.Load(envPath)
		if loadErr == nil {
			break
		}
	}
	if loadErr != nil {
		fmt.Println("INFO: .env file not found, using environment variables and defaults.")
	}

	return load(os.LookupEnv)
}

// LoadFromMap loads configuration from an in-memory map.
// Tests use it to exercise configuration logic without touching process environment.
func LoadFromMap(envMap map[string]string) (*Config, error) {
	return load(func(key string) (string, bool) {
		value, ok := envMap[key]
		return value, ok
	})
}

func load(lookup func(string) (string, bool)) (*Config, error) {
	env := envReader{lookup: lookup}

	config := &Config{
		Server: ServerConfig{
			Host:      env.get("HOST", "localhost"),
			Port:      env.getInt("SERVER_PORT", 8080),
			GRPCPort:  env.getInt("GRPC_PORT", 0),
			BaseRoute: env.get("BASE_ROUTE", "/api"),
			WebDomain: env.get("WEB_DOMAIN", "http://localhost:3000"),
			Debug:     env.getBool("DEBUG", false),
		},
		Database: DatabaseConfig{
			Postgres: PostgreSQLConfig{
				Host:             env.get("POSTGRES_HOST", "localhost"),
				Port:             env.getInt("POSTGRES_PORT", 5432),
				Username:         env.get("POSTGRES_USERNAME", ""),
				Password:         env.get("POSTGRES_PASSWORD", ""),
				Database:         env.get("POSTGRES_DATABASE", "erp"),
				SSLMode:          env.get("POSTGRES_SSL_MODE", "disable"),
				MaxOpenConns:     env.getInt("POSTGRES_MAX_OPEN_CONNS", 25),
				MaxIdleConns:     env.getInt("POSTGRES_MAX_IDLE_CONNS", 25),
				ConnMaxLifetime:  time.Duration(env.getInt("POSTGRES_CONN_MAX_LIFETIME", 300)) * time.Second,
				ConnectTimeout:   env.getInt("POSTGRES_CONNECT_TIMEOUT", 10),
				StatementTimeout: time.Duration(env.getInt("POSTGRES_STATEMENT_TIMEOUT", 30)) * time.Second,
			},
		},
		JWT: JWTConfig{
			PublicKey: env.get("JWT_PUBLIC_KEY", ""),
			ClaimKey:  env.get("JWT_CLAIM_KEY", "claim"),
		},
		Cache: CacheConfig{
			Enabled:         env.getBool("CACHE_ENABLED", true),
			Backend:         env.get("CACHE_BACKEND", "memory"),
			TTL:             env.getDuration("CACHE_TTL", 5*time.Minute),
			Prefix:          env.get("CACHE_PREFIX", "listquery:"),
			MaxMemory:       env.getInt64("CACHE_MAX_MEMORY", 64*1024*1024),
			CleanupInterval: env.getDuration("CACHE_CLEANUP_INTERVAL", time.Minute),
			Redis: RedisConfig{
				Address:      env.get("REDIS_ADDRESS", "localhost:6379"),
				Password:     env.get("REDIS_PASSWORD", ""),
				Database:     env.getInt("REDIS_DATABASE", 0),
				PoolSize:     env.getInt("REDIS_POOL_SIZE", 10),
				MinIdleConns: env.getInt("REDIS_MIN_IDLE_CONNS", 2),
				MaxConnAge:   time.Duration(env.getInt("REDIS_MAX_CONN_AGE", 300)) * time.Second,
				Cluster: ClusterConfig{
					Enabled:   env.getBool("REDIS_CLUSTER_ENABLED", false),
					Addresses: env.getList("REDIS_CLUSTER_ADDRESSES"),
				},
			},
		},
		Query: QueryConfig{
			DefaultPageSize:     env.getInt("QUERY_DEFAULT_PAGE_SIZE", 50),
			MaxPageSize:         env.getInt("QUERY_MAX_PAGE_SIZE", 500),
			DefaultFacetLimit:   env.getInt("QUERY_DEFAULT_FACET_LIMIT", 100),
			MaxFacetLimit:       env.getInt("QUERY_MAX_FACET_LIMIT", 200),
			DefaultGroupByLimit: env.getInt("QUERY_DEFAULT_GROUP_BY_LIMIT", 10),
			MaxGroupByLimit:     env.getInt("QUERY_MAX_GROUP_BY_LIMIT", 50),
			WeekStart:           strings.ToLower(env.get("QUERY_WEEK_START", "monday")),
			Timezone:            env.get("QUERY_TIMEZONE", "UTC"),
			SlowThreshold:       env.getDuration("QUERY_SLOW_THRESHOLD", 2*time.Second),
			RateLimit:           env.getInt("QUERY_RATE_LIMIT", 0),
			RateLimitWindow:     env.getDuration("QUERY_RATE_LIMIT_WINDOW", time.Minute),
		},
		Schema: SchemaConfig{
			Path: env.get("SCHEMA_PATH", "schema.yaml"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("SERVER_PORT must be positive")
	}
	if c.Server.GRPCPort < 0 {
		return fmt.Errorf("GRPC_PORT must not be negative")
	}
	if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		return fmt.Errorf("CACHE_BACKEND must be memory or redis, got %q", c.Cache.Backend)
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive when caching is enabled")
	}

	q := c.Query
	if q.MaxPageSize <= 0 || q.DefaultPageSize <= 0 || q.DefaultPageSize > q.MaxPageSize {
		return fmt.Errorf("page size limits are inconsistent: default=%d max=%d", q.DefaultPageSize, q.MaxPageSize)
	}
	if q.MaxFacetLimit <= 0 || q.DefaultFacetLimit <= 0 || q.DefaultFacetLimit > q.MaxFacetLimit {
		return fmt.Errorf("facet limits are inconsistent: default=%d max=%d", q.DefaultFacetLimit, q.MaxFacetLimit)
	}
	if q.MaxGroupByLimit <= 0 || q.DefaultGroupByLimit <= 0 || q.DefaultGroupByLimit > q.MaxGroupByLimit {
		return fmt.Errorf("group-by limits are inconsistent: default=%d max=%d", q.DefaultGroupByLimit, q.MaxGroupByLimit)
	}
	if !contains([]string{"monday", "sunday", "saturday"}, q.WeekStart) {
		return fmt.Errorf("QUERY_WEEK_START must be monday, sunday or saturday, got %q", q.WeekStart)
	}
	if q.RateLimit < 0 || (q.RateLimit > 0 && q.RateLimitWindow <= 0) {
		return fmt.Errorf("QUERY_RATE_LIMIT must not be negative and needs a positive QUERY_RATE_LIMIT_WINDOW")
	}
	if _, err := time.LoadLocation(q.Timezone); err != nil {
		return fmt.Errorf("QUERY_TIMEZONE is invalid: %w", err)
	}
	return nil
}

// Location returns the configured query timezone, UTC when unresolvable
func (q QueryConfig) Location() *time.Location {
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FirstWeekday maps WeekStart onto time.Weekday
func (q QueryConfig) FirstWeekday() time.Weekday {
	switch q.WeekStart {
	case "sunday":
		return time.Sunday
	case "saturday":
		return time.Saturday
	default:
		return time.Monday
	}
}

type envReader struct {
	lookup func(string) (string, bool)
}

func (e envReader) get(key, defaultValue string) string {
	if value, ok := e.lookup(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func (e envReader) getInt(key string, defaultValue int) int {
	if value, ok := e.lookup(key); ok {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func (e envReader) getInt64(key string, defaultValue int64) int64 {
	if value, ok := e.lookup(key); ok {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func (e envReader) getBool(key string, defaultValue bool) bool {
	if value, ok := e.lookup(key); ok {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func (e envReader) getDuration(key string, defaultValue time.Duration) time.Duration {
	if value, ok := e.lookup(key); ok {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func (e envReader) getList(key string) []string {
	value, ok := e.lookup(key)
	if !ok || value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
