// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	dbi "github.com/constructa/listquery/internal/database/interfaces"
	platformconfig "github.com/constructa/listquery/internal/platform/config"
)

// ApplicationName tags list engine sessions in pg_stat_activity
const ApplicationName = "listquery"

// Client holds the pooled read-only connection the list engine queries through
type Client struct {
	db     *sqlx.DB
	config *dbi.PostgreSQLConfig
}

// ConfigFromPlatform maps platform settings onto a read-only session config
func ConfigFromPlatform(cfg platformconfig.PostgreSQLConfig) *dbi.PostgreSQLConfig {
	return &dbi.PostgreSQLConfig{
		Host:               cfg.Host,
		Port:               cfg.Port,
		Username:           cfg.Username,
		Password:           cfg.Password,
		Database:           cfg.Database,
		SSLMode:            cfg.SSLMode,
		ConnectTimeout:     cfg.ConnectTimeout,
		MaxOpenConnections: cfg.MaxOpenConns,
		MaxIdleConnections: cfg.MaxIdleConns,
		MaxLifetime:        int(cfg.ConnMaxLifetime.Seconds()),
		StatementTimeout:   int(cfg.StatementTimeout.Milliseconds()),
		ApplicationName:    ApplicationName,
		ReadOnly:           true,
	}
}

// NewClient opens the pool and verifies it with a ping
func NewClient(ctx context.Context, config *dbi.PostgreSQLConfig) (*Client, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn(config))
	if err != nil {
		return nil, fmt.Errorf("connect postgres %s:%d/%s: %w", config.Host, config.Port, config.Database, err)
	}
	applyPool(db, config)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Client{db: db, config: config}, nil
}

// NewClientFromDB wraps an existing connection, mostly for tests
func NewClientFromDB(db *sqlx.DB) *Client {
	return &Client{db: db}
}

func applyPool(db *sqlx.DB, config *dbi.PostgreSQLConfig) {
	if config.MaxOpenConnections > 0 {
		db.SetMaxOpenConns(config.MaxOpenConnections)
	}
	if config.MaxIdleConnections > 0 {
		db.SetMaxIdleConns(config.MaxIdleConnections)
	}
	if config.MaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(config.MaxLifetime) * time.Second)
	}
}

// dsn renders the lib/pq key=value form. Session settings travel in
// the options parameter so every pooled connection starts with them.
func dsn(config *dbi.PostgreSQLConfig) string {
	sslMode := config.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	kv := []string{
		"host=" + config.Host,
		fmt.Sprintf("port=%d", config.Port),
		"dbname=" + config.Database,
	}
	if config.Username != "" {
		kv = append(kv, "user="+quote(config.Username))
	}
	if config.Password != "" {
		kv = append(kv, "password="+quote(config.Password))
	}
	kv = append(kv, "sslmode="+sslMode)
	if config.ConnectTimeout > 0 {
		kv = append(kv, fmt.Sprintf("connect_timeout=%d", config.ConnectTimeout))
	}
	if config.ApplicationName != "" {
		kv = append(kv, "application_name="+quote(config.ApplicationName))
	}

	var opts []string
	if config.Schema != "" {
		opts = append(opts, "-c search_path="+config.Schema)
	}
	if config.StatementTimeout > 0 {
		opts = append(opts, fmt.Sprintf("-c statement_timeout=%d", config.StatementTimeout))
	}
	if config.ReadOnly {
		opts = append(opts, "-c default_transaction_read_only=on")
	}
	if len(opts) > 0 {
		kv = append(kv, "options="+quote(strings.Join(opts, " ")))
	}
	return strings.Join(kv, " ")
}

// quote wraps a value for the key=value form when it needs it
func quote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// DB returns the underlying *sqlx.DB connection
func (c *Client) DB() *sqlx.DB {
	return c.db
}

// Querier returns the read surface used by repositories
func (c *Client) Querier() dbi.Querier {
	return c.db
}

// HealthCheck pings the pool
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Stats reports pool usage for the health endpoint
func (c *Client) Stats() map[string]interface{} {
	s := c.db.Stats()
	return map[string]interface{}{
		"open_connections": s.OpenConnections,
		"in_use":           s.InUse,
		"idle":             s.Idle,
		"wait_count":       s.WaitCount,
		"wait_duration":    s.WaitDuration.String(),
	}
}

// Close closes the pool
func (c *Client) Close() error {
	return c.db.Close()
}
