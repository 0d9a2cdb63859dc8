// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package interfaces

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// PostgreSQLConfig represents PostgreSQL specific configuration
type PostgreSQLConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	Database           string
	Schema             string // Optional search_path
	SSLMode            string
	ConnectTimeout     int
	MaxOpenConnections int
	MaxIdleConnections int
	MaxLifetime        int
	// StatementTimeout bounds every statement on the session, in milliseconds
	StatementTimeout int
	ApplicationName  string
	ReadOnly         bool
}

// Querier is the read-only surface the list engine needs from a connection.
// *sqlx.DB satisfies it; the engine never opens transactions.
type Querier interface {
	sqlx.QueryerContext
	PingContext(ctx context.Context) error
}
