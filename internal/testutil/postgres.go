package testutil

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/gofrs/uuid"

	"github.com/constructa/listquery/internal/database/postgres"
	platformconfig "github.com/constructa/listquery/internal/platform/config"
)

// ShouldRunDatabaseTests checks if database tests should be executed.
func ShouldRunDatabaseTests() bool {
	return os.Getenv("RUN_DB_TESTS") == "1"
}

// IsolatedDB is a PostgreSQL schema owned by a single test. The schema is
// dropped when the test ends.
type IsolatedDB struct {
	Client *postgres.Client
	Schema string
}

// NewIsolatedDB creates a uniquely named schema and a client whose
// search_path points at it. The test is skipped unless RUN_DB_TESTS=1.
func NewIsolatedDB(t *testing.T) *IsolatedDB {
	t.Helper()

	if !ShouldRunDatabaseTests() {
		t.Skip("RUN_DB_TESTS not set, skipping database test")
	}

	cfg, err := platformconfig.LoadFromEnv()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	ctx := context.Background()

	uniqueSuffix := strings.ReplaceAll(uuid.Must(uuid.NewV4()).String(), "-", "")[:16]
	schemaName := fmt.Sprintf("test_%s_%s", SanitizeTestName(t.Name()), uniqueSuffix)

	dbCfg := postgres.ConfigFromPlatform(cfg.Database.Postgres)
	admin, err := postgres.NewClient(ctx, dbCfg)
	if err != nil {
		t.Skipf("PostgreSQL not available, skipping test: %v", err)
	}
	if _, err := admin.DB().ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA %q`, schemaName)); err != nil {
		admin.Close()
		t.Fatalf("Failed to create schema %s: %v", schemaName, err)
	}

	dbCfg.Schema = schemaName
	client, err := postgres.NewClient(ctx, dbCfg)
	if err != nil {
		admin.Close()
		t.Fatalf("Failed to connect to schema %s: %v", schemaName, err)
	}

	t.Cleanup(func() {
		client.Close()
		if _, err := admin.DB().ExecContext(context.Background(), fmt.Sprintf(`DROP SCHEMA IF EXISTS %q CASCADE`, schemaName)); err != nil {
			t.Logf("Failed to drop test schema %s: %v", schemaName, err)
		}
		admin.Close()
	})

	return &IsolatedDB{Client: client, Schema: schemaName}
}

// Exec runs each statement in order, failing the test on the first error.
func (d *IsolatedDB) Exec(t *testing.T, statements ...string) {
	t.Helper()
	for _, stmt := range statements {
		if _, err := d.Client.DB().ExecContext(context.Background(), stmt); err != nil {
			t.Fatalf("Failed to execute %q: %v", stmt, err)
		}
	}
}

var nonIdentChars = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

// SanitizeTestName sanitizes a test name for use as a database identifier
func SanitizeTestName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ToLower(nonIdentChars.ReplaceAllString(name, ""))

	// PostgreSQL identifiers are limited to 63 characters; reserve 22 for
	// the "test_" prefix and the "_" + 16 character suffix.
	const maxTestNameLength = 41
	if len(name) > maxTestNameLength {
		name = name[:maxTestNameLength]
	}

	return name
}
