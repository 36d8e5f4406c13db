// Package sqltest provides a database connection for tests.
package sqltest

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/stretchr/testify/require"

	buildsql "go.buildstats.org/infra/buildstats/go/sql"
	"go.buildstats.org/infra/go/sql/pool"
)

// connectionStringEnvVar names the env var that points the tests at a
// database. When unset a local default is tried, and tests are skipped if it
// is unreachable.
const connectionStringEnvVar = "BUILDSTATS_TEST_DB"

const defaultConnectionString = "postgresql://root@localhost:5432/buildstats_test?sslmode=disable"

// NewPostgresDBForTests returns a pool connected to the test database with
// the schema applied and all tables emptied. Tests are skipped when no
// database is reachable.
func NewPostgresDBForTests(ctx context.Context, t *testing.T) pool.Pool {
	t.Helper()
	connectionString := os.Getenv(connectionStringEnvVar)
	if connectionString == "" {
		connectionString = defaultConnectionString
	}
	cfg, err := pgxpool.ParseConfig(connectionString)
	require.NoError(t, err)
	cfg.ConnConfig.ConnectTimeout = 5 * time.Second
	db, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		t.Skipf("No test database reachable at %q: %s", connectionString, err)
	}
	if err := db.Ping(ctx); err != nil {
		t.Skipf("No test database reachable at %q: %s", connectionString, err)
	}
	_, err = db.Exec(ctx, buildsql.Schema)
	require.NoError(t, err)
	for _, table := range buildsql.PartitionedTables {
		_, err = db.Exec(ctx, fmt.Sprintf("DELETE FROM %s", table))
		require.NoError(t, err)
	}
	_, err = db.Exec(ctx, "DELETE FROM job_logs")
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}
