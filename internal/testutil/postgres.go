package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/quarry0/quarry/db"
)

// TestDBContainer wraps an isolated PostgreSQL instance with the
// pgvector extension and the schema already migrated.
type TestDBContainer struct {
	Pool    *pgxpool.Pool
	ConnStr string
}

// StartPostgres starts a pgvector-enabled PostgreSQL container with an
// empty database and returns its connection URL. Tests are skipped when
// no container runtime is available. Most tests want SetupTestDB, which
// also migrates the schema; this exists for tests exercising migration
// itself.
func StartPostgres(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx := context.Background()

	// testcontainers panics, rather than returning an error, when no
	// container runtime can be found at all; fold that into the error
	// path so the documented skip still happens.
	pgContainer, err := func() (c *postgres.PostgresContainer, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("container runtime unavailable: %v", r)
			}
		}()
		return postgres.Run(ctx,
			"pgvector/pgvector:pg16",
			postgres.WithDatabase("quarry_test"),
			postgres.WithUsername("quarry_test"),
			postgres.WithPassword("test_password"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
	}()
	if err != nil {
		t.Skipf("skipping, could not start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		_ = pgContainer.Terminate(context.Background())
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}
	return connStr
}

// SetupTestDB starts a pgvector-enabled PostgreSQL container, runs the
// embedded migrations, and registers cleanup on t. Tests are skipped
// when no container runtime is available.
func SetupTestDB(t *testing.T) *TestDBContainer {
	t.Helper()

	ctx := context.Background()
	connStr := StartPostgres(t)

	if err := db.Migrate(connStr); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("creating connection pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("pinging database: %v", err)
	}

	return &TestDBContainer{
		Pool:    pool,
		ConnStr: connStr,
	}
}
