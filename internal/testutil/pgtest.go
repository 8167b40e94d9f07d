// Package testutil provides shared test infrastructure for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mbd888/walletrisk/migrations"
)

// PGTest returns a migrated database for an integration test.
//
// It connects to POSTGRES_URL when set; otherwise it starts a throwaway
// postgres:15-alpine container. The test is skipped when neither is
// available. Application tables are truncated when the test ends.
func PGTest(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	dsn := os.Getenv("POSTGRES_URL")
	if dsn == "" {
		dsn = startContainer(t)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("pgtest: open database: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: connect to database: %v", err)
	}
	if err := migrations.Up(ctx, db); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: run migrations: %v", err)
	}

	t.Cleanup(func() {
		truncateAll(ctx, db)
		_ = db.Close()
	})
	return db
}

func startContainer(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("POSTGRES_URL not set and -short given, skipping integration test")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("walletrisk"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("pgtest: start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("pgtest: terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("pgtest: connection string: %v", err)
	}
	return dsn
}

// truncateAll empties application tables, leaving goose's version table.
func truncateAll(ctx context.Context, db *sql.DB) {
	rows, err := db.QueryContext(ctx, `
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'public' AND tablename <> 'goose_db_version'
	`)
	if err != nil {
		return
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			tables = append(tables, name)
		}
	}
	if len(tables) > 0 {
		// Table names come from pg_tables, not user input.
		_, _ = db.ExecContext(ctx, "TRUNCATE "+strings.Join(tables, ", ")+" CASCADE") // #nosec G202
	}
}
