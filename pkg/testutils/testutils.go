// Package testutils provides the connection strings integration tests use
// against a real MySQL source and Postgres target, following the teacher's
// convention of sourcing test credentials from the environment rather than
// hardcoding them.
package testutils

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLDSN returns the source DSN for integration tests, defaulting to a
// local MySQL instance with no password, matching common CI container setups.
func MySQLDSN() string {
	if dsn := os.Getenv("MYSQL_DSN"); dsn != "" {
		return dsn
	}
	return "root@tcp(127.0.0.1:3306)/test"
}

// PostgresDSN returns the target DSN for integration tests.
func PostgresDSN() string {
	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		return dsn
	}
	return "postgres://postgres@127.0.0.1:5432/test?sslmode=disable"
}

// RequireMySQL skips the test unless CHAMELEON_INTEGRATION is set, since
// these tests need a real source database.
func RequireMySQL(t *testing.T) *sql.DB {
	t.Helper()
	if os.Getenv("CHAMELEON_INTEGRATION") == "" {
		t.Skip("set CHAMELEON_INTEGRATION=1 to run tests against a real MySQL instance")
	}
	db, err := sql.Open("mysql", MySQLDSN())
	if err != nil {
		t.Fatalf("open mysql: %v", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		t.Fatalf("ping mysql: %v", err)
	}
	return db
}

// RunSQL executes a statement against the integration MySQL instance,
// failing the test on error.
func RunSQL(t *testing.T, db *sql.DB, stmt string) {
	t.Helper()
	if _, err := db.ExecContext(context.Background(), stmt); err != nil {
		t.Fatalf("exec %q: %v", stmt, err)
	}
}
