package testfixtures

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/example/dbupdater/internal/database"
)

// NewSQLiteDB opens a file-backed SQLite database in a temporary directory.
// The pool is limited to one connection, so callers must not query the
// *sql.DB while one of its transactions is open. The database is closed
// through tb.Cleanup.
func NewSQLiteDB(tb testing.TB) *sql.DB {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "dbupdater.db")
	db, err := database.Open(context.Background(), database.SQLiteTestConfig(path))
	if err != nil {
		tb.Fatalf("failed to open sqlite database: %v", err)
	}
	tb.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

// CountRows returns the number of rows in table.
func CountRows(tb testing.TB, conn database.Conn, table string) int {
	tb.Helper()

	var n int
	row := conn.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM "+database.SQLite.QuoteIdent(table))
	if err := row.Scan(&n); err != nil {
		tb.Fatalf("count rows in %s: %v", table, err)
	}
	return n
}

// TableExists reports whether table is present in the SQLite catalog.
func TableExists(tb testing.TB, conn database.Conn, table string) bool {
	tb.Helper()

	var n int
	row := conn.QueryRowContext(context.Background(), database.SQLite.TableExistsQuery(), table)
	if err := row.Scan(&n); err != nil {
		tb.Fatalf("check table %s: %v", table, err)
	}
	return n > 0
}
