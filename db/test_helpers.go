package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/courier-cdc/courier/common"
)

// OpenTestStore opens a SQLite store in a temporary directory that is
// closed when the test ends
func OpenTestStore(t testing.TB) *Store {
	t.Helper()
	s, err := Open(Options{
		Driver:        DriverSQLite,
		DSN:           filepath.Join(t.TempDir(), "courier.db"),
		BusyTimeoutMS: 5000,
		MaxOpenConns:  4,
	})
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// MustInsertData appends a change and fails the test on error
func MustInsertData(t testing.TB, s *Store, d *common.Data) int64 {
	t.Helper()
	id, err := s.InsertData(context.Background(), s.Writer(), d)
	if err != nil {
		t.Fatalf("Failed to insert data: %v", err)
	}
	return id
}

// countRows returns the row count of a table
func countRows(t testing.TB, s *Store, table string) int {
	t.Helper()
	var n int
	if err := s.readDB.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("Failed to count %s: %v", table, err)
	}
	return n
}
