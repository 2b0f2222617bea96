package sqlite

import (
	"database/sql"
	"testing"
)

// OpenTestDB opens a migrated in-memory store scoped to one test.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
