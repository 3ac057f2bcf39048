package testutil

import (
	"testing"

	"travellog/internal/database"
	"travellog/internal/travellog"
)

// NewTestStore creates a new in-memory record store with migrations applied.
// The store is automatically closed when the test completes.
func NewTestStore(t *testing.T, policy travellog.InsertPolicy) *database.SQLiteStore {
	t.Helper()

	store, err := database.NewSQLiteStore(":memory:", policy)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}
