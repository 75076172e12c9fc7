//go:build integration

package storage

import (
	"context"
	"os"
	"testing"
	"time"
)

// Run with: BEACON_TEST_POSTGRES_DSN=postgres://... go test -tags integration ./internal/storage
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("BEACON_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("BEACON_TEST_POSTGRES_DSN not set")
	}

	runStoreSuite(t, func(t *testing.T) Store {
		store, err := NewPostgresStore(context.Background(), PostgresOptions{
			DSN:            dsn,
			ConnectTimeout: 5 * time.Second,
		}, testLogger(t))
		if err != nil {
			t.Skipf("PostgreSQL not available: %v", err)
		}
		if _, err := store.pool.Exec(context.Background(), `TRUNCATE monitors, check_results RESTART IDENTITY`); err != nil {
			t.Fatalf("failed to reset tables: %v", err)
		}
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}
