package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var postgresIntegrationCounter uint64

func TestPostgresIntegrationStateBackendRoundTrip(t *testing.T) {
	dsn := postgresIntegrationDSN(t)

	backend, err := NewPostgresStateBackend(dsn, "it")
	if err != nil {
		t.Fatalf("new postgres state backend: %v", err)
	}
	backend.tableName = postgresIntegrationTableName("annosync_state_it")
	t.Cleanup(func() {
		_ = backend.Close()
		postgresIntegrationDropTable(t, dsn, backend.tableName)
	})

	state, err := backend.Load()
	if err != nil {
		t.Fatalf("initial load failed: %v", err)
	}
	if state != nil {
		t.Fatalf("expected nil initial state, got %+v", state)
	}

	saved := NewWorkdirState()
	saved.KeyMap.Objects["obj_a"] = 10
	saved.KeyMap.Figures["fig_a"] = 20
	if err := backend.Save(saved); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := backend.Load()
	if err != nil {
		t.Fatalf("load after save failed: %v", err)
	}
	if loaded == nil || loaded.KeyMap.Objects["obj_a"] != 10 {
		t.Fatalf("unexpected loaded state: %+v", loaded)
	}

	loaded.KeyMap.Objects["obj_b"] = 11
	if err := backend.Save(loaded); err != nil {
		t.Fatalf("second save failed: %v", err)
	}
	reloaded, err := backend.Load()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded == nil || reloaded.KeyMap.Objects["obj_b"] != 11 {
		t.Fatalf("expected upserted state, got %+v", reloaded)
	}
}

func TestPostgresIntegrationStateKeysAreIsolated(t *testing.T) {
	dsn := postgresIntegrationDSN(t)
	tableName := postgresIntegrationTableName("annosync_state_iso")

	first, err := NewPostgresStateBackend(dsn, "workdir_a")
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	first.tableName = tableName
	second, err := NewPostgresStateBackend(dsn, "workdir_b")
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	second.tableName = tableName
	t.Cleanup(func() {
		_ = first.Close()
		_ = second.Close()
		postgresIntegrationDropTable(t, dsn, tableName)
	})

	stateA := NewWorkdirState()
	stateA.KeyMap.Tags["tag_a"] = 1
	if err := first.Save(stateA); err != nil {
		t.Fatalf("save workdir_a failed: %v", err)
	}

	stateB, err := second.Load()
	if err != nil {
		t.Fatalf("load workdir_b failed: %v", err)
	}
	if stateB != nil {
		t.Fatalf("expected workdir_b to be empty, got %+v", stateB)
	}
}

func postgresIntegrationDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("ANNOSYNC_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set ANNOSYNC_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	return dsn
}

func postgresIntegrationTableName(prefix string) string {
	n := atomic.AddUint64(&postgresIntegrationCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), n)
}

func postgresIntegrationDropTable(t *testing.T, dsn, tableName string) {
	t.Helper()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Logf("drop table open failed: %v", err)
		return
	}
	defer func() { _ = db.Close() }()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+postgresQuoteIdentifier(tableName)); err != nil {
		t.Logf("drop table failed: %v", err)
	}
}
