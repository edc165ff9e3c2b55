package vault

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

	backend, err := NewPostgresStateBackend(dsn)
	if err != nil {
		t.Fatalf("new postgres state backend: %v", err)
	}
	pg, ok := backend.(*PostgresStateBackend)
	if !ok {
		t.Fatalf("expected *PostgresStateBackend, got %T", backend)
	}
	pg.tableName = postgresIntegrationTableName("vault_state_it")
	t.Cleanup(func() {
		_ = pg.Close()
		postgresIntegrationDropTable(t, dsn, pg.tableName)
	})

	initial, err := backend.Load()
	if err != nil {
		t.Fatalf("initial load failed: %v", err)
	}
	if initial == nil || initial.Processed == nil || len(initial.Processed) != 0 {
		t.Fatalf("expected empty initial state, got %+v", initial)
	}

	saved := &WatcherState{Processed: map[string][]string{
		InboxWatcherName:      {"msg-1", "msg-2"},
		DropFolderWatcherName: {"invoice.pdf"},
	}}
	if err := backend.Save(saved); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := backend.Load()
	if err != nil {
		t.Fatalf("load after save failed: %v", err)
	}
	if got := loaded.Processed[InboxWatcherName]; len(got) != 2 || got[0] != "msg-1" || got[1] != "msg-2" {
		t.Fatalf("unexpected inbox keys after reload: %v", got)
	}

	loaded.Processed[InboxWatcherName] = append(loaded.Processed[InboxWatcherName], "msg-3")
	if err := backend.Save(loaded); err != nil {
		t.Fatalf("second save failed: %v", err)
	}
	reloaded, err := backend.Load()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if got := reloaded.Processed[InboxWatcherName]; len(got) != 3 || got[2] != "msg-3" {
		t.Fatalf("expected the new key after the second save, got %v", got)
	}
}

func TestPostgresIntegrationTrackerPersistsAcrossRestart(t *testing.T) {
	dsn := postgresIntegrationDSN(t)
	tableName := postgresIntegrationTableName("vault_tracker_it")

	backend, err := NewPostgresStateBackend(dsn)
	if err != nil {
		t.Fatalf("new postgres state backend: %v", err)
	}
	first, ok := backend.(*PostgresStateBackend)
	if !ok {
		t.Fatalf("expected *PostgresStateBackend, got %T", backend)
	}
	first.tableName = tableName
	t.Cleanup(func() {
		_ = first.Close()
		postgresIntegrationDropTable(t, dsn, tableName)
	})

	tracker, err := NewTracker(backend)
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	tracker.Mark(InboxWatcherName, "msg-a")
	if err := tracker.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close first backend failed: %v", err)
	}

	reopenedRaw, err := NewPostgresStateBackend(dsn)
	if err != nil {
		t.Fatalf("reopen postgres state backend: %v", err)
	}
	reopened, ok := reopenedRaw.(*PostgresStateBackend)
	if !ok {
		t.Fatalf("expected *PostgresStateBackend on reopen, got %T", reopenedRaw)
	}
	reopened.tableName = tableName
	t.Cleanup(func() { _ = reopened.Close() })

	restarted, err := NewTracker(reopenedRaw)
	if err != nil {
		t.Fatalf("tracker after restart: %v", err)
	}
	if !restarted.Seen(InboxWatcherName, "msg-a") {
		t.Fatal("expected marked key to survive a restart")
	}
	if restarted.Seen(InboxWatcherName, "msg-b") {
		t.Fatal("restarted tracker invented a key")
	}
}

func postgresIntegrationDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("VAULT_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set VAULT_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	return dsn
}

func postgresIntegrationTableName(prefix string) string {
	n := atomic.AddUint64(&postgresIntegrationCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), n)
}

func postgresIntegrationDropTable(t *testing.T, dsn, tableName string) {
	t.Helper()
	if strings.TrimSpace(dsn) == "" || strings.TrimSpace(tableName) == "" {
		return
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open postgres for cleanup failed: %v", err)
	}
	defer db.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	query := fmt.Sprintf("DROP TABLE IF EXISTS %s", postgresQuoteIdentifier(tableName))
	if _, err := db.ExecContext(ctx, query); err != nil {
		t.Fatalf("drop cleanup table %q failed: %v", tableName, err)
	}
}
