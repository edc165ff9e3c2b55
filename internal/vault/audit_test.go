package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestAudit(t *testing.T, clock func() time.Time) *AuditLog {
	t.Helper()
	audit, err := NewAuditLogWithOptions(AuditLogOptions{Dir: t.TempDir(), Clock: clock})
	if err != nil {
		t.Fatalf("new audit log: %v", err)
	}
	return audit
}

func TestAuditAppendAndTailPreservesOrder(t *testing.T) {
	clock := func() time.Time { return time.Date(2026, 8, 23, 10, 15, 0, 0, time.UTC) }
	audit := newTestAudit(t, clock)

	for i := 0; i < 7; i++ {
		if err := audit.Append("file_processed", "file_watcher", fmt.Sprintf("file-%d", i), ResultSuccess); err != nil {
			t.Fatalf("append entry %d: %v", i, err)
		}
	}

	entries, err := audit.Tail(5)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}
	if entries[0].Details != "file-2" || entries[4].Details != "file-6" {
		t.Fatalf("tail out of order: first=%s last=%s", entries[0].Details, entries[4].Details)
	}
	if entries[0].ActionType != "file_processed" || entries[0].Actor != "file_watcher" {
		t.Fatalf("unexpected entry fields: %+v", entries[0])
	}

	if got, err := audit.Tail(0); err != nil || got != nil {
		t.Fatalf("expected empty tail for n=0, got %v err=%v", got, err)
	}
}

func TestAuditWritesOneFilePerUTCDay(t *testing.T) {
	clock := func() time.Time { return time.Date(2026, 8, 23, 23, 59, 0, 0, time.UTC) }
	audit := newTestAudit(t, clock)
	if err := audit.Append("system_start", "system", "up", ResultSuccess); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := os.Stat(filepath.Join(audit.dir, "2026-08-23.json")); err != nil {
		t.Fatalf("expected day file for 2026-08-23: %v", err)
	}
}

func TestAuditTailMissingDayIsEmpty(t *testing.T) {
	audit := newTestAudit(t, nil)
	entries, err := audit.Tail(5)
	if err != nil {
		t.Fatalf("tail of missing day: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}

func TestAuditTailSkipsTornLines(t *testing.T) {
	clock := func() time.Time { return time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC) }
	audit := newTestAudit(t, clock)
	if err := audit.Append("file_processed", "file_watcher", "ok-1", ResultSuccess); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := audit.Append("file_processed", "file_watcher", "ok-2", ResultSuccess); err != nil {
		t.Fatalf("append: %v", err)
	}

	path := audit.dayPath(clock())
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open day file: %v", err)
	}
	if _, err := f.WriteString("{\"timestamp\": \"torn"); err != nil {
		t.Fatalf("write torn line: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close day file: %v", err)
	}

	entries, err := audit.Tail(10)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected the 2 intact entries, got %d", len(entries))
	}
}

func TestAuditSubscribeReceivesLiveEntries(t *testing.T) {
	audit := newTestAudit(t, nil)
	feed, cancel := audit.Subscribe(4)

	if err := audit.Append("post_published", "approval_watcher", "hello", ResultSuccess); err != nil {
		t.Fatalf("append: %v", err)
	}
	select {
	case entry := <-feed:
		if entry.ActionType != "post_published" || entry.Details != "hello" {
			t.Fatalf("unexpected feed entry: %+v", entry)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no feed entry within 2s")
	}

	cancel()
	if err := audit.Append("post_published", "approval_watcher", "after cancel", ResultSuccess); err != nil {
		t.Fatalf("append after cancel: %v", err)
	}
	if _, ok := <-feed; ok {
		// Drain anything buffered before cancel; the channel must end up
		// closed.
		for range feed {
		}
	}
}
