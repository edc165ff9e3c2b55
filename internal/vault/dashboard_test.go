package vault

import (
	"os"
	"strings"
	"testing"
	"time"
)

func newDashboardTestEnv(t *testing.T) (*Aggregator, *Store, *AuditLog) {
	t.Helper()
	clock := func() time.Time { return time.Date(2026, 8, 23, 10, 15, 0, 0, time.UTC) }
	store, err := NewStoreWithOptions(StoreOptions{Root: t.TempDir(), Clock: clock})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Init(); err != nil {
		t.Fatalf("init store: %v", err)
	}
	audit, err := NewAuditLogWithOptions(AuditLogOptions{Dir: store.LogsDir(), Clock: clock})
	if err != nil {
		t.Fatalf("new audit log: %v", err)
	}
	agg, err := NewAggregator(AggregatorOptions{Store: store, Audit: audit, Clock: clock})
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	return agg, store, audit
}

func TestAggregatorSnapshotCountsAndTail(t *testing.T) {
	agg, store, audit := newDashboardTestEnv(t)
	meta := Metadata{Type: KindEmail, Status: StatusPending}
	if err := store.WriteRecord(StageNeedsAction, "EMAIL_a_20260823_101500.md", meta, "# A"); err != nil {
		t.Fatalf("write record: %v", err)
	}
	if err := store.WriteRecord(StageNeedsAction, "EMAIL_b_20260823_101500.md", meta, "# B"); err != nil {
		t.Fatalf("write record: %v", err)
	}
	for i := 0; i < 7; i++ {
		if err := audit.Append("email_processed", InboxWatcherName, "entry", ResultSuccess); err != nil {
			t.Fatalf("append audit: %v", err)
		}
	}

	snap, err := agg.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Counts[StageNeedsAction] != 2 {
		t.Fatalf("expected 2 items in Needs_Action, got %d", snap.Counts[StageNeedsAction])
	}
	if snap.Counts[StageDone] != 0 {
		t.Fatalf("expected empty Done, got %d", snap.Counts[StageDone])
	}
	if len(snap.RecentLog) != defaultLogTail {
		t.Fatalf("expected %d recent entries, got %d", defaultLogTail, len(snap.RecentLog))
	}
	if snap.GeneratedAt != "2026-08-23T10:15:00Z" {
		t.Fatalf("unexpected generation time %q", snap.GeneratedAt)
	}
}

func TestAggregatorRefreshWritesDashboard(t *testing.T) {
	agg, store, audit := newDashboardTestEnv(t)
	meta := Metadata{Type: KindFileDrop, Status: StatusPending}
	if err := store.WriteRecord(StagePendingApproval, "FILE_a_20260823_101500.md", meta, "# A"); err != nil {
		t.Fatalf("write record: %v", err)
	}
	if err := audit.Append("file_processed", DropFolderWatcherName, "report.pdf (document, 1.0 KB)", ResultSuccess); err != nil {
		t.Fatalf("append audit: %v", err)
	}

	if err := agg.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	content, err := os.ReadFile(store.DashboardPath())
	if err != nil {
		t.Fatalf("read dashboard: %v", err)
	}
	text := string(content)
	if !strings.Contains(text, "# AI Employee Dashboard") {
		t.Fatalf("missing dashboard title:\n%s", text)
	}
	if !strings.Contains(text, "Updated: 2026-08-23 10:15:00 UTC") {
		t.Fatalf("missing update stamp:\n%s", text)
	}
	if !strings.Contains(text, "| Pending_Approval | 1 |") {
		t.Fatalf("missing pending approval count:\n%s", text)
	}
	if !strings.Contains(text, "- 10:15:00 [success] file_processed (file_watcher): report.pdf (document, 1.0 KB)") {
		t.Fatalf("missing recent activity line:\n%s", text)
	}

	// A second refresh replaces the artifact rather than appending to it.
	if err := agg.Refresh(); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	again, err := os.ReadFile(store.DashboardPath())
	if err != nil {
		t.Fatalf("read dashboard again: %v", err)
	}
	if string(again) != text {
		t.Fatalf("refresh is not idempotent under unchanged state:\n%s", string(again))
	}
}

func TestAggregatorRendersEmptyActivity(t *testing.T) {
	agg, store, _ := newDashboardTestEnv(t)

	if err := agg.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	content, err := os.ReadFile(store.DashboardPath())
	if err != nil {
		t.Fatalf("read dashboard: %v", err)
	}
	if !strings.Contains(string(content), "No activity recorded today.") {
		t.Fatalf("missing empty-activity message:\n%s", content)
	}
}
