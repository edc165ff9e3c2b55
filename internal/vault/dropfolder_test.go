package vault

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newDropFolderTestEnv(t *testing.T, backend StateBackend, capacity int) (*DropFolderWatcher, *Runner, *Store, *AuditLog) {
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
	tracker, err := NewTracker(backend)
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	watcher, err := NewDropFolderWatcher(DropFolderWatcherOptions{
		Store:         store,
		Audit:         audit,
		Clock:         clock,
		QueueCapacity: capacity,
	})
	if err != nil {
		t.Fatalf("new drop folder watcher: %v", err)
	}
	return watcher, &Runner{Tracker: tracker, Audit: audit}, store, audit
}

func dropFile(t *testing.T, store *Store, name, content string) {
	t.Helper()
	path := filepath.Join(store.Dir(StageDropFolder), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write drop file %s: %v", name, err)
	}
}

func TestDropFolderCycleMaterializesTaskAndPayload(t *testing.T) {
	watcher, runner, store, audit := newDropFolderTestEnv(t, nil, 0)
	dropFile(t, store, "Quarterly Report.pdf", "pdf-bytes")

	if err := watcher.Reconcile(); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if err := runner.Cycle(context.Background(), watcher); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	records, err := store.ListRecords(StageNeedsAction)
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 task record, got %d", len(records))
	}
	rec := records[0]
	if !strings.HasPrefix(rec.Name, PrefixFileDrop+"_") || !strings.HasSuffix(rec.Name, "_20260823_101500.md") {
		t.Fatalf("unexpected record name %q", rec.Name)
	}
	if rec.Meta.Type != KindFileDrop || rec.Meta.Status != StatusPending || rec.Meta.Priority != PriorityMedium {
		t.Fatalf("unexpected record metadata: %+v", rec.Meta)
	}
	if rec.Meta.OriginalName != "Quarterly Report.pdf" || rec.Meta.FileType != "document" {
		t.Fatalf("unexpected file metadata: %+v", rec.Meta)
	}
	if rec.Meta.SizeBytes != int64(len("pdf-bytes")) {
		t.Fatalf("unexpected size: %d", rec.Meta.SizeBytes)
	}
	if !strings.Contains(rec.Body, "Quarterly Report.pdf") {
		t.Fatalf("body does not mention the original file:\n%s", rec.Body)
	}

	payload, err := os.ReadFile(filepath.Join(store.Dir(StageNeedsAction), rec.Meta.StoredAs))
	if err != nil {
		t.Fatalf("read payload copy %s: %v", rec.Meta.StoredAs, err)
	}
	if string(payload) != "pdf-bytes" {
		t.Fatalf("payload copy corrupted: %q", payload)
	}

	// The original stays put; dedup state keeps it from reprocessing.
	if _, err := os.Stat(filepath.Join(store.Dir(StageDropFolder), "Quarterly Report.pdf")); err != nil {
		t.Fatalf("original file should remain in the drop folder: %v", err)
	}

	processed := auditEntriesByAction(t, audit, "file_processed")
	if len(processed) != 1 || processed[0].Result != ResultSuccess {
		t.Fatalf("expected one file_processed success entry, got %+v", processed)
	}
	if !strings.Contains(processed[0].Details, "document") {
		t.Fatalf("audit details missing category: %q", processed[0].Details)
	}
}

func TestDropFolderCycleIsIdempotent(t *testing.T) {
	watcher, runner, store, _ := newDropFolderTestEnv(t, nil, 0)
	dropFile(t, store, "notes.txt", "hello")

	for i := 0; i < 2; i++ {
		if err := watcher.Reconcile(); err != nil {
			t.Fatalf("reconcile %d: %v", i, err)
		}
		if err := runner.Cycle(context.Background(), watcher); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}

	count, err := store.CountStage(StageNeedsAction)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	// One task record plus one payload copy, not doubled.
	if count != 2 {
		t.Fatalf("expected 2 entries after repeated cycles, got %d", count)
	}
}

func TestDropFolderDetectDropsVanishedEntries(t *testing.T) {
	watcher, runner, store, _ := newDropFolderTestEnv(t, nil, 0)
	watcher.enqueue("ghost.txt")

	if err := runner.Cycle(context.Background(), watcher); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	count, err := store.CountStage(StageNeedsAction)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("vanished file must not produce a record, got %d entries", count)
	}
}

func TestDropFolderDedupSurvivesRestart(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "vault_state.json")
	backend, err := NewJSONFileStateBackend(statePath)
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	watcher, runner, store, _ := newDropFolderTestEnv(t, backend, 0)
	dropFile(t, store, "invoice.csv", "a,b,c")

	if err := watcher.Reconcile(); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if err := runner.Cycle(context.Background(), watcher); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	before, err := store.CountStage(StageNeedsAction)
	if err != nil {
		t.Fatalf("count: %v", err)
	}

	// Simulate a restart: fresh tracker and watcher over the same state
	// file and store.
	reopened, err := NewJSONFileStateBackend(statePath)
	if err != nil {
		t.Fatalf("reopen backend: %v", err)
	}
	restartTracker, err := NewTracker(reopened)
	if err != nil {
		t.Fatalf("tracker after restart: %v", err)
	}
	restartRunner := &Runner{Tracker: restartTracker, Audit: runner.Audit}
	restarted, err := NewDropFolderWatcher(DropFolderWatcherOptions{Store: store, Audit: runner.Audit})
	if err != nil {
		t.Fatalf("watcher after restart: %v", err)
	}
	if err := restarted.Reconcile(); err != nil {
		t.Fatalf("reconcile after restart: %v", err)
	}
	if err := restartRunner.Cycle(context.Background(), restarted); err != nil {
		t.Fatalf("cycle after restart: %v", err)
	}

	after, err := store.CountStage(StageNeedsAction)
	if err != nil {
		t.Fatalf("count after restart: %v", err)
	}
	if after != before {
		t.Fatalf("restart reprocessed the file: %d entries before, %d after", before, after)
	}
}

func TestDropFolderQueueOverflowDefersNotification(t *testing.T) {
	watcher, _, store, _ := newDropFolderTestEnv(t, nil, 1)
	dropFile(t, store, "a.txt", "a")
	dropFile(t, store, "b.txt", "b")

	watcher.enqueue("a.txt")
	watcher.enqueue("b.txt")

	events, err := watcher.Detect(context.Background())
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(events) != 1 || events[0].Key != "a.txt" {
		t.Fatalf("expected only the first queued file, got %+v", events)
	}
}
